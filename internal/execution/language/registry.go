package language

import (
	"sort"
	"strings"
	"sync"

	appErr "codeexec/pkg/errors"
)

// Registry maps language ids and aliases to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	aliases   map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		aliases:   make(map[string]string),
	}
}

// NewDefaultRegistry registers the built-in languages. An override with the id of a
// built-in replaces it; other overrides are added.
func NewDefaultRegistry(overrides []LanguageSpec) (*Registry, error) {
	specs := DefaultSpecs()
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.ID] = i
	}
	for _, o := range overrides {
		if i, ok := index[normalize(o.ID)]; ok {
			specs[i] = o
			continue
		}
		index[normalize(o.ID)] = len(specs)
		specs = append(specs, o)
	}

	r := NewRegistry()
	for _, s := range specs {
		ex, err := NewExecutor(s)
		if err != nil {
			return nil, err
		}
		if err := r.Register(ex); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an executor. Duplicate ids or aliases are rejected.
func (r *Registry) Register(e Executor) error {
	id := normalize(e.ID())
	if id == "" {
		return appErr.ValidationError("language.id", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(id) {
		return appErr.Newf(appErr.ValidationFailed, "language %q already registered", id)
	}
	aliases := make([]string, 0, len(e.Spec().Aliases))
	for _, a := range e.Spec().Aliases {
		a = normalize(a)
		if a == "" || a == id {
			continue
		}
		if r.taken(a) {
			return appErr.Newf(appErr.ValidationFailed, "language alias %q already registered", a)
		}
		aliases = append(aliases, a)
	}
	r.executors[id] = e
	for _, a := range aliases {
		r.aliases[a] = id
	}
	return nil
}

func (r *Registry) taken(name string) bool {
	_, isID := r.executors[name]
	_, isAlias := r.aliases[name]
	return isID || isAlias
}

// Lookup resolves an id or alias.
func (r *Registry) Lookup(id string) (Executor, bool) {
	id = normalize(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[id]; ok {
		id = target
	}
	e, ok := r.executors[id]
	return e, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Specs returns the registered specs sorted by id.
func (r *Registry) Specs() []LanguageSpec {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]LanguageSpec, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.executors[id]; ok {
			specs = append(specs, e.Spec())
		}
	}
	return specs
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
