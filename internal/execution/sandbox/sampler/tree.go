package sampler

import (
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/procfs"
)

// Member is one process that belongs to a Tree.
type Member struct {
	PID    int
	PPID   int
	Zombie bool

	stat procfs.ProcStat
}

// Tree tracks the processes of one sandbox run by scanning /proc. A process belongs to
// the tree when it is the root, shares the root's process group or session, descends from
// a member, or was a member on an earlier scan. Orphans that were reparented to Reaper
// (or init) are also members while their environment still carries Marker.
type Tree struct {
	fs     procfs.FS
	root   int
	reaper int
	marker string

	mu      sync.Mutex
	members map[int]uint64 // pid -> start time, to survive pid reuse
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithReaper names the subreaper that orphaned members are reparented to.
func WithReaper(pid int) TreeOption {
	return func(t *Tree) { t.reaper = pid }
}

// WithMarker sets the KEY=VALUE environment entry that identifies orphaned members.
func WithMarker(kv string) TreeOption {
	return func(t *Tree) { t.marker = kv }
}

// NewTree creates a tracker rooted at pid. An empty mountPoint means /proc.
func NewTree(mountPoint string, root int, opts ...TreeOption) (*Tree, error) {
	if root <= 0 {
		return nil, fmt.Errorf("invalid root process %d", root)
	}
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	t := &Tree{fs: fs, root: root, reaper: -1, members: make(map[int]uint64)}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Root returns the pid the tree was created for.
func (t *Tree) Root() int { return t.root }

// Scan refreshes membership and returns the current members, zombies included.
func (t *Tree) Scan() ([]Member, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stats := make(map[int]procfs.ProcStat, len(procs))
	children := make(map[int][]int)
	var queue []int
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			// exited between listing and reading
			continue
		}
		stats[stat.PID] = stat
		children[stat.PPID] = append(children[stat.PPID], stat.PID)
		if t.isSeed(proc, stat) {
			queue = append(queue, stat.PID)
		}
	}

	next := make(map[int]uint64, len(queue))
	for len(queue) > 0 {
		pid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, seen := next[pid]; seen || pid == t.reaper {
			continue
		}
		next[pid] = stats[pid].Starttime
		queue = append(queue, children[pid]...)
	}
	t.members = next

	out := make([]Member, 0, len(next))
	for pid := range next {
		stat := stats[pid]
		out = append(out, Member{PID: pid, PPID: stat.PPID, Zombie: stat.State == "Z", stat: stat})
	}
	return out, nil
}

func (t *Tree) isSeed(proc procfs.Proc, stat procfs.ProcStat) bool {
	if stat.PID == t.reaper {
		return false
	}
	if stat.PID == t.root || stat.PGRP == t.root || stat.Session == t.root {
		return true
	}
	if start, ok := t.members[stat.PID]; ok && start == stat.Starttime {
		return true
	}
	if t.marker != "" && (stat.PPID == t.reaper || stat.PPID == 1) {
		return HasEnv(proc, t.marker)
	}
	return false
}

// HasEnv reports whether the process was started with the KEY=VALUE entry kv.
func HasEnv(proc procfs.Proc, kv string) bool {
	env, err := proc.Environ()
	if err != nil {
		return false
	}
	return slices.Contains(env, kv)
}
