package sampler

import (
	"time"
)

// ProcFS samples every live member of a process Tree.
type ProcFS struct {
	tree *Tree
}

// NewProcFS creates a sampler for the processes rooted at root. An empty mountPoint means /proc.
func NewProcFS(mountPoint string, root int, opts ...TreeOption) (*ProcFS, error) {
	tree, err := NewTree(mountPoint, root, opts...)
	if err != nil {
		return nil, err
	}
	return &ProcFS{tree: tree}, nil
}

// Tree returns the membership tracker behind the sampler.
func (p *ProcFS) Tree() *Tree { return p.tree }

// Sample implements Sampler.
func (p *ProcFS) Sample() (Sample, error) {
	members, err := p.tree.Scan()
	if err != nil {
		return Sample{}, err
	}
	var out Sample
	var cpuSeconds float64
	for _, m := range members {
		if m.Zombie {
			continue
		}
		out.Processes++
		out.RSSBytes += int64(m.stat.ResidentMemory())
		cpuSeconds += m.stat.CPUTime()
	}
	if out.Processes == 0 {
		return Sample{}, ErrNoProcesses
	}
	out.CPUTime = time.Duration(cpuSeconds * float64(time.Second))
	return out, nil
}
