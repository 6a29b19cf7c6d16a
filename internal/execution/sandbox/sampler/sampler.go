// Package sampler reads live resource usage of a sandboxed process tree.
package sampler

import (
	"errors"
	"time"
)

// ErrNoProcesses is returned when the sampled group has no live members.
var ErrNoProcesses = errors.New("no live processes in group")

// Sample is one observation of a process tree.
type Sample struct {
	RSSBytes  int64
	Processes int
	CPUTime   time.Duration
}

// Sampler observes the resource usage of one process tree.
type Sampler interface {
	Sample() (Sample, error)
}

// DiskMeter reports bytes used under a directory.
type DiskMeter interface {
	Usage() (int64, error)
}

// Fallback uses Primary and switches to Secondary for samples Primary cannot produce.
type Fallback struct {
	Primary   Sampler
	Secondary Sampler
}

// Sample implements Sampler.
func (f Fallback) Sample() (Sample, error) {
	if f.Primary != nil {
		if s, err := f.Primary.Sample(); err == nil {
			return s, nil
		} else if f.Secondary == nil {
			return Sample{}, err
		}
	}
	if f.Secondary == nil {
		return Sample{}, errors.New("no sampler configured")
	}
	return f.Secondary.Sample()
}
