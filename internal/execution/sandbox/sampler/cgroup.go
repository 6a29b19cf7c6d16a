package sampler

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Cgroup samples a cgroup v2 directory. It sees processes that left the process group.
type Cgroup struct {
	path string
}

// NewCgroup creates a sampler for a cgroup v2 directory.
func NewCgroup(path string) *Cgroup {
	return &Cgroup{path: path}
}

// Sample implements Sampler. Memory is anonymous memory from memory.stat, so page cache
// from file writes is not counted; processes are thread-group leaders in cgroup.procs.
func (c *Cgroup) Sample() (Sample, error) {
	mem, err := readStatField(filepath.Join(c.path, "memory.stat"), "anon")
	if err != nil {
		return Sample{}, err
	}
	procs, err := countLines(filepath.Join(c.path, "cgroup.procs"))
	if err != nil {
		return Sample{}, err
	}
	usage, err := readStatField(filepath.Join(c.path, "cpu.stat"), "usage_usec")
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		RSSBytes:  mem,
		Processes: procs,
		CPUTime:   time.Duration(usage) * time.Microsecond,
	}, nil
}

// ReadInt reads a single-value cgroup file. "max" reads as zero.
func ReadInt(path string) (int64, error) {
	return readInt(path)
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	if value == "max" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

func readStatField(path, key string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == key {
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse %s in %s: %w", key, filepath.Base(path), err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("%s not found in %s", key, path)
}

func countLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, nil
}
