package sampler

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// Dir measures the apparent size of every regular file under a directory.
type Dir string

// Usage implements DiskMeter.
func (d Dir) Usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(string(d), func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
