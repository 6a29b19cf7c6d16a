//go:build linux && !cgo

package initproc

import "errors"

func applySeccomp(*SeccompProfile) error {
	return errors.New("seccomp requires a cgo build with libseccomp")
}
