//go:build !windows

package managedruntime

import "errors"

// ErrUnsupportedPlatform is returned by the classic poller's platform seam
// on non-Windows builds; the classic-runtime variant is Windows-only.
var ErrUnsupportedPlatform = errors.New("classic-runtime sampling is only supported on windows")

type stubClassicPlatform struct{}

func (stubClassicPlatform) resolveInstance(processName string, pid uint32) (string, error) {
	return "", ErrUnsupportedPlatform
}

func (stubClassicPlatform) openCounter(category, counter, instance string) (classicCounterSource, error) {
	return nil, ErrUnsupportedPlatform
}

// NewClassicPlatform constructs the Framework-kind poller's platform seam.
func NewClassicPlatform() classicPlatform { return stubClassicPlatform{} }
