//go:build !darwin && !windows && !linux

package clip

// New returns the headless backend; there is no system clipboard support on
// this platform.
func New() Backend { return NewHeadless() }
