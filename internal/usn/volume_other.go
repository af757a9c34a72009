//go:build !windows

package usn

import "fmt"

// OpenVolume fails on platforms without an NTFS change journal. There is no
// degraded emulation: callers get an explicit unsupported error.
func OpenVolume(locator string) (Volume, error) {
	return nil, fmt.Errorf("volume %q: %w", locator, ErrUnsupported)
}
