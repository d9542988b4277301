//go:build !linux && !darwin

package volume

import "fmt"

// diskUsage is unsupported on platforms without a statfs-style syscall
// exposed through golang.org/x/sys/unix; silod is only built for Linux and
// Darwin targets.
func diskUsage(path string) (total int64, available int64, err error) {
	return 0, 0, fmt.Errorf("diskUsage: unsupported platform for %s", path)
}
