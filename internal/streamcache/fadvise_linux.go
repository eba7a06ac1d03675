//go:build linux

package streamcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel f is about to be read front to back.
// Hints are best effort; failures are ignored.
func adviseSequential(f *os.File) {
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_WILLNEED)
}
