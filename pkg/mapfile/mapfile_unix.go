//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package mapfile

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func init() {
	mapFile = func(fd int, offset int64, length int) ([]byte, error) {
		return unix.Mmap(fd, offset, length, syscall.PROT_READ, syscall.MAP_SHARED)
	}
	unmapFile = unix.Munmap
}
