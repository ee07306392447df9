//go:build unix || darwin || linux || freebsd || openbsd || netbsd

package mmapfile

import (
	"os"
	"syscall"
)

func mmap(f *os.File, size int64) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
}

func unmap(data []byte) error {
	return syscall.Munmap(data)
}
