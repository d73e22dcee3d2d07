//go:build linux
// +build linux

package netpoll

import (
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// fcntlCloexec is cleared once the kernel rejects F_DUPFD_CLOEXEC.
var fcntlCloexec = int32(1)

// DupFile duplicates fd into a close-on-exec descriptor wrapped by an *os.File,
// it is how a listening socket is handed to worker processes.
func DupFile(fd int, name string) (*os.File, error) {
	nfd, err := dupCloexec(fd)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(nfd), name), nil
}

func dupCloexec(fd int) (int, error) {
	if atomic.LoadInt32(&fcntlCloexec) == 1 {
		nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err == nil {
			return nfd, nil
		}
		if err != unix.EINVAL && err != unix.ENOSYS {
			return -1, os.NewSyscallError("fcntl", err)
		}
		atomic.StoreInt32(&fcntlCloexec, 0)
	}

	// Hold the fork lock so no child inherits the descriptor before CLOEXEC is set.
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	nfd, err := syscall.Dup(fd)
	if err != nil {
		return -1, os.NewSyscallError("dup", err)
	}
	syscall.CloseOnExec(nfd)
	return nfd, nil
}
