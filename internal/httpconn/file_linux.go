//go:build linux
// +build linux

package httpconn

import (
	"golang.org/x/sys/unix"
)

// mapFile maps a world-readable regular file read-only.
// An empty file yields a nil region and StatusOK.
func mapFile(name string) ([]byte, Status) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return nil, errnoStatus(err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
	case unix.S_IFDIR:
		return nil, StatusNotFound
	default:
		return nil, StatusForbidden
	}
	if st.Mode&unix.S_IROTH == 0 {
		return nil, StatusForbidden
	}
	if st.Size == 0 {
		return nil, StatusOK
	}

	fd, err := unix.Open(name, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errnoStatus(err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, StatusInternalError
	}
	return data, StatusOK
}

func unmapFile(data []byte) {
	_ = unix.Munmap(data)
}

func errnoStatus(err error) Status {
	switch err {
	case unix.ENOENT, unix.ENOTDIR, unix.ENAMETOOLONG:
		return StatusNotFound
	case unix.EACCES, unix.EPERM:
		return StatusForbidden
	}
	return StatusInternalError
}
