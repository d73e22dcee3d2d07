//go:build linux
// +build linux

package reuseport

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var somaxconn = readSomaxconn()

func readSomaxconn() int {
	raw, err := os.ReadFile("/proc/sys/net/core/somaxconn")
	if err != nil {
		return unix.SOMAXCONN
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n <= 0 {
		return unix.SOMAXCONN
	}
	// The kernel keeps the backlog in a uint16.
	if n > 1<<16-1 {
		n = 1<<16 - 1
	}
	return n
}

func backlog(want int) int {
	if want <= 0 || want > somaxconn {
		return somaxconn
	}
	return want
}

func sysSocket(family, sotype, proto int) (int, error) {
	return unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
}
