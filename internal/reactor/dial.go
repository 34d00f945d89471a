package reactor

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// dialNonBlocking opens a non-blocking socket of sockType (SOCK_STREAM
// or SOCK_DGRAM) connected toward remote, applying mark via SO_MARK
// when non-zero. For SOCK_STREAM the connect is asynchronous and the
// caller must poll the fd for writability to learn the outcome; for
// SOCK_DGRAM, connect() only binds the default peer and completes
// synchronously.
func dialNonBlocking(sockType int, remote netip.AddrPort, mark uint32) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, sockType|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}

	if err := setSocketMark(fd, mark); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	addr := remote.Addr().As4()
	sa := &unix.SockaddrInet4{Port: int(remote.Port()), Addr: addr}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// connectError returns the pending error on fd (the SO_ERROR socket
// option), used after a poll-for-writability to learn whether an
// asynchronous connect succeeded.
func connectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
