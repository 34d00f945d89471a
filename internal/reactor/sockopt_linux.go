//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setSocketMark applies SO_MARK to fd so the kernel's routing policy
// can steer backend connections around the TUN interface. mark=0 is a
// no-op, matching configs that don't route-mark at all.
func setSocketMark(fd int, mark uint32) error {
	if mark == 0 {
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, int(mark)); err != nil {
		return fmt.Errorf("setsockopt SO_MARK=%d: %w", mark, err)
	}
	return nil
}
