//go:build linux

package timesync

import (
	"time"

	"golang.org/x/sys/unix"
)

// setSystemTime needs CAP_SYS_TIME.
func setSystemTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}
