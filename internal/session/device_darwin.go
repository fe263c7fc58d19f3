//go:build darwin

package session

import (
	"syscall"
	"time"
)

// deviceLastActivity returns the access time of a terminal device node.
// Terminal input refreshes atime, so it approximates last user activity.
func deviceLastActivity(path string) (time.Time, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(st.Atimespec.Sec), int64(st.Atimespec.Nsec)), nil
}
