//go:build !linux && !darwin

package session

import (
	"errors"
	"time"
)

// Terminal device access times are only wired up for Linux and Darwin.
// Elsewhere every session reads as unreadable and the configured policy
// decides whether that blocks idling.
func deviceLastActivity(string) (time.Time, error) {
	return time.Time{}, errors.ErrUnsupported
}
