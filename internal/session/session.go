// Package session enumerates logged-in terminal sessions and measures how
// long each one has been idle. Activity is derived from the access time of
// the session's terminal device node, the same signal `w` reports.
package session

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// Session is one logged-in terminal session observed on the host.
// Readable is false when the terminal has no device node that can be
// stat-ed (session ended mid-enumeration, or a virtual terminal such as
// an X display). Unreadable sessions carry no LastActivity.
type Session struct {
	Terminal     string    `json:"terminal"`
	User         string    `json:"user"`
	Host         string    `json:"host,omitempty"`
	LoginAt      time.Time `json:"login_at"`
	LastActivity time.Time `json:"last_activity"`
	Readable     bool      `json:"readable"`
}

// IdleSeconds returns seconds since the session's last activity,
// clamped at zero (an access time in the future counts as active now).
func (s Session) IdleSeconds(now time.Time) float64 {
	d := now.Sub(s.LastActivity)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// Reading is one sensor pass over the host. IdleSecs holds seconds idle
// per readable terminal; Unreadable counts sessions excluded from it.
type Reading struct {
	Sessions   []Session          `json:"sessions"`
	IdleSecs   map[string]float64 `json:"idle_seconds"`
	Unreadable int                `json:"unreadable"`
	Taken      time.Time          `json:"taken"`
}

// Sensor reads login sessions from the OS user accounting database (utmp)
// and derives per-terminal idle time from device access times.
// The zero value is not usable; construct with NewSensor.
type Sensor struct {
	logger *slog.Logger

	// overridable for tests
	devDir string
	now    func() time.Time
	users  func() ([]host.UserStat, error)
}

func NewSensor() *Sensor {
	return &Sensor{
		logger: slog.Default(),
		devDir: "/dev",
		now:    time.Now,
		users:  host.Users,
	}
}

func (s *Sensor) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Read takes one pass over the current login sessions. It never fails:
// an enumeration error yields an empty reading (treated upstream as an
// unattended machine), and a terminal that cannot be stat-ed is recorded
// as unreadable rather than failing the pass.
func (s *Sensor) Read() Reading {
	now := s.now()
	rd := Reading{IdleSecs: make(map[string]float64), Taken: now}
	users, err := s.users()
	if err != nil {
		s.logger.Debug("session enumeration failed", "err", err)
		return rd
	}
	for _, u := range users {
		sess := Session{
			Terminal: u.Terminal,
			User:     u.User,
			Host:     u.Host,
			LoginAt:  time.Unix(int64(u.Started), 0),
		}
		at, err := deviceLastActivity(filepath.Join(s.devDir, u.Terminal))
		if err != nil {
			s.logger.Debug("terminal not readable", "terminal", u.Terminal, "err", err)
			rd.Unreadable++
			rd.Sessions = append(rd.Sessions, sess)
			continue
		}
		sess.LastActivity = at
		sess.Readable = true
		rd.Sessions = append(rd.Sessions, sess)
		rd.IdleSecs[u.Terminal] = sess.IdleSeconds(now)
	}
	return rd
}

// ReadIdleSeconds returns seconds since last input for every readable
// terminal. The map is empty when nobody is logged in.
func (s *Sensor) ReadIdleSeconds() map[string]float64 {
	return s.Read().IdleSecs
}
