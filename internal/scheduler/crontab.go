package scheduler

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Registration pins a command into the user's crontab so the machine keeps
// re-invoking the cycle without a resident daemon. Every managed line ends
// with "# <Marker>"; Install never duplicates a marker and Uninstall removes
// only lines carrying it, so hand-written entries survive untouched.
type Registration struct {
	Marker  string        // unique tag carried as a trailing comment
	Period  time.Duration // tick period, must map onto cron's minute/hour fields
	Command string        // what cron runs each tick
}

// crontab(1) is the only way into the user table; these seams let tests run
// without touching it.
var (
	loadCrontab  = readUserCrontab
	storeCrontab = writeUserCrontab
)

func (r Registration) validate() error {
	if strings.TrimSpace(r.Marker) == "" {
		return errors.New("registration requires a marker")
	}
	if strings.ContainsAny(r.Marker, "\n#") {
		return fmt.Errorf("marker %q cannot contain '#' or newlines", r.Marker)
	}
	if strings.TrimSpace(r.Command) == "" {
		return errors.New("registration requires a command")
	}
	// A newline here would smuggle unmarked lines past the marker bookkeeping.
	if strings.Contains(r.Command, "\n") {
		return errors.New("registration command cannot span lines")
	}
	return nil
}

// cronSpec maps a period onto the five cron fields. Cron resolves whole
// minutes, so periods that do not are rejected rather than silently rounded.
func cronSpec(period time.Duration) (string, error) {
	switch {
	case period <= 0:
		return "", errors.New("registration period must be > 0")
	case period < time.Minute || period%time.Minute != 0:
		return "", fmt.Errorf("period %s does not fit crontab's minute granularity", period)
	case period == time.Minute:
		return "* * * * *", nil
	case period < time.Hour:
		return fmt.Sprintf("*/%d * * * *", int(period/time.Minute)), nil
	case period == time.Hour:
		return "0 * * * *", nil
	case period%time.Hour == 0 && period < 24*time.Hour:
		return fmt.Sprintf("0 */%d * * *", int(period/time.Hour)), nil
	default:
		return "", fmt.Errorf("period %s is too coarse for a crontab schedule", period)
	}
}

// Line renders the crontab line this registration manages.
func (r Registration) Line() (string, error) {
	if err := r.validate(); err != nil {
		return "", err
	}
	spec, err := cronSpec(r.Period)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s # %s", spec, r.Command, r.Marker), nil
}

// carriesMarker reports whether line's trailing comment is exactly marker.
func carriesMarker(line, marker string) bool {
	i := strings.LastIndex(line, "#")
	if i < 0 {
		return false
	}
	return strings.TrimSpace(line[i+1:]) == marker
}

// withLine appends the managed line when tab does not carry the marker yet.
// The bool reports whether tab changed.
func (r Registration) withLine(tab string) (string, bool, error) {
	line, err := r.Line()
	if err != nil {
		return "", false, err
	}
	for _, ln := range strings.Split(tab, "\n") {
		if carriesMarker(ln, r.Marker) {
			return tab, false, nil
		}
	}
	if tab != "" && !strings.HasSuffix(tab, "\n") {
		tab += "\n"
	}
	return tab + line + "\n", true, nil
}

// withoutLine drops every line carrying the marker. The bool reports whether
// tab changed.
func (r Registration) withoutLine(tab string) (string, bool) {
	if tab == "" {
		return tab, false
	}
	lines := strings.Split(strings.TrimSuffix(tab, "\n"), "\n")
	kept := make([]string, 0, len(lines))
	changed := false
	for _, ln := range lines {
		if carriesMarker(ln, r.Marker) {
			changed = true
			continue
		}
		kept = append(kept, ln)
	}
	if !changed {
		return tab, false
	}
	if len(kept) == 0 {
		return "", true
	}
	return strings.Join(kept, "\n") + "\n", true
}

// Install adds the managed line to the user crontab. Installing twice is a
// no-op; the marker keys the check.
func (r Registration) Install() error {
	tab, err := loadCrontab()
	if err != nil {
		return err
	}
	next, changed, err := r.withLine(tab)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return storeCrontab(next)
}

// Uninstall removes every line carrying the marker. Removing an absent
// registration is a no-op.
func (r Registration) Uninstall() error {
	if err := r.validate(); err != nil {
		return err
	}
	tab, err := loadCrontab()
	if err != nil {
		return err
	}
	next, changed := r.withoutLine(tab)
	if !changed {
		return nil
	}
	return storeCrontab(next)
}

// Installed reports whether the user crontab carries the marker.
func (r Registration) Installed() (bool, error) {
	if strings.TrimSpace(r.Marker) == "" {
		return false, errors.New("registration requires a marker")
	}
	tab, err := loadCrontab()
	if err != nil {
		return false, err
	}
	for _, ln := range strings.Split(tab, "\n") {
		if carriesMarker(ln, r.Marker) {
			return true, nil
		}
	}
	return false, nil
}

func readUserCrontab() (string, error) {
	out, err := exec.Command("crontab", "-l").CombinedOutput()
	if err != nil {
		// an empty table exits non-zero with "no crontab for <user>"
		if strings.Contains(string(out), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func writeUserCrontab(tab string) error {
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(tab)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("crontab -: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
