// Package idle decides whether the machine counts as unattended.
// The decision is conjunctive: one active terminal anywhere on the host
// blocks background compute, no matter how long the others have idled.
package idle

import (
	"fmt"
	"sort"
	"strings"
)

// Policy controls how sessions whose idle time cannot be read
// (remote or virtual terminals without a device node) affect the verdict.
type Policy string

const (
	// PolicyIgnore excludes unreadable sessions from the decision.
	PolicyIgnore Policy = "ignore"
	// PolicyBlock treats any unreadable session as actively used.
	PolicyBlock Policy = "block"
)

// ParsePolicy maps a config string to a Policy. Empty selects PolicyIgnore.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyIgnore):
		return PolicyIgnore, nil
	case string(PolicyBlock):
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("unknown session policy %q (want ignore or block)", s)
	}
}

// IsIdle reports whether every terminal in readings has been idle for at
// least thresholdSeconds. An empty reading is vacuously idle.
func IsIdle(readings map[string]float64, thresholdSeconds float64) bool {
	for _, secs := range readings {
		if secs < thresholdSeconds {
			return false
		}
	}
	return true
}

// Verdict is one evaluation result with enough detail to log.
type Verdict struct {
	Idle       bool     `json:"idle"`
	Threshold  float64  `json:"threshold_seconds"`
	Busy       []string `json:"busy,omitempty"`       // terminals below the threshold
	Unreadable int      `json:"unreadable,omitempty"` // sessions outside the readings
}

// Evaluator binds the configured threshold and unreadable-session policy.
type Evaluator struct {
	Threshold float64 // seconds
	Policy    Policy
}

// Evaluate applies the threshold to one set of readings. unreadable is
// the number of sessions excluded from readings; under PolicyBlock any
// such session forces a not-idle verdict.
func (e Evaluator) Evaluate(readings map[string]float64, unreadable int) Verdict {
	v := Verdict{Idle: true, Threshold: e.Threshold, Unreadable: unreadable}
	for term, secs := range readings {
		if secs < e.Threshold {
			v.Busy = append(v.Busy, term)
		}
	}
	sort.Strings(v.Busy)
	if len(v.Busy) > 0 {
		v.Idle = false
	}
	if e.Policy == PolicyBlock && unreadable > 0 {
		v.Idle = false
	}
	return v
}
