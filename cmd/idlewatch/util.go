package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loykin/idlewatch"
)

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// renderStatusLine formats one human-readable verdict line.
func renderStatusLine(idle, paused bool, threshold float64, busy []string, unreadable int) string {
	switch {
	case paused:
		return fmt.Sprintf("paused: workers held stopped (threshold %.0fs)", threshold)
	case idle:
		return fmt.Sprintf("idle: no session active within %.0fs", threshold)
	case len(busy) > 0:
		return fmt.Sprintf("busy: activity on %s (threshold %.0fs)", strings.Join(busy, ", "), threshold)
	case unreadable > 0:
		return fmt.Sprintf("busy: %d session(s) unreadable (threshold %.0fs)", unreadable, threshold)
	default:
		return fmt.Sprintf("busy (threshold %.0fs)", threshold)
	}
}

func renderVerdict(v idlewatch.Verdict) string {
	return renderStatusLine(v.Idle, false, v.Threshold, v.Busy, v.Unreadable)
}

// renderWorker formats one worker state line.
func renderWorker(name, policy string, running bool, pid int) string {
	if running {
		return fmt.Sprintf("%s [%s]: running (pid %d)", name, policy, pid)
	}
	return fmt.Sprintf("%s [%s]: stopped", name, policy)
}
