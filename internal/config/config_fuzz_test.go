package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzProcConfigTOML feeds random-ish fields into a tiny TOML and ensures
// the loader does not panic and handles constraints reasonably.
func FuzzProcConfigTOML(f *testing.F) {
	f.Add("gpuowl", "./gpuowl -nospin", "run-when-idle", "")
	f.Add("", "true", "always-run", "/tmp/x.pid")
	f.Add("w", "", "nonsense", "pid")

	f.Fuzz(func(t *testing.T, name, cmd, policy, pidfile string) {
		clean := func(s string) string {
			s = strings.ReplaceAll(s, "\"", "")
			s = strings.ReplaceAll(s, "\n", "")
			return strings.ReplaceAll(s, "\\", "")
		}
		b := strings.Builder{}
		b.WriteString("[[processes]]\n")
		b.WriteString("name = \"" + clean(name) + "\"\n")
		b.WriteString("command = \"" + clean(cmd) + "\"\n")
		b.WriteString("policy = \"" + clean(policy) + "\"\n")
		if pidfile != "" {
			b.WriteString("pidfile = \"" + clean(pidfile) + "\"\n")
		}
		tmp := filepath.Join(t.TempDir(), "fuzz.toml")
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		_, _ = LoadSpecsFromTOML(tmp) // must not panic
	})
}
