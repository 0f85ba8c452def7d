package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// profileFiles are concatenated, in order, into an agent's system prompt.
var profileFiles = []string{"SOUL.md", "RUBRIC.md"}

// LoadProfile reads <dir>/<name>/SOUL.md and RUBRIC.md and returns their
// joined content, or "" when neither exists.
func LoadProfile(dir, name string) string {
	if dir == "" {
		return ""
	}
	base := filepath.Join(dir, name)
	var parts []string
	for _, f := range profileFiles {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}
