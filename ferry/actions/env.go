package actions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/shell"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with values from env. Unknown
// variables are an error so a typo never reaches a remote host.
func expandEnv(s string, env map[string]string) (string, error) {
	var missing []string

	out := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := env[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("undefined variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// exportPrefix renders env as a shell export line placed before a command.
func exportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("export")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, shell.Quote(env[k]))
	}
	b.WriteString("\n")
	return b.String()
}
