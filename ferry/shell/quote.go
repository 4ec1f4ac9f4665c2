package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Quote returns s quoted for sh/bash. Strings that need no quoting
// are returned unchanged.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		// only fails on NUL bytes, which no shell can carry anyway
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}

// Join quotes every argument and joins them with spaces.
func Join(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Validate parses script and reports syntax errors without running it.
func Validate(script string) error {
	_, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	return err
}
