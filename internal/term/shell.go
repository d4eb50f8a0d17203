package term

import (
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ResolveShell turns the first usable candidate command line into argv.
// Candidates are tried in order (request override, then configured
// default); when none parse, $SHELL and finally /bin/sh apply.
func ResolveShell(candidates ...string) []string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		argv, err := shellquote.Split(c)
		if err == nil && len(argv) > 0 {
			return argv
		}
	}
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return []string{sh}
	}
	return []string{"/bin/sh"}
}
