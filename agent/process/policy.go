package process

import (
	"fmt"
	"path/filepath"
)

// logcatAllowed are the only logcat invocations that exit on their own: clear the log buffers, or dump them and exit.
var logcatAllowed = map[string]bool{
	"-c": true,
	"-d": true,
}

// PolicyError reports a command disallowed by an explicit rule.
type PolicyError struct {
	Program string
	Reason  string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Program, e.Reason)
}

// CheckPolicy reports whether program may be run to completion with args.
// It must be checked before spawning anything.
func CheckPolicy(program string, args []string) error {
	if filepath.Base(program) == "logcat" {
		if len(args) != 1 || !logcatAllowed[args[0]] {
			return &PolicyError{
				Program: program,
				Reason:  "only 'logcat -c' and 'logcat -d' can be run with exec, use stream to follow the log",
			}
		}
	}
	return nil
}
