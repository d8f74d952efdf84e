package watch

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// cooldownPattern matches server rate-limit messages such as
// "Too many connection attempts. Try again in 12s".
var cooldownPattern = regexp.MustCompile(`(?i)(?:try again|retry)\s+in\s+(\d+)\s*(?:s|secs?|seconds?)\b`)

// CooldownError is a connect failure the server asked us to wait out.
type CooldownError struct {
	Wait time.Duration
	Err  error
}

func (e *CooldownError) Error() string {
	return e.Err.Error()
}

func (e *CooldownError) Unwrap() error { return e.Err }

// ParseCooldown extracts the wait from a rate-limit message.
func ParseCooldown(msg string) (time.Duration, bool) {
	m := cooldownPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// asCooldown returns err as a *CooldownError if it is one or if its message
// carries a cooldown.
func asCooldown(err error) (*CooldownError, bool) {
	if err == nil {
		return nil, false
	}
	var ce *CooldownError
	if errors.As(err, &ce) {
		return ce, true
	}
	if wait, ok := ParseCooldown(err.Error()); ok {
		return &CooldownError{Wait: wait, Err: err}, true
	}
	return nil, false
}
