// Package expiry turns human duration text into expiry instants and decides
// whether an entry has expired.
package expiry

import (
	"math"
	"strconv"
	"strings"
	"time"

	"relay/internal/server/database"
)

// Action is the outcome class of parsing expiry text.
type Action int

const (
	Invalid Action = iota
	Never
	At
	DeleteNow
)

func (a Action) String() string {
	switch a {
	case Never:
		return "never"
	case At:
		return "at"
	case DeleteNow:
		return "delete"
	default:
		return "invalid"
	}
}

// Result is the parsed form of an expiry argument. When is set only for At.
type Result struct {
	Action Action
	When   time.Time
}

var units = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// Parse interprets text relative to now. Accepted forms, case-insensitive:
// never|none|nil|null|"" -> Never, delete -> DeleteNow, <n>m, <n>h, <n>d and a
// bare <n> (minutes) -> At. Anything else is Invalid.
func Parse(text string, now time.Time) Result {
	v := strings.ToLower(strings.TrimSpace(text))
	switch v {
	case "", "never", "none", "nil", "null":
		return Result{Action: Never}
	case "delete":
		return Result{Action: DeleteNow}
	}

	unit := time.Minute
	digits := v
	if u, ok := units[v[len(v)-1]]; ok {
		unit = u
		digits = v[:len(v)-1]
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Result{Action: Invalid}
	}
	limit := int64(math.MaxInt64 / unit)
	if n > limit || n < -limit {
		return Result{Action: Invalid}
	}

	when := time.Unix(now.Add(time.Duration(n)*unit).Unix(), 0)
	return Result{Action: At, When: when}
}

// IsExpired reports whether e's expiry instant is at or before now. Entries
// without an expiry never expire.
func IsExpired(e *database.Entry, now time.Time) bool {
	if e == nil || e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}
