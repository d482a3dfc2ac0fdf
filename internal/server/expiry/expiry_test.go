package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relay/internal/server/database"
)

func TestParse(t *testing.T) {
	now := time.Date(2025, 11, 29, 12, 30, 15, 500, time.Local)
	base := time.Unix(now.Unix(), 0)

	tests := []struct {
		name   string
		input  string
		action Action
		when   time.Time
	}{
		{"empty", "", Never, time.Time{}},
		{"never", "never", Never, time.Time{}},
		{"none uppercase", "NONE", Never, time.Time{}},
		{"nil", "nil", Never, time.Time{}},
		{"null padded", "  null ", Never, time.Time{}},
		{"delete", "Delete", DeleteNow, time.Time{}},
		{"hours", "24h", At, base.Add(24 * time.Hour)},
		{"days", "7d", At, base.Add(7 * 24 * time.Hour)},
		{"minutes", "30m", At, base.Add(30 * time.Minute)},
		{"bare minutes", "45", At, base.Add(45 * time.Minute)},
		{"uppercase unit", "2H", At, base.Add(2 * time.Hour)},
		{"fractional", "1.5h", Invalid, time.Time{}},
		{"word", "tomorrow", Invalid, time.Time{}},
		{"unit only", "h", Invalid, time.Time{}},
		{"unknown unit", "3w", Invalid, time.Time{}},
		{"overflow", "9999999999999999d", Invalid, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input, now)
			assert.Equal(t, tt.action, got.Action)
			if tt.action == At {
				assert.True(t, tt.when.Equal(got.When), "want %v, got %v", tt.when, got.When)
				assert.Zero(t, got.When.Nanosecond())
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	t.Run("no expiry never expires", func(t *testing.T) {
		assert.False(t, IsExpired(&database.Entry{}, now.Add(100*365*24*time.Hour)))
	})

	t.Run("boundary is expired", func(t *testing.T) {
		ts := database.NewTimestamp(now)
		e := &database.Entry{ExpiresAt: &ts}
		assert.True(t, IsExpired(e, ts.Time))
		assert.False(t, IsExpired(e, ts.Add(-time.Second)))
	})

	t.Run("monotone in time", func(t *testing.T) {
		ts := database.NewTimestamp(now)
		e := &database.Entry{ExpiresAt: &ts}
		for _, d := range []time.Duration{0, time.Second, time.Hour, 24 * time.Hour} {
			assert.True(t, IsExpired(e, ts.Add(d)))
		}
	})

	t.Run("one hour expiry scenario", func(t *testing.T) {
		t0 := time.Unix(now.Unix(), 0)
		r := Parse("1h", t0)
		ts := database.NewTimestamp(r.When)
		e := &database.Entry{ExpiresAt: &ts}
		assert.False(t, IsExpired(e, t0.Add(59*time.Minute)))
		assert.True(t, IsExpired(e, t0.Add(61*time.Minute)))
	})
}
