package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDay(t *testing.T) {
	in := time.Date(2025, 6, 15, 13, 45, 30, 123, time.UTC)
	got := StartOfDay(in)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestEndOfDay(t *testing.T) {
	in := time.Date(2025, 6, 15, 13, 45, 30, 123, time.UTC)
	got := EndOfDay(in)
	assert.Equal(t, time.Date(2025, 6, 15, 23, 59, 59, 999999999, time.UTC), got)
}

func TestNextLocalMidnight(t *testing.T) {
	dhaka := LoadDhaka()

	// 02:00 Dhaka time on June 15 -> midnight June 16 Dhaka
	local := time.Date(2025, 6, 15, 2, 0, 0, 0, dhaka)
	got := NextLocalMidnight(local, dhaka)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, dhaka), got)

	// 23:30 still rolls to the next day, never the day after
	local = time.Date(2025, 6, 15, 23, 30, 0, 0, dhaka)
	got = NextLocalMidnight(local, dhaka)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, dhaka), got)
}

func TestFitsBeforeLocalMidnight(t *testing.T) {
	dhaka := LoadDhaka()

	tests := []struct {
		name  string
		hour  int
		delay time.Duration
		want  bool
	}{
		{"early morning fits", 2, 8 * time.Hour, true},
		{"mid afternoon fits", 15, 8 * time.Hour, true},
		{"boundary 16:00 does not fit", 16, 8 * time.Hour, false},
		{"evening does not fit", 20, 8 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2025, 6, 15, tt.hour, 0, 0, 0, dhaka)
			assert.Equal(t, tt.want, FitsBeforeLocalMidnight(at, tt.delay, dhaka))
		})
	}
}

func TestLoadDhakaOffset(t *testing.T) {
	loc := LoadDhaka()
	// Bangladesh has no DST; the offset is always +06:00.
	_, offset := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).In(loc).Zone()
	assert.Equal(t, 6*60*60, offset)
}
