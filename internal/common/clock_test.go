package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		tz     string
		offset int // seconds east of UTC
	}{
		{"UTC", 0},
		{"UTC+8", 8 * 3600},
		{"UTC-5", -5 * 3600},
		{"", 8 * 3600},
		{"not-a-zone", 8 * 3600},
	}

	for _, tt := range tests {
		t.Run(tt.tz, func(t *testing.T) {
			loc := parseLocation(tt.tz)
			_, offset := time.Now().In(loc).Zone()
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestClockTimestampFormat(t *testing.T) {
	clock := NewClock("UTC")
	ts := clock.Timestamp()
	_, err := time.Parse("2006-01-02 15:04:05", ts)
	assert.NoError(t, err)
}
