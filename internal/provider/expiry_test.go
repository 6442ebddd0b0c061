package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/keepalive/internal/models"
)

func TestParseExpiryFullCountdown(t *testing.T) {
	info := ParseExpiry("Your server expires in 2D 5H 17M, renew below")
	assert.Equal(t, "2天5时17分", info.Display)
	assert.InDelta(t, 2.0+5.0/24+17.0/1440, info.Days, 1e-9)
}

func TestParseExpiryChineseUnits(t *testing.T) {
	info := ParseExpiry("剩余 3天 12时 0分")
	assert.Equal(t, "3天12时0分", info.Display)
	assert.InDelta(t, 3.5, info.Days, 1e-9)
}

func TestParseExpiryDaysOnly(t *testing.T) {
	info := ParseExpiry("expires in 7 days")
	assert.Equal(t, "7天", info.Display)
	assert.Equal(t, 7.0, info.Days)
}

func TestParseExpiryBareDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	info := parseExpiryAt("Expiry date: 2026-03-05", now)
	assert.Equal(t, "2026-03-05", info.Display)
	assert.InDelta(t, 4.0, info.Days, 1e-9)
}

func TestParseExpiryPastDateClampsToZero(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	info := parseExpiryAt("Expiry date: 2026-03-05", now)
	assert.Equal(t, 0.0, info.Days)
}

func TestParseExpiryUnknown(t *testing.T) {
	info := ParseExpiry("<html><body>nothing here</body></html>")
	assert.Equal(t, models.UnknownExpiry, info)
	assert.False(t, info.Known())
}

func TestParseExpiryCountdownWinsOverDate(t *testing.T) {
	// Both forms present on one page; the countdown is more precise.
	info := ParseExpiry("1D 2H 3M until 2026-12-31")
	assert.Equal(t, "1天2时3分", info.Display)
}
