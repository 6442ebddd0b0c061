package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock renders timestamps in one fixed timezone so log lines and report
// lines agree regardless of the runner's locale. Cron runners are UTC;
// the audience of the report usually is not.
type Clock struct {
	loc *time.Location
}

// NewClock builds a clock for a timezone spec. Accepted forms: "UTC",
// "UTC+8", "UTC-5", or an IANA name like "Asia/Shanghai". Unparseable
// specs fall back to UTC+8.
func NewClock(tz string) *Clock {
	return &Clock{loc: parseLocation(tz)}
}

func parseLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.FixedZone("UTC+8", 8*3600)
	}
	if tz == "UTC" {
		return time.UTC
	}
	if strings.HasPrefix(tz, "UTC+") || strings.HasPrefix(tz, "UTC-") {
		if hours, err := strconv.Atoi(tz[3:]); err == nil && hours >= -12 && hours <= 14 {
			return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
		}
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.FixedZone("UTC+8", 8*3600)
}

// Now returns the current time in the configured zone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Timestamp renders the current time for report headers.
func (c *Clock) Timestamp() string {
	return c.Now().Format("2006-01-02 15:04:05")
}

// Location exposes the configured zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}
