package provider

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ternarybob/keepalive/internal/models"
)

// Expiry regexes, tried in order: the full "D H M" countdown, then a
// day-only count, then a bare date. Providers render all three; the
// countdown is the most precise so it wins.
var (
	reExpiryFull = regexp.MustCompile(`(?i)(\d+)\s*[D天]\s*(\d+)\s*[H时]\s*(\d+)\s*[M分]`)
	reExpiryDays = regexp.MustCompile(`(?i)(\d+)\s*(?:天|d\b|days?\b)`)
	reExpiryDate = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// ParseExpiry extracts expiry information from page content. A content
// with no recognisable expiry yields the unknown sentinel (scalar -1),
// which the threshold check treats as "renew now".
func ParseExpiry(content string) models.ExpiryInfo {
	return parseExpiryAt(content, time.Now())
}

func parseExpiryAt(content string, now time.Time) models.ExpiryInfo {
	if m := reExpiryFull.FindStringSubmatch(content); m != nil {
		days, _ := strconv.Atoi(m[1])
		hours, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		return models.ExpiryInfo{
			Display: fmt.Sprintf("%d天%d时%d分", days, hours, mins),
			Days:    float64(days) + float64(hours)/24 + float64(mins)/1440,
		}
	}

	if m := reExpiryDays.FindStringSubmatch(content); m != nil {
		days, _ := strconv.Atoi(m[1])
		return models.ExpiryInfo{
			Display: fmt.Sprintf("%d天", days),
			Days:    float64(days),
		}
	}

	if m := reExpiryDate.FindStringSubmatch(content); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		expires := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
		days := expires.Sub(now).Hours() / 24
		if days < 0 {
			days = 0
		}
		return models.ExpiryInfo{Display: m[0], Days: days}
	}

	return models.UnknownExpiry
}
