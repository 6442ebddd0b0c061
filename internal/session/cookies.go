package session

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/network"
)

// ParseCookieHeader splits an opaque "name=value; name2=value2" credential
// string into cookies. Malformed fragments are dropped.
func ParseCookieHeader(raw string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	return out
}

// CookieValue extracts one cookie's value from a cookie header string.
// Returns "" when absent.
func CookieValue(raw, name string) string {
	for _, c := range ParseCookieHeader(raw) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// FormatCookies serialises browser cookies whose domain contains the
// filter back into a "name=value; ..." header string.
func FormatCookies(cookies []*network.Cookie, domainFilter string) string {
	var parts []string
	for _, c := range cookies {
		if domainFilter != "" && !strings.Contains(c.Domain, domainFilter) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// HostVariants lists the hosts a provider may serve the dashboard from:
// the configured host, the apex domain, and the www subdomain. Cookies are
// injected for every variant so a cross-host redirect cannot drop
// authentication.
func HostVariants(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	host := u.Hostname()

	variants := []string{host}
	seen := map[string]bool{host: true}
	add := func(h string) {
		if h != "" && !seen[h] {
			seen[h] = true
			variants = append(variants, h)
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		apex := strings.Join(parts[len(parts)-2:], ".")
		add(apex)
		add("www." + apex)
	} else {
		add("www." + host)
	}
	return variants
}
