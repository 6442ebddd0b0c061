// Package models holds the data types shared across the renewal
// pipeline. It has no dependencies on the other internal packages.
package models

import (
	"fmt"
	"strings"
)

// Credential is either a cookie blob or a username/password pair for
// one hosting account. Exactly one of the two forms is populated.
type Credential struct {
	Cookie   string
	Username string
	Password string
}

// IsCookie reports whether this credential carries session cookies
// rather than a login pair.
func (c Credential) IsCookie() bool {
	return c.Cookie != ""
}

// Raw serialises the credential back to its stored form.
func (c Credential) Raw() string {
	if c.IsCookie() {
		return c.Cookie
	}
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":" + c.Password
}

// Redacted returns a loggable form that never exposes secret material.
func (c Credential) Redacted() string {
	if c.IsCookie() {
		if len(c.Cookie) <= 12 {
			return "cookie(***)"
		}
		return "cookie(" + c.Cookie[:8] + "***)"
	}
	return c.Username + ":***"
}

// Account is one positional account in a run.
type Account struct {
	Index      int // 1-based position in the credential list
	Label      string
	Credential Credential
}

// ServerRecord identifies one server on a provider panel.
type ServerRecord struct {
	ID      string
	Name    string
	ShortID string
	Active  bool
	// Attributes carries provider-specific extras such as node or plan
	// names, used only for reporting.
	Attributes map[string]string
}

// ExpiryInfo pairs a provider-rendered expiry string with a comparable
// day scalar. Days is fractional: "2D 5H 0M" is 2.208... days.
type ExpiryInfo struct {
	Display string
	Days    float64
}

// UnknownExpiry marks an expiry that could not be parsed. Its negative
// scalar sorts it inside every renewal window.
var UnknownExpiry = ExpiryInfo{Display: "unknown", Days: -1}

// Known reports whether the expiry was actually parsed.
func (e ExpiryInfo) Known() bool {
	return e.Days >= 0
}

// After reports whether this expiry is strictly later than other.
func (e ExpiryInfo) After(other ExpiryInfo) bool {
	return e.Days > other.Days
}

// OutcomeKind classifies one server-level renewal attempt.
type OutcomeKind string

const (
	OutcomeRenewed OutcomeKind = "renewed"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeNotYet  OutcomeKind = "not_yet"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeUnknown OutcomeKind = "unknown"
)

// RenewalOutcome is the result of one renewal attempt on one server.
type RenewalOutcome struct {
	Kind      OutcomeKind
	OldExpiry ExpiryInfo
	NewExpiry ExpiryInfo
	Message   string
}

// Renewed builds a successful outcome carrying the expiry transition.
func Renewed(old, renewed ExpiryInfo) RenewalOutcome {
	return RenewalOutcome{Kind: OutcomeRenewed, OldExpiry: old, NewExpiry: renewed}
}

// Skipped builds an outcome for a server outside the renewal window.
func Skipped(expiry ExpiryInfo) RenewalOutcome {
	return RenewalOutcome{Kind: OutcomeSkipped, OldExpiry: expiry, NewExpiry: expiry}
}

// NotYet builds an outcome for a provider-side "too early" refusal.
func NotYet(message string) RenewalOutcome {
	return RenewalOutcome{Kind: OutcomeNotYet, Message: message}
}

// Failed builds an outcome for a rejected or errored attempt.
func Failed(message string) RenewalOutcome {
	return RenewalOutcome{Kind: OutcomeFailed, Message: message}
}

// Unverified builds an outcome for a renewal the provider accepted but
// whose new expiry could not be confirmed as later than the old one.
// Renewed is reserved for a strictly increased expiry.
func Unverified(message string) RenewalOutcome {
	return RenewalOutcome{Kind: OutcomeUnknown, Message: message}
}

// Describe renders the outcome as a report line.
func (o RenewalOutcome) Describe() string {
	switch o.Kind {
	case OutcomeRenewed:
		return fmt.Sprintf("✅ 续期成功: %s → %s", o.OldExpiry.Display, o.NewExpiry.Display)
	case OutcomeSkipped:
		return fmt.Sprintf("⏭️ 无需续期: 剩余 %s", o.OldExpiry.Display)
	case OutcomeNotYet:
		return fmt.Sprintf("⏳ 暂不可续期: %s", o.Message)
	case OutcomeFailed:
		return fmt.Sprintf("❌ 续期失败: %s", o.Message)
	default:
		if o.Message != "" {
			return "❓ " + o.Message
		}
		return "❓ 状态未知"
	}
}

// StartedServer records a start/restart performed after renewal,
// optionally with a console screenshot as evidence.
type StartedServer struct {
	Server     ServerRecord
	Screenshot []byte
}

// ServerOutcome pairs a server with its renewal outcome and optional
// post-action evidence.
type ServerOutcome struct {
	Server  ServerRecord
	Outcome RenewalOutcome
	Started *StartedServer
	Err     error
}

// AccountResult aggregates everything that happened for one account.
type AccountResult struct {
	Account Account
	Servers []ServerOutcome
	// NewCredential is set when the provider rotated the session cookie
	// during the run.
	NewCredential string
	// Error is the account-level fatal error (expired session, blocked
	// challenge). Server-level failures live in Servers.
	Error error
}

// AddOutcome appends one server outcome.
func (r *AccountResult) AddOutcome(o ServerOutcome) {
	r.Servers = append(r.Servers, o)
}

// Succeeded reports whether the account completed without an
// account-level error and without any failed server.
func (r *AccountResult) Succeeded() bool {
	if r.Error != nil {
		return false
	}
	for _, s := range r.Servers {
		if s.Outcome.Kind == OutcomeFailed || s.Err != nil {
			return false
		}
	}
	return true
}

// RunSummary aggregates all account results of one run.
type RunSummary struct {
	Provider string
	RunID    string
	Accounts []*AccountResult
	Elapsed  string
}

// Count returns total and succeeded account counts.
func (s *RunSummary) Count() (total, ok int) {
	total = len(s.Accounts)
	for _, a := range s.Accounts {
		if a.Succeeded() {
			ok++
		}
	}
	return total, ok
}

// OutcomeCounts tallies server outcomes by kind across every account.
func (s *RunSummary) OutcomeCounts() map[OutcomeKind]int {
	counts := map[OutcomeKind]int{}
	for _, a := range s.Accounts {
		for _, srv := range a.Servers {
			counts[srv.Outcome.Kind]++
		}
	}
	return counts
}

// CookieRefreshed reports whether any account's session cookie rotated
// during the run.
func (s *RunSummary) CookieRefreshed() bool {
	for _, a := range s.Accounts {
		if a.NewCredential != "" {
			return true
		}
	}
	return false
}

// Ok reports whether every account succeeded.
func (s *RunSummary) Ok() bool {
	total, ok := s.Count()
	return ok == total
}

func (s *RunSummary) String() string {
	total, ok := s.Count()
	return fmt.Sprintf("%s run %s: %d/%d accounts ok (%s)", s.Provider, shortRunID(s.RunID), ok, total, s.Elapsed)
}

func shortRunID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
