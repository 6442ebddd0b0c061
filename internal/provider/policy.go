// Package provider holds the per-provider renewal policies. A policy is a
// value describing endpoints, selectors and response markers; the
// orchestrator owns scheduling, retry/skip decisions and result
// aggregation. Providers share nothing at the data level, only this
// contract.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/session"
)

// Policy error kinds surfaced as per-server outcomes.
var (
	// ErrRenewalRejected means the provider refused the renewal with a
	// recognised "not yet" / "can't" style response.
	ErrRenewalRejected = errors.New("renewal rejected")

	// ErrPostActionTimeout means a start/restart action never reached a
	// completion marker within the wait window.
	ErrPostActionTimeout = errors.New("post-action timeout")
)

// Session bundles the transports a policy may drive. Exactly one of the
// two is non-nil, matching Policy.UsesBrowser.
type Session struct {
	HTTP    *session.HTTPSession
	Browser *session.BrowserSession
}

// Options carries the run configuration a policy factory may consume.
type Options struct {
	ServerID    string // fixed server identifier when discovery is bypassed
	RestartWait time.Duration
	Logger      arbor.ILogger
}

// Policy enumerates the provider-specific behavior the orchestrator
// consumes.
type Policy interface {
	Name() string
	BaseURL() string
	LoginPath() string
	UsesBrowser() bool

	// SessionCookieName identifies the cookie whose rotation triggers a
	// credential refresh.
	SessionCookieName() string

	DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error)
	FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error)

	// Renew performs one idempotent renewal attempt. The caller supplies
	// the expiry it just read; on success the policy re-reads expiry so
	// the outcome carries old -> new.
	Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error)

	// PostRenewalAction optionally starts or restarts the server.
	// Returns nil when the policy has no post action or the server was
	// already running.
	PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error)

	CompletionMarkers() []string
}

// Authenticator is implemented by policies that can establish a session
// from a username/password credential instead of injected cookies.
type Authenticator interface {
	Login(ctx context.Context, s *Session, cred models.Credential) error
}

// NeedsRenewal decides whether a server falls inside the renewal window.
// Unknown expiry always renews; the day component is compared whole, so
// "2D 5H" with threshold 2 still renews.
func NeedsRenewal(expiry models.ExpiryInfo, thresholdDays float64, force bool) bool {
	if force {
		return true
	}
	if expiry.Days < 0 {
		return true
	}
	return math.Floor(expiry.Days) <= thresholdDays
}

// Factory builds a policy from run options.
type Factory func(opts Options) Policy

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a policy factory under a provider name. Called from
// policy init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New looks up and instantiates the policy for a provider name.
func New(name string, opts Options) (Policy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", name, Names())
	}
	return factory(opts), nil
}

// Names lists the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeJSON unmarshals a response body already read by the session,
// mapping malformed bodies to the protocol error kind.
func decodeJSON(body []byte, out any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty response body", session.ErrProtocol)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: non-JSON response: %v", session.ErrProtocol, err)
	}
	return nil
}

// matchToken extracts the first capture group of a token regex from page
// content. A missing token is a protocol error: the provider changed its
// page or served the wrong one.
func matchToken(re *regexp.Regexp, content string) (string, error) {
	m := re.FindStringSubmatch(content)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("%w: token %s not found in page", session.ErrProtocol, re.String())
	}
	return m[1], nil
}
