package session

import "errors"

// Session error kinds. Callers classify with errors.Is; the orchestrator
// maps them to per-account or per-server outcomes.
var (
	// ErrSessionExpired means the provider redirected an authenticated
	// request to its login page: the cookie is stale.
	ErrSessionExpired = errors.New("session expired")

	// ErrChallengeBlocked means the anti-bot challenge never cleared
	// within the wait window.
	ErrChallengeBlocked = errors.New("challenge blocked")

	// ErrProtocol covers malformed provider responses: redirect loops,
	// non-JSON where JSON was expected, missing CSRF tokens.
	ErrProtocol = errors.New("protocol error")

	// ErrTransient covers network failures and 5xx responses. The next
	// cron run retries; nothing retries within a run.
	ErrTransient = errors.New("transient error")
)
