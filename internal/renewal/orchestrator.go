// Package renewal drives the per-account renewal flow: session
// bootstrap, server discovery, the renew/skip decision per server, and
// credential rotation detection. Account isolation is its core
// guarantee: one account failing never aborts the run.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/common"
	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/provider"
	"github.com/ternarybob/keepalive/internal/session"
)

// serverCooldown paces consecutive servers of one account so renewals
// do not hammer the provider.
const serverCooldown = 2 * time.Second

// connectFunc builds the transport for one account and returns a
// teardown that is always safe to call. Swapped out by tests.
type connectFunc func(ctx context.Context, account models.Account) (*provider.Session, func(), error)

// Orchestrator processes one account at a time against a single
// provider policy.
type Orchestrator struct {
	policy  provider.Policy
	cfg     *common.Config
	logger  arbor.ILogger
	sleep   func(time.Duration)
	connect connectFunc
}

// NewOrchestrator wires an orchestrator for the given policy.
func NewOrchestrator(policy provider.Policy, cfg *common.Config, logger arbor.ILogger) *Orchestrator {
	o := &Orchestrator{
		policy: policy,
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
	o.connect = o.openSession
	return o
}

// ProcessAccount runs the full flow for one account and always returns
// a result. Account-level failures (stale cookie, blocked challenge)
// land in result.Error; server-level failures land in the per-server
// outcomes.
func (o *Orchestrator) ProcessAccount(ctx context.Context, account models.Account) *models.AccountResult {
	result := &models.AccountResult{Account: account}

	o.logger.Info().
		Str("account", account.Label).
		Str("credential", account.Credential.Redacted()).
		Msg("Processing account")

	s, teardown, err := o.connect(ctx, account)
	if err != nil {
		result.Error = err
		o.logger.Warn().Err(err).Str("account", account.Label).Msg("Session bootstrap failed")
		return result
	}
	defer teardown()

	if !account.Credential.IsCookie() {
		auth, ok := o.policy.(provider.Authenticator)
		if !ok {
			result.Error = fmt.Errorf("provider %s only accepts cookie credentials", o.policy.Name())
			return result
		}
		if err := auth.Login(ctx, s, account.Credential); err != nil {
			result.Error = err
			o.logger.Warn().Err(err).Str("account", account.Label).Msg("Login failed")
			return result
		}
	}

	servers, err := o.policy.DiscoverServers(ctx, s)
	if err != nil {
		result.Error = err
		o.logger.Warn().Err(err).Str("account", account.Label).Msg("Server discovery failed")
		return result
	}
	if len(servers) == 0 {
		o.logger.Info().Str("account", account.Label).Msg("Account has no servers, nothing to renew")
		return result
	}
	o.logger.Info().Str("account", account.Label).Int("servers", len(servers)).Msg("Servers discovered")

	for i, server := range servers {
		if i > 0 {
			o.sleep(serverCooldown)
		}
		outcome := o.processServer(ctx, s, server)
		result.AddOutcome(outcome)

		// A stale session fails every remaining server the same way, so
		// stop and report the account as expired instead.
		if outcome.Err != nil && errors.Is(outcome.Err, session.ErrSessionExpired) {
			result.Error = outcome.Err
			break
		}
	}

	o.detectRotation(s, account, result)
	return result
}

// processServer handles one server end to end: read expiry, decide,
// renew, then run the provider's post-renewal action.
func (o *Orchestrator) processServer(ctx context.Context, s *provider.Session, server models.ServerRecord) models.ServerOutcome {
	out := models.ServerOutcome{Server: server}

	expiry, err := o.policy.FetchExpiry(ctx, s, server)
	if err != nil {
		out.Outcome = models.Failed("expiry unreadable: " + err.Error())
		out.Err = err
		return out
	}
	o.logger.Debug().Str("server", server.Name).Str("expiry", expiry.Display).Msg("Expiry read")

	if !provider.NeedsRenewal(expiry, o.cfg.ThresholdDays, o.cfg.ForceRenew) {
		o.logger.Info().
			Str("server", server.Name).
			Str("expiry", expiry.Display).
			Msg("Outside renewal window, skipping")
		out.Outcome = models.Skipped(expiry)
		return out
	}

	outcome, err := o.policy.Renew(ctx, s, server, expiry)
	out.Outcome = outcome
	if err != nil {
		out.Err = err
		o.logger.Warn().Err(err).Str("server", server.Name).Msg("Renewal attempt failed")
		return out
	}
	o.logger.Info().Str("server", server.Name).Str("outcome", string(outcome.Kind)).Msg("Renewal processed")

	started, err := o.policy.PostRenewalAction(ctx, s, server)
	if err != nil {
		// The renewal itself stands; only the start/restart is reported
		// as failed.
		out.Err = err
		o.logger.Warn().Err(err).Str("server", server.Name).Msg("Post-renewal action failed")
		return out
	}
	out.Started = started
	return out
}

// openSession builds the real transport for the policy: a headless
// browser for JavaScript-walled panels, a plain cookie session
// otherwise.
func (o *Orchestrator) openSession(ctx context.Context, account models.Account) (*provider.Session, func(), error) {
	if !o.policy.UsesBrowser() {
		hs, err := session.NewHTTPSession(o.policy.BaseURL(), o.policy.LoginPath(), account.Credential.Cookie, o.logger)
		if err != nil {
			return nil, func() {}, err
		}
		return &provider.Session{HTTP: hs}, func() {}, nil
	}

	bs, err := session.NewBrowserSession(ctx, session.BrowserConfig{
		Headless:      o.cfg.Headless,
		ProxyServer:   o.cfg.ProxyServer,
		ScreenshotDir: o.cfg.ScreenshotDir,
		Logger:        o.logger,
	})
	if err != nil {
		return nil, func() {}, err
	}

	if account.Credential.IsCookie() {
		hosts := session.HostVariants(o.policy.BaseURL())
		if err := bs.InjectCookies(account.Credential.Cookie, hosts); err != nil {
			bs.Close()
			return nil, func() {}, err
		}
	}

	if err := bs.Navigate(o.policy.BaseURL()); err != nil {
		bs.Close()
		return nil, func() {}, err
	}

	// One reload retry before giving up on a bot challenge.
	if !bs.WaitForChallenge() {
		if err := bs.Reload(); err != nil || !bs.WaitForChallenge() {
			bs.Close()
			return nil, func() {}, fmt.Errorf("%w: challenge page did not clear for %s", session.ErrChallengeBlocked, o.policy.BaseURL())
		}
	}

	return &provider.Session{Browser: bs}, bs.Close, nil
}

// detectRotation compares the session cookie after the run against the
// injected one; a rotated cookie becomes the account's new credential.
func (o *Orchestrator) detectRotation(s *provider.Session, account models.Account, result *models.AccountResult) {
	if s.Browser == nil || !account.Credential.IsCookie() {
		return
	}

	extracted, err := s.Browser.ExtractCookies(apexDomain(o.policy.BaseURL()))
	if err != nil || extracted == "" {
		if err != nil {
			o.logger.Warn().Err(err).Str("account", account.Label).Msg("Cookie extraction failed")
		}
		return
	}

	name := o.policy.SessionCookieName()
	oldValue := session.CookieValue(account.Credential.Cookie, name)
	newValue := session.CookieValue(extracted, name)
	if newValue != "" && newValue != oldValue {
		result.NewCredential = extracted
		o.logger.Info().
			Str("account", account.Label).
			Str("cookie", name).
			Msg("Session cookie rotated, credential refresh needed")
	}
}

// apexDomain reduces a base URL to its registrable-ish host for cookie
// filtering: panel.example.com matches cookies on .example.com too.
func apexDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	host := u.Hostname()
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}
