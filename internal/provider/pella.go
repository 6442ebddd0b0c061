package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/session"
)

const (
	pellaBaseURL   = "https://panel.pella.app"
	pellaLoginPath = "/auth/login"
)

func init() {
	Register("pella", func(opts Options) Policy {
		return &pella{opts: opts, logger: opts.Logger}
	})
}

// pella is browser-driven and supports form login as well as cookie
// injection. Stopped servers are started after renewal, waiting on the
// console pane for a completion marker.
type pella struct {
	opts   Options
	logger arbor.ILogger
}

func (p *pella) Name() string { return "pella" }
func (p *pella) BaseURL() string { return pellaBaseURL }
func (p *pella) LoginPath() string { return pellaLoginPath }
func (p *pella) UsesBrowser() bool { return true }
func (p *pella) SessionCookieName() string { return "pella_session" }

func (p *pella) CompletionMarkers() []string {
	return []string{"App is running", "Server marked as running", "is now online"}
}

// Login establishes a session from an email/password credential by
// driving the login form.
func (p *pella) Login(ctx context.Context, s *Session, cred models.Credential) error {
	if err := s.Browser.Navigate(pellaBaseURL + pellaLoginPath); err != nil {
		return err
	}
	if !s.Browser.WaitForChallenge() {
		return session.ErrChallengeBlocked
	}

	bctx := s.Browser.Ctx()
	if err := chromedp.Run(bctx,
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, cred.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, cred.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("login form submit failed: %w", err)
	}

	loc, err := s.Browser.CurrentURL()
	if err != nil {
		return err
	}
	if strings.Contains(loc, pellaLoginPath) {
		return fmt.Errorf("%w: still on login page after submit", session.ErrSessionExpired)
	}
	return nil
}

func (p *pella) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	if err := s.Browser.Navigate(pellaBaseURL + "/servers"); err != nil {
		return nil, err
	}
	html, err := s.Browser.PageHTML()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var servers []models.ServerRecord
	doc.Find("[data-server-uuid]").Each(func(_ int, card *goquery.Selection) {
		id := card.AttrOr("data-server-uuid", "")
		if id == "" {
			return
		}
		status := strings.ToLower(card.Find(".server-status, .status-pill").Text())
		record := models.ServerRecord{
			ID:      id,
			ShortID: shortID(id),
			Name:    strings.TrimSpace(card.Find(".server-title, h3").First().Text()),
			Active:  strings.Contains(status, "running") || strings.Contains(status, "online"),
			Attributes: map[string]string{
				"cpu":  strings.TrimSpace(card.Find("[data-stat='cpu']").Text()),
				"ram":  strings.TrimSpace(card.Find("[data-stat='memory']").Text()),
				"disk": strings.TrimSpace(card.Find("[data-stat='disk']").Text()),
			},
		}
		servers = append(servers, record)
	})
	if p.opts.ServerID != "" {
		for _, srv := range servers {
			if srv.ID == p.opts.ServerID || srv.ShortID == p.opts.ServerID {
				return []models.ServerRecord{srv}, nil
			}
		}
	}
	return servers, nil
}

func (p *pella) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	if err := s.Browser.Navigate(pellaBaseURL + "/server/" + server.ShortID); err != nil {
		return models.UnknownExpiry, err
	}
	html, err := s.Browser.PageHTML()
	if err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(html), nil
}

func (p *pella) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	if err := s.Browser.Click("button[data-action='extend'], button#extend-server"); err != nil {
		return models.Failed("extend control not found"), fmt.Errorf("%w: %v", ErrRenewalRejected, err)
	}

	refreshed, err := p.FetchExpiry(ctx, s, server)
	if err != nil {
		return models.RenewalOutcome{}, err
	}
	if refreshed.Known() && refreshed.After(old) {
		return models.Renewed(old, refreshed), nil
	}
	return models.NotYet(fmt.Sprintf("expiry unchanged at %s", refreshed.Display)), nil
}

// PostRenewalAction starts a stopped server and waits for the console
// pane to report a stable completion marker, then captures evidence.
func (p *pella) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	if server.Active {
		return nil, nil
	}

	if err := s.Browser.Navigate(pellaBaseURL + "/server/" + server.ShortID); err != nil {
		return nil, err
	}
	if err := s.Browser.Click("button[data-action='start'], button#power-start"); err != nil {
		return nil, fmt.Errorf("start control not found: %w", err)
	}

	readConsole := func(context.Context) (string, error) {
		return s.Browser.Text(".console-output, #terminal")
	}
	output, err := WaitForCompletion(ctx, readConsole, p.CompletionMarkers(), p.opts.RestartWait)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Str("server", server.ShortID).Int("console_bytes", len(output)).Msg("Start completed")

	shot, err := s.Browser.Capture("pella-start-" + server.ShortID)
	if err != nil {
		p.logger.Warn().Err(err).Str("server", server.ShortID).Msg("Started but screenshot capture failed")
		shot = nil
	}
	return &models.StartedServer{Server: server, Screenshot: shot}, nil
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
