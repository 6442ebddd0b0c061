package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
)

const (
	weirdhostBaseURL   = "https://panel.weirdhost.xyz"
	weirdhostLoginPath = "/auth/login"
)

func init() {
	Register("weirdhost", func(opts Options) Policy {
		return &weirdhost{opts: opts, logger: opts.Logger}
	})
}

// weirdhost is a pterodactyl-style panel. Renewal is a button on the
// server page; the post-renewal action restarts the server and follows
// the streaming console until it settles.
type weirdhost struct {
	opts   Options
	logger arbor.ILogger
}

func (p *weirdhost) Name() string { return "weirdhost" }
func (p *weirdhost) BaseURL() string { return weirdhostBaseURL }
func (p *weirdhost) LoginPath() string { return weirdhostLoginPath }
func (p *weirdhost) UsesBrowser() bool { return true }
func (p *weirdhost) SessionCookieName() string { return "pterodactyl_session" }

func (p *weirdhost) CompletionMarkers() []string {
	return []string{"App is running", "Done (", "server marked as running"}
}

func (p *weirdhost) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	if err := s.Browser.Navigate(weirdhostBaseURL); err != nil {
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
	doc.Find("a[href^='/server/']").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		id := strings.TrimPrefix(href, "/server/")
		if id == "" || strings.Contains(id, "/") {
			return
		}
		status := strings.ToLower(link.Find(".status, [class*='status']").Text())
		servers = append(servers, models.ServerRecord{
			ID:      id,
			ShortID: id,
			Name:    strings.TrimSpace(link.Find("p, .server-name").First().Text()),
			Active:  !strings.Contains(status, "offline"),
		})
	})
	if p.opts.ServerID != "" {
		for _, srv := range servers {
			if srv.ID == p.opts.ServerID {
				return []models.ServerRecord{srv}, nil
			}
		}
	}
	return servers, nil
}

func (p *weirdhost) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	if err := s.Browser.Navigate(weirdhostBaseURL + "/server/" + server.ID); err != nil {
		return models.UnknownExpiry, err
	}
	html, err := s.Browser.PageHTML()
	if err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(html), nil
}

func (p *weirdhost) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	// The renew button renders either localised or english text.
	if err := s.Browser.Click("button[data-action='renew'], button#renew"); err != nil {
		return models.Failed("renew control not found"), fmt.Errorf("%w: %v", ErrRenewalRejected, err)
	}

	refreshed, err := p.FetchExpiry(ctx, s, server)
	if err != nil {
		return models.RenewalOutcome{}, err
	}
	if refreshed.Known() && refreshed.After(old) {
		return models.Renewed(old, refreshed), nil
	}
	html, _ := s.Browser.PageHTML()
	if isNotYetMessage(html) {
		return models.NotYet("renewal not yet available"), nil
	}
	return models.NotYet(fmt.Sprintf("expiry unchanged at %s", refreshed.Display)), nil
}

// PostRenewalAction restarts the server regardless of the active flag
// shown on the listing; the restart is how this panel re-applies the
// extended expiry. Only stopped servers are reported as started.
func (p *weirdhost) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	if err := s.Browser.Navigate(weirdhostBaseURL + "/server/" + server.ID); err != nil {
		return nil, err
	}
	if err := s.Browser.Click("button[data-action='restart'], button#power-restart"); err != nil {
		return nil, fmt.Errorf("restart control not found: %w", err)
	}

	readConsole := func(context.Context) (string, error) {
		return s.Browser.Text(".terminal, .console-output")
	}
	output, err := WaitForCompletion(ctx, readConsole, p.CompletionMarkers(), p.opts.RestartWait)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Str("server", server.ID).Int("console_bytes", len(output)).Msg("Restart completed")

	if server.Active {
		// Restarted, not started; nothing to report in the started list.
		return nil, nil
	}
	shot, err := s.Browser.Capture("weirdhost-restart-" + server.ID)
	if err != nil {
		shot = nil
	}
	return &models.StartedServer{Server: server, Screenshot: shot}, nil
}
