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
	lunesBaseURL   = "https://betadash.lunes.host"
	lunesLoginPath = "/login"
)

func init() {
	Register("lunes", func(opts Options) Policy {
		return &lunes{opts: opts, logger: opts.Logger}
	})
}

// lunes drives the dashboard through the browser: the panel is a
// JavaScript application behind a bot challenge, and it rotates the
// session cookie on every authenticated visit.
type lunes struct {
	opts   Options
	logger arbor.ILogger
}

func (p *lunes) Name() string { return "lunes" }
func (p *lunes) BaseURL() string { return lunesBaseURL }
func (p *lunes) LoginPath() string { return lunesLoginPath }
func (p *lunes) UsesBrowser() bool { return true }
func (p *lunes) SessionCookieName() string { return "session" }
func (p *lunes) CompletionMarkers() []string { return nil }

func (p *lunes) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	if err := s.Browser.Navigate(lunesBaseURL + "/servers"); err != nil {
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
		card := link.Closest(".card, .server-card")
		status := strings.ToLower(card.Find(".badge, .status").Text())
		servers = append(servers, models.ServerRecord{
			ID:      id,
			ShortID: id,
			Name:    strings.TrimSpace(link.Text()),
			Active:  !strings.Contains(status, "offline") && !strings.Contains(status, "stopped"),
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

func (p *lunes) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	if err := s.Browser.Navigate(lunesBaseURL + "/server/" + server.ID); err != nil {
		return models.UnknownExpiry, err
	}
	html, err := s.Browser.PageHTML()
	if err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(html), nil
}

func (p *lunes) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	// FetchExpiry already navigated to the server page; the renew button
	// lives on it.
	if err := s.Browser.Click("button#renew-server, button[data-action='renew']"); err != nil {
		return models.Failed("renew control not found"), fmt.Errorf("%w: %v", ErrRenewalRejected, err)
	}

	refreshed, err := p.FetchExpiry(ctx, s, server)
	if err != nil {
		return models.RenewalOutcome{}, err
	}
	if refreshed.Known() && refreshed.After(old) {
		return models.Renewed(old, refreshed), nil
	}

	// Expiry unchanged: the panel rejected the click, typically because
	// the renewal window has not opened.
	html, _ := s.Browser.PageHTML()
	if isNotYetMessage(html) {
		return models.NotYet("renewal not yet available"), nil
	}
	return models.NotYet(fmt.Sprintf("expiry unchanged at %s", refreshed.Display)), nil
}

func (p *lunes) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	return nil, nil
}
