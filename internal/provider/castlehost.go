package provider

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
)

// Castle-Host's dashboard surface mirrors the other clientarea-style
// panels. Selectors and endpoints below were inferred from sibling
// providers; validate them against live pages before relying on a run.
const (
	castlehostBaseURL   = "https://panel.castle-host.ru"
	castlehostLoginPath = "/login"
)

var castlehostCSRF = regexp.MustCompile(`name="csrf_token"\s+value="([^"]+)"`)

func init() {
	Register("castlehost", func(opts Options) Policy {
		return &castlehost{opts: opts, logger: opts.Logger}
	})
}

type castlehost struct {
	opts   Options
	logger arbor.ILogger
}

func (p *castlehost) Name() string { return "castlehost" }
func (p *castlehost) BaseURL() string { return castlehostBaseURL }
func (p *castlehost) LoginPath() string { return castlehostLoginPath }
func (p *castlehost) UsesBrowser() bool { return false }
func (p *castlehost) SessionCookieName() string { return "PHPSESSID" }
func (p *castlehost) CompletionMarkers() []string { return nil }

func (p *castlehost) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	if p.opts.ServerID != "" {
		return []models.ServerRecord{{ID: p.opts.ServerID, Name: "server-" + p.opts.ServerID, ShortID: p.opts.ServerID, Active: true}}, nil
	}

	doc, err := s.HTTP.GetDocument(ctx, "/services")
	if err != nil {
		return nil, err
	}

	var servers []models.ServerRecord
	doc.Find(".service-card[data-service-id]").Each(func(_ int, card *goquery.Selection) {
		id := card.AttrOr("data-service-id", "")
		if id == "" {
			return
		}
		servers = append(servers, models.ServerRecord{
			ID:      id,
			ShortID: id,
			Name:    strings.TrimSpace(card.Find(".service-name").Text()),
			Active:  !strings.Contains(strings.ToLower(card.Find(".service-status").Text()), "stopped"),
		})
	})
	return servers, nil
}

func (p *castlehost) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	_, body, err := s.HTTP.Get(ctx, "/services/"+url.PathEscape(server.ID))
	if err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(string(body)), nil
}

func (p *castlehost) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	_, body, err := s.HTTP.Get(ctx, "/services/"+url.PathEscape(server.ID))
	if err != nil {
		return models.RenewalOutcome{}, err
	}
	token, err := matchToken(castlehostCSRF, string(body))
	if err != nil {
		return models.RenewalOutcome{}, err
	}

	form := url.Values{}
	form.Set("csrf_token", token)
	_, renewBody, err := s.HTTP.PostForm(ctx, "/services/"+url.PathEscape(server.ID)+"/renew", form)
	if err != nil {
		return models.RenewalOutcome{}, err
	}

	text := strings.ToLower(string(renewBody))
	switch {
	case strings.Contains(text, "success"):
		refreshed, err := p.FetchExpiry(ctx, s, server)
		if err != nil {
			p.logger.Warn().Err(err).Str("server", server.ID).Msg("Renewed but failed to re-read expiry")
			return models.Unverified("已续期但无法确认新的到期时间"), nil
		}
		if !refreshed.After(old) {
			return models.Unverified(fmt.Sprintf("已续期但到期时间未延长: %s", refreshed.Display)), nil
		}
		return models.Renewed(old, refreshed), nil
	case isNotYetMessage(text):
		return models.NotYet(strings.TrimSpace(string(renewBody))), nil
	default:
		return models.Failed(strings.TrimSpace(string(renewBody))), fmt.Errorf("%w: unrecognized renew response", ErrRenewalRejected)
	}
}

func (p *castlehost) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	return nil, nil
}
