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

const (
	katabumpBaseURL   = "https://dashboard.katabump.com"
	katabumpLoginPath = "/auth/login"
)

var katabumpCSRF = regexp.MustCompile(`name="_token"\s+value="([^"]+)"`)

func init() {
	Register("katabump", func(opts Options) Policy {
		return &katabump{opts: opts, logger: opts.Logger}
	})
}

// katabump renews through plain HTTP: the dashboard works without
// JavaScript and signals renewal results in the redirect query string.
type katabump struct {
	opts   Options
	logger arbor.ILogger
}

func (p *katabump) Name() string { return "katabump" }
func (p *katabump) BaseURL() string { return katabumpBaseURL }
func (p *katabump) LoginPath() string { return katabumpLoginPath }
func (p *katabump) UsesBrowser() bool { return false }
func (p *katabump) SessionCookieName() string { return "session" }
func (p *katabump) CompletionMarkers() []string {
	return nil // no post-renewal action
}

func (p *katabump) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	if p.opts.ServerID != "" {
		return []models.ServerRecord{{ID: p.opts.ServerID, Name: "server-" + p.opts.ServerID, ShortID: p.opts.ServerID, Active: true}}, nil
	}

	doc, err := s.HTTP.GetDocument(ctx, "/servers")
	if err != nil {
		return nil, err
	}

	var servers []models.ServerRecord
	doc.Find("table tbody tr[data-server-id]").Each(func(_ int, row *goquery.Selection) {
		id := row.AttrOr("data-server-id", "")
		if id == "" {
			return
		}
		record := models.ServerRecord{
			ID:      id,
			ShortID: id,
			Name:    strings.TrimSpace(row.Find("td.server-name").Text()),
			Active:  !strings.Contains(strings.ToLower(row.Find("td.server-status").Text()), "suspended"),
			Attributes: map[string]string{
				"cpu":  strings.TrimSpace(row.Find("td.server-cpu").Text()),
				"ram":  strings.TrimSpace(row.Find("td.server-ram").Text()),
				"disk": strings.TrimSpace(row.Find("td.server-disk").Text()),
			},
		}
		servers = append(servers, record)
	})
	return servers, nil
}

func (p *katabump) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	_, body, err := s.HTTP.Get(ctx, "/server/edit?id="+url.QueryEscape(server.ID))
	if err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(string(body)), nil
}

func (p *katabump) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	// The renew form carries a CSRF token; fetch it fresh so a token
	// rotated since discovery does not bounce the request.
	_, body, err := s.HTTP.Get(ctx, "/server/edit?id="+url.QueryEscape(server.ID))
	if err != nil {
		return models.RenewalOutcome{}, err
	}
	token, err := matchToken(katabumpCSRF, string(body))
	if err != nil {
		return models.RenewalOutcome{}, err
	}

	form := url.Values{}
	form.Set("_token", token)
	form.Set("id", server.ID)
	resp, _, err := s.HTTP.PostForm(ctx, "/api-client/renew?id="+url.QueryEscape(server.ID), form)
	if err != nil {
		return models.RenewalOutcome{}, err
	}

	// The provider answers with a redirect whose query carries the
	// result: renew=success or renew-error=<message>.
	query := resp.Request.URL.Query()
	switch {
	case query.Get("renew") == "success":
		refreshed, err := p.FetchExpiry(ctx, s, server)
		if err != nil {
			p.logger.Warn().Err(err).Str("server", server.ID).Msg("Renewed but failed to re-read expiry")
			return models.Unverified("已续期但无法确认新的到期时间"), nil
		}
		if !refreshed.After(old) {
			return models.Unverified(fmt.Sprintf("已续期但到期时间未延长: %s", refreshed.Display)), nil
		}
		return models.Renewed(old, refreshed), nil
	case query.Get("renew-error") != "":
		// Query() already percent-decoded the value.
		message := query.Get("renew-error")
		if isNotYetMessage(message) {
			return models.NotYet(message), nil
		}
		return models.Failed(message), fmt.Errorf("%w: %s", ErrRenewalRejected, message)
	default:
		return models.Failed("unrecognized renew response"), fmt.Errorf("%w: no renew marker in %s", ErrRenewalRejected, resp.Request.URL)
	}
}

func (p *katabump) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	return nil, nil
}

// isNotYetMessage classifies provider refusals that simply mean the
// renewal window has not opened yet.
func isNotYetMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "not yet") ||
		strings.Contains(lower, "can't") ||
		strings.Contains(lower, "cannot") ||
		strings.Contains(lower, "too early")
}
