package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
)

const (
	dataonlineBaseURL   = "https://dash.dataonline.vn"
	dataonlineLoginPath = "/login"
)

func init() {
	Register("dataonline", func(opts Options) Policy {
		return &dataonline{opts: opts, logger: opts.Logger}
	})
}

// dataonline exposes a JSON API behind the session cookie; everything is
// XHR calls, no DOM scraping.
type dataonline struct {
	opts   Options
	logger arbor.ILogger
}

type dataonlineServer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Expires string `json:"expire_at"`
	CPU     string `json:"cpu"`
	RAM     string `json:"ram"`
	Disk    string `json:"disk"`
}

type dataonlineListResponse struct {
	Servers []dataonlineServer `json:"servers"`
}

type dataonlineActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *dataonline) Name() string { return "dataonline" }
func (p *dataonline) BaseURL() string { return dataonlineBaseURL }
func (p *dataonline) LoginPath() string { return dataonlineLoginPath }
func (p *dataonline) UsesBrowser() bool { return false }
func (p *dataonline) SessionCookieName() string { return "laravel_session" }
func (p *dataonline) CompletionMarkers() []string { return nil }

func (p *dataonline) DiscoverServers(ctx context.Context, s *Session) ([]models.ServerRecord, error) {
	var list dataonlineListResponse
	if err := s.HTTP.GetJSON(ctx, "/api/v1/servers", &list); err != nil {
		return nil, err
	}

	var servers []models.ServerRecord
	for _, srv := range list.Servers {
		if p.opts.ServerID != "" && srv.ID != p.opts.ServerID {
			continue
		}
		servers = append(servers, models.ServerRecord{
			ID:      srv.ID,
			Name:    srv.Name,
			ShortID: srv.ID,
			Active:  strings.EqualFold(srv.Status, "running"),
			Attributes: map[string]string{
				"cpu":  srv.CPU,
				"ram":  srv.RAM,
				"disk": srv.Disk,
			},
		})
	}
	return servers, nil
}

func (p *dataonline) FetchExpiry(ctx context.Context, s *Session, server models.ServerRecord) (models.ExpiryInfo, error) {
	var srv dataonlineServer
	if err := s.HTTP.GetJSON(ctx, "/api/v1/servers/"+url.PathEscape(server.ID), &srv); err != nil {
		return models.UnknownExpiry, err
	}
	return ParseExpiry(srv.Expires), nil
}

func (p *dataonline) Renew(ctx context.Context, s *Session, server models.ServerRecord, old models.ExpiryInfo) (models.RenewalOutcome, error) {
	_, body, err := s.HTTP.PostForm(ctx, "/api/v1/servers/"+url.PathEscape(server.ID)+"/renew", url.Values{})
	if err != nil {
		return models.RenewalOutcome{}, err
	}

	var result dataonlineActionResponse
	if err := decodeJSON(body, &result); err != nil {
		return models.RenewalOutcome{}, err
	}

	switch {
	case strings.EqualFold(result.Status, "success"):
		refreshed, err := p.FetchExpiry(ctx, s, server)
		if err != nil {
			p.logger.Warn().Err(err).Str("server", server.ID).Msg("Renewed but failed to re-read expiry")
			return models.Unverified("已续期但无法确认新的到期时间"), nil
		}
		if !refreshed.After(old) {
			return models.Unverified(fmt.Sprintf("已续期但到期时间未延长: %s", refreshed.Display)), nil
		}
		return models.Renewed(old, refreshed), nil
	case isNotYetMessage(result.Message):
		return models.NotYet(result.Message), nil
	default:
		return models.Failed(result.Message), fmt.Errorf("%w: %s", ErrRenewalRejected, result.Message)
	}
}

func (p *dataonline) PostRenewalAction(ctx context.Context, s *Session, server models.ServerRecord) (*models.StartedServer, error) {
	if server.Active {
		return nil, nil
	}

	_, body, err := s.HTTP.PostForm(ctx, "/api/v1/servers/"+url.PathEscape(server.ID)+"/start", url.Values{})
	if err != nil {
		return nil, err
	}
	var result dataonlineActionResponse
	if err := decodeJSON(body, &result); err != nil {
		return nil, err
	}
	if !strings.EqualFold(result.Status, "success") {
		return nil, fmt.Errorf("%w: start rejected: %s", ErrRenewalRejected, result.Message)
	}

	p.logger.Info().Str("server", server.ID).Msg("Server start requested")
	return &models.StartedServer{Server: server}, nil
}
