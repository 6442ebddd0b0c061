package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	maxRedirects   = 10
	requestTimeout = 60 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// HTTPSession is a cookie-carrying client for providers whose dashboards
// work without JavaScript. Redirects are followed manually: the standard
// client can drop the Cookie header on cross-origin hops, which silently
// de-authenticates the session. Every hop re-sends the original cookie.
type HTTPSession struct {
	base      *url.URL
	loginPath string
	cookie    string
	client    *http.Client
	limiter   *rate.Limiter
	logger    arbor.ILogger
}

// NewHTTPSession builds a session for a provider base URL. loginPath is
// the path a stale session gets redirected to; a redirect into it is a
// hard ErrSessionExpired.
func NewHTTPSession(baseURL, loginPath, cookie string, logger arbor.ILogger) (*HTTPSession, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return &HTTPSession{
		base:      base,
		loginPath: loginPath,
		cookie:    cookie,
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			// Default transport honors HTTP_PROXY / HTTPS_PROXY.
		},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		logger:  logger,
	}, nil
}

// SetCookie replaces the session cookie, e.g. after a form login.
func (s *HTTPSession) SetCookie(cookie string) {
	s.cookie = cookie
}

// Cookie returns the cookie header currently attached to requests.
func (s *HTTPSession) Cookie() string {
	return s.cookie
}

// BaseURL returns the provider base URL string.
func (s *HTTPSession) BaseURL() string {
	return s.base.String()
}

// Resolve turns a path or absolute URL into an absolute URL string.
func (s *HTTPSession) Resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return s.base.ResolveReference(ref).String()
}

func (s *HTTPSession) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", defaultUserAgent)
	// Callers like GetJSON pin their own Accept; only default it.
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}
}

// do sends one request and follows redirects by hand: at most maxRedirects
// hops, a visited set for loop detection, the cookie header re-attached on
// every hop. A redirect into the login path means the cookie is stale.
func (s *HTTPSession) do(req *http.Request) (*http.Response, error) {
	visited := map[string]bool{req.URL.String(): true}

	for hop := 0; ; hop++ {
		if err := s.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
		s.applyHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}

		if !isRedirect(resp.StatusCode) {
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: server returned %d for %s", ErrTransient, resp.StatusCode, req.URL)
			}
			return resp, nil
		}

		location := resp.Header.Get("Location")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if location == "" {
			return nil, fmt.Errorf("%w: redirect without Location from %s", ErrProtocol, req.URL)
		}
		next, err := req.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: bad Location %q: %v", ErrProtocol, location, err)
		}
		if s.loginPath != "" && strings.Contains(next.Path, s.loginPath) {
			return nil, fmt.Errorf("%w: redirected to %s", ErrSessionExpired, next.Path)
		}
		if hop+1 >= maxRedirects {
			return nil, fmt.Errorf("%w: more than %d redirects from %s", ErrProtocol, maxRedirects, req.URL)
		}
		key := next.String()
		if visited[key] {
			return nil, fmt.Errorf("%w: redirect loop via %s", ErrProtocol, key)
		}
		visited[key] = true

		s.logger.Debug().
			Int("hop", hop+1).
			Str("location", key).
			Msg("Following redirect")

		// Redirected POSTs degrade to GET, as browsers do for 301/302/303.
		// Content-negotiation headers survive the hop.
		accept := req.Header.Get("Accept")
		requestedWith := req.Header.Get("X-Requested-With")
		req, err = http.NewRequestWithContext(req.Context(), http.MethodGet, key, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if requestedWith != "" {
			req.Header.Set("X-Requested-With", requestedWith)
		}
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Get fetches a path and returns the final response body.
func (s *HTTPSession) Get(ctx context.Context, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Resolve(path), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	return resp, body, nil
}

// GetDocument fetches a path and parses the final HTML body.
func (s *HTTPSession) GetDocument(ctx context.Context, path string) (*goquery.Document, error) {
	_, body, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML: %v", ErrProtocol, err)
	}
	return doc, nil
}

// GetJSON fetches a path with XHR headers and decodes a JSON body. An
// empty or non-JSON body is a protocol error.
func (s *HTTPSession) GetJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Resolve(path), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body from %s", ErrProtocol, req.URL)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: non-JSON body from %s: %v", ErrProtocol, req.URL, err)
	}
	return nil
}

// PostForm submits a URL-encoded form with origin and referer derived from
// the base URL, and returns the final response body.
func (s *HTTPSession) PostForm(ctx context.Context, path string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Resolve(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	origin := s.base.Scheme + "://" + s.base.Host
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")

	resp, err := s.do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	return resp, body, nil
}
