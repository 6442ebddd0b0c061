package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

const (
	navigationTimeout = 60 * time.Second
	selectorTimeout   = 15 * time.Second
	challengeTimeout  = 30 * time.Second
)

// challengeMarkers are substrings a bot-challenge interstitial renders
// while it blocks the real page.
var challengeMarkers = []string{
	"Just a moment",
	"Checking your browser",
	"cf-browser-verification",
	"Verify you are human",
}

// BrowserConfig configures one headless browser context.
type BrowserConfig struct {
	Headless      bool
	UserAgent     string
	ProxyServer   string
	ScreenshotDir string // when set, captures are also written to disk
	Logger        arbor.ILogger
}

// BrowserSession is a scoped headless Chromium context. Each account gets
// its own session with an independent cookie jar; Close tears down every
// tab, the context and the browser regardless of error path.
type BrowserSession struct {
	ctx     context.Context
	cancels []context.CancelFunc
	cfg     BrowserConfig
	logger  arbor.ILogger
}

// NewBrowserSession launches a Chromium context with the anti-automation
// fingerprint installed. The init script is registered before any
// navigation; that ordering is a precondition, not an optimisation.
func NewBrowserSession(parent context.Context, cfg BrowserConfig) (*BrowserSession, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = arbor.NewLogger()
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &BrowserSession{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{browserCancel, allocCancel},
		cfg:     cfg,
		logger:  logger,
	}

	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-US,en;q=0.9",
			"Sec-Fetch-Site":  "none",
			"Sec-Fetch-Mode":  "navigate",
			"Sec-Fetch-User":  "?1",
			"Sec-Fetch-Dest":  "document",
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("browser startup failed: %w", err)
	}

	logger.Debug().
		Bool("headless", cfg.Headless).
		Str("proxy", cfg.ProxyServer).
		Msg("Browser session started")

	return s, nil
}

// Ctx exposes the browser context for policy-driven chromedp actions.
func (s *BrowserSession) Ctx() context.Context {
	return s.ctx
}

// Close cancels the browser and allocator contexts. Safe to call more
// than once.
func (s *BrowserSession) Close() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.logger.Debug().Msg("Browser session closed")
}

// InjectCookies sets every credential cookie for every host variant, so a
// redirect between apex and subdomains keeps the session authenticated.
func (s *BrowserSession) InjectCookies(cookieHeader string, hosts []string) error {
	cookies := ParseCookieHeader(cookieHeader)
	if len(cookies) == 0 {
		return fmt.Errorf("%w: credential contains no cookies", ErrProtocol)
	}

	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, host := range hosts {
			domain := strings.TrimPrefix(host, ".")
			for _, c := range cookies {
				if err := network.SetCookie(c.Name, c.Value).
					WithDomain(domain).
					WithPath("/").
					WithSecure(true).
					Do(ctx); err != nil {
					return fmt.Errorf("setting cookie %s for %s: %w", c.Name, domain, err)
				}
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}

	s.logger.Debug().
		Int("cookies", len(cookies)).
		Int("hosts", len(hosts)).
		Msg("Cookies injected into browser")
	return nil
}

// Navigate loads a URL and waits for the document body.
func (s *BrowserSession) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, navigationTimeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Reload re-navigates the current page. Used once by callers after a
// challenge wait timeout.
func (s *BrowserSession) Reload() error {
	ctx, cancel := context.WithTimeout(s.ctx, navigationTimeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// WaitForChallenge polls page content for bot-challenge markers at 1 Hz
// until the page clears or the window elapses. Returns true on clear.
func (s *BrowserSession) WaitForChallenge() bool {
	deadline := time.Now().Add(challengeTimeout)
	for {
		var body string
		err := chromedp.Run(s.ctx, chromedp.Text("body", &body, chromedp.ByQuery))
		if err == nil && !containsChallengeMarker(body) {
			return true
		}
		if time.Now().After(deadline) {
			s.logger.Warn().Msg("Challenge page did not clear within wait window")
			return false
		}
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(1 * time.Second):
		}
	}
}

func containsChallengeMarker(body string) bool {
	for _, marker := range challengeMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// Capture takes a full-page screenshot and returns the PNG bytes. When a
// debug screenshot directory is configured the image is also written
// there; otherwise nothing touches disk.
func (s *BrowserSession) Capture(name string) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	if s.cfg.ScreenshotDir != "" {
		if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err == nil {
			file := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("%s-%s.png", name, time.Now().Format("150405")))
			if err := os.WriteFile(file, buf, 0o644); err != nil {
				s.logger.Warn().Err(err).Str("file", file).Msg("Failed to write debug screenshot")
			}
		}
	}
	return buf, nil
}

// ExtractCookies serialises all cookies whose domain contains the filter.
func (s *BrowserSession) ExtractCookies(domainFilter string) (string, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("cookie extraction failed: %w", err)
	}
	return FormatCookies(cookies, domainFilter), nil
}

// PageHTML returns the current document's outer HTML.
func (s *BrowserSession) PageHTML() (string, error) {
	var html string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page HTML: %w", err)
	}
	return html, nil
}

// Text returns the inner text of the first element matching the selector,
// bounded by the selector wait timeout.
func (s *BrowserSession) Text(selector string) (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, selectorTimeout)
	defer cancel()

	var text string
	if err := chromedp.Run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading %q: %w", selector, err)
	}
	return text, nil
}

// Click waits for the selector and clicks it, bounded by the selector
// wait timeout.
func (s *BrowserSession) Click(selector string) error {
	ctx, cancel := context.WithTimeout(s.ctx, selectorTimeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// CurrentURL reports the page location after redirects.
func (s *BrowserSession) CurrentURL() (string, error) {
	var loc string
	if err := chromedp.Run(s.ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}
