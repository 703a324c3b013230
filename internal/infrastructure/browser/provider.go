package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

const (
	defaultTimeout      = 3 * time.Minute
	defaultCaptureWait  = 30 * time.Second
	defaultCapturePoll  = 250 * time.Millisecond
	defaultUsernameSel  = "#login"
	defaultPasswordSel  = "#Password"
	defaultSubmitSel    = `form button[type="submit"]`
	dashboardPath       = "/dashboard"
	marketplaceHomePath = "/apps/market-place/home/overview"
	loginPath           = "/authorization/login"
)

// Config contains configuration for the login driver
type Config struct {
	// AdminURL is the Sapo admin root, e.g. https://shop.mysapogo.com/admin
	AdminURL string
	// LoginURL overrides AdminURL + /authorization/login
	LoginURL string
	Username string
	Password string
	// RemoteURL is the DevTools websocket of a remote Chrome (optional).
	// If empty, chromedp launches a local browser.
	RemoteURL string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// Timeout bounds one whole login
	Timeout time.Duration
	// CaptureWait bounds the wait for each session's XHR after navigation
	CaptureWait time.Duration
	// Form selectors (CSS)
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	Rules            []CaptureRule
}

// Provider obtains Sapo credentials through a real browser login.
// One Obtain call yields both the Core and the Marketplace headers.
type Provider struct {
	config      Config
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

var _ integration.CredentialProvider = (*Provider)(nil)

// NewProvider creates a chromedp-backed credential provider
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdminURL == "" && cfg.LoginURL == "" {
		return nil, errors.New("browser: admin url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("browser: username and password are required")
	}
	cfg.AdminURL = strings.TrimSuffix(cfg.AdminURL, "/")
	if cfg.LoginURL == "" {
		cfg.LoginURL = cfg.AdminURL + loginPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CaptureWait <= 0 {
		cfg.CaptureWait = defaultCaptureWait
	}
	if cfg.UsernameSelector == "" {
		cfg.UsernameSelector = defaultUsernameSel
	}
	if cfg.PasswordSelector == "" {
		cfg.PasswordSelector = defaultPasswordSel
	}
	if cfg.SubmitSelector == "" {
		cfg.SubmitSelector = defaultSubmitSel
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultCaptureRules()
	}

	p := &Provider{config: cfg, logger: logger.Named("browser")}
	p.initAllocator()
	return p, nil
}

func (p *Provider) initAllocator() {
	if p.config.RemoteURL != "" {
		p.allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.config.RemoteURL)
		return
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.WindowSize(1366, 900),
	)
	if p.config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if p.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.config.UserAgent))
	}
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
}

// Close shuts down the browser allocator
func (p *Provider) Close() {
	if p.allocCancel != nil {
		p.allocCancel()
	}
}

// Obtain logs in and captures headers for every session it can reach.
// The Core session is required; a missing Marketplace capture is logged and
// left out of the result.
func (p *Provider) Obtain(ctx context.Context) (integration.CredentialSet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	// The tab must die with ctx, so derive it from the allocator and watch ctx
	browserCtx, browserCancel := chromedp.NewContext(p.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			p.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer browserCancel()
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	capture := newHeaderCapture(p.config.Rules)
	chromedp.ListenTarget(browserCtx, capture.handle)

	started := time.Now()
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(p.config.LoginURL),
		chromedp.WaitVisible(p.config.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(p.config.UsernameSelector, p.config.Username, chromedp.ByQuery),
		chromedp.SendKeys(p.config.PasswordSelector, p.config.Password, chromedp.ByQuery),
		chromedp.WaitEnabled(p.config.SubmitSelector, chromedp.ByQuery),
		chromedp.Click(p.config.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitNotPresent(p.config.PasswordSelector, chromedp.ByQuery),
	)
	if err != nil {
		return nil, p.wrap(ctx, "submit login form", err)
	}
	p.logger.Info("Login form submitted", zap.Duration("elapsed", time.Since(started)))

	if p.config.AdminURL != "" {
		if err := chromedp.Run(browserCtx,
			chromedp.Navigate(p.config.AdminURL+dashboardPath),
			p.awaitCapture(capture, integration.SessionCore),
		); err != nil {
			return nil, p.wrap(ctx, "capture core headers", err)
		}

		// The marketplace app is best effort; its page keeps polling so a
		// navigation error is not fatal once a request was seen
		if err := chromedp.Run(browserCtx,
			chromedp.Navigate(p.config.AdminURL+marketplaceHomePath),
			p.awaitCapture(capture, integration.SessionMarketplace),
		); err != nil && !capture.has(integration.SessionMarketplace) {
			p.logger.Warn("Marketplace headers not captured", zap.Error(err))
		}
	}

	set := integration.CredentialSet{}
	now := time.Now()
	for _, rule := range p.config.Rules {
		headers, url, ok := capture.headersFor(rule.Kind)
		if !ok {
			continue
		}
		set[rule.Kind] = integration.NewCredentials(headers, now)
		p.logger.Info("Captured session headers",
			zap.String("session", rule.Kind.String()),
			zap.String("url", url),
			zap.Int("headers", len(headers)),
		)
	}
	if _, ok := set[integration.SessionCore]; !ok {
		return nil, errors.New("browser: no core request observed after login")
	}
	return set, nil
}

// awaitCapture polls until kind matched its preferred pattern, settling for
// a fallback match when CaptureWait runs out
func (p *Provider) awaitCapture(capture *headerCapture, kind integration.SessionKind) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.NewTimer(p.config.CaptureWait)
		defer deadline.Stop()
		tick := time.NewTicker(defaultCapturePoll)
		defer tick.Stop()
		for {
			if capture.preferred(kind) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline.C:
				if capture.has(kind) {
					return nil
				}
				return fmt.Errorf("browser: no %s request within %s", kind, p.config.CaptureWait)
			case <-tick.C:
			}
		}
	})
}

func (p *Provider) wrap(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("browser: %s: %w", step, ctxErr)
	}
	p.logger.Error("Browser login step failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("browser: %s: %w", step, err)
}
