// Package browser owns the controlled browser process used to drive the
// clinical system and the insurer portals. One Session maps to one browser
// process; pages are child targets. Everything is single-threaded within a
// session: the portals enforce single-active-session semantics per login.
package browser

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/medflow-ops/claimbridge/internal/shared/config"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
)

// Manager creates browser sessions according to configuration.
type Manager struct {
	cfg   config.BrowserConfig
	proxy *ProxyResolver
	log   *slog.Logger
}

// NewManager creates a session manager. The proxy resolver may be nil when
// egress is direct.
func NewManager(cfg config.BrowserConfig, proxy *ProxyResolver, log *slog.Logger) *Manager {
	return &Manager{cfg: cfg, proxy: proxy, log: log}
}

// Session is one browser process plus its open pages.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancelFns   []context.CancelFunc

	limiter    *rate.Limiter
	navTimeout time.Duration
	proxyAuth  *fetch.AuthChallengeResponse
	log        *slog.Logger

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// Page is one browser target with the navigation guard installed.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	site    string
	session *Session
}

// Open resolves the proxy, launches the browser process and returns a
// session. Proxy resolution failure is soft: the session opens without one.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.UserDataDir != "" {
		// A persistent profile keeps portal session tokens alive between
		// runs, so a fresh login is only needed once per token lifetime.
		opts = append(opts, chromedp.UserDataDir(m.cfg.UserDataDir))
	}

	var proxyAuth *fetch.AuthChallengeResponse
	if m.proxy != nil {
		egress, err := m.proxy.Resolve(ctx)
		if err != nil {
			// Soft failure per the egress contract: log and continue direct
			m.log.Warn("proxy resolution failed, continuing without proxy", "error", err)
		} else if egress.Endpoint != "" {
			m.log.Info("routing browser egress through proxy",
				"endpoint", egress.Endpoint, "authenticated", egress.Authenticated())
			opts = append(opts, chromedp.ProxyServer(egress.Endpoint))
			if egress.Authenticated() {
				proxyAuth = proxyAuthResponse(egress.Username, egress.Password)
			}
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Materialize the browser process before handing the session out, so a
	// broken chrome install fails here and not mid-item.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, errors.Wrap(err, "failed to launch browser")
	}

	return &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		cancelFns:   []context.CancelFunc{browserCancel},
		limiter:     rate.NewLimiter(rate.Every(m.cfg.StepInterval), 1),
		navTimeout:  m.cfg.NavTimeout,
		proxyAuth:   proxyAuth,
		log:         m.log,
	}, nil
}

// NewPage opens a new browser target with the navigation guard installed.
// The site label is only used for logs and metrics.
func (s *Session) NewPage(site string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Navigation("new_page", context.Canceled)
	}

	pageCtx, pageCancel := chromedp.NewContext(s.browserCtx)
	p := &Page{ctx: pageCtx, cancel: pageCancel, site: site, session: s}

	// The guard script must be registered before the first navigation.
	if err := chromedp.Run(pageCtx, installNavigationGuard()); err != nil {
		pageCancel()
		return nil, errors.Wrap(err, "failed to install navigation guard")
	}

	// Surface guard blocks from the page console into logs and metrics.
	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok && isGuardBlockEvent(e) {
			s.log.Warn("navigation guard blocked external target", "site", site)
			metrics.RecordGuardBlock(site)
		}
	})

	if s.proxyAuth != nil {
		if err := s.handleProxyAuth(pageCtx); err != nil {
			pageCancel()
			return nil, errors.Wrap(err, "failed to enable proxy auth handling")
		}
	}

	s.pages = append(s.pages, p)
	s.cancelFns = append(s.cancelFns, pageCancel)
	return p, nil
}

// proxyAuthResponse builds the answer for the proxy's auth challenge.
// Chrome rejects credentials embedded in --proxy-server, so a 407 has to
// be answered through the fetch domain instead.
func proxyAuthResponse(username, password string) *fetch.AuthChallengeResponse {
	return &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: username,
		Password: password,
	}
}

// handleProxyAuth intercepts auth challenges on one page and answers the
// proxy's with the configured credentials. Non-proxy challenges fall back
// to the browser's default handling. Interception pauses every request, so
// paused requests are resumed unconditionally.
func (s *Session) handleProxyAuth(pageCtx context.Context) error {
	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			resp := s.proxyAuth
			if e.AuthChallenge == nil || e.AuthChallenge.Source != fetch.AuthChallengeSourceProxy {
				resp = &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
			}
			go func() {
				if err := chromedp.Run(pageCtx, fetch.ContinueWithAuth(e.RequestID, resp)); err != nil {
					s.log.Warn("failed to answer auth challenge", "error", err)
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(pageCtx, fetch.ContinueRequest(e.RequestID)); err != nil {
					s.log.Warn("failed to resume intercepted request", "error", err)
				}
			}()
		}
	})
	return chromedp.Run(pageCtx, fetch.Enable().WithHandleAuthRequests(true))
}

// Close tears down every page before releasing the browser process. A session
// that leaks a child target is a defect even if the process eventually exits.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	// Pages first, newest last opened closed first, then the browser context.
	for i := len(s.cancelFns) - 1; i >= 0; i-- {
		s.cancelFns[i]()
	}
	s.allocCancel()
	s.pages = nil
}

// Run executes actions as one named navigation step: paced by the session
// limiter and bounded by the navigation timeout. Deadline hits come back as
// timeout errors so the orchestrator can scope them.
func (p *Page) Run(ctx context.Context, step string, actions ...chromedp.Action) error {
	if err := p.session.limiter.Wait(ctx); err != nil {
		return errors.Timeout(step, err)
	}

	stepCtx, cancel := context.WithTimeout(p.ctx, p.session.navTimeout)
	defer cancel()

	start := time.Now()
	err := chromedp.Run(stepCtx, actions...)
	metrics.RecordNavigationStep(p.site, step, time.Since(start))

	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			return errors.Timeout(step, err)
		}
		return errors.Navigation(step, err)
	}
	return nil
}

// Site returns the label the page was opened for.
func (p *Page) Site() string {
	return p.site
}
