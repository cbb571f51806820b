// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authgate/api/schemas"
	"github.com/xkilldash9x/authgate/internal/config"
)

// Manager owns the browser process lifecycle and creates isolated pages.
// One manager maps to one Chrome instance; each page is its own tab.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu    sync.Mutex
	pages map[string]*Page
	wg    sync.WaitGroup

	// Initialization is deferred until the first page is requested.
	initOnce sync.Once
	initErr  error
}

var _ schemas.PageFactory = (*Manager)(nil)

// NewManager creates a browser manager. The browser process itself is not
// launched until NewPage is first called.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		pages:  make(map[string]*Page),
	}
}

// initialize builds the exec allocator that spawns Chrome.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Browser.Headless))

		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", m.cfg.Browser.Headless),
			// Container-friendly defaults; harmless elsewhere.
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if m.cfg.Browser.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		for _, arg := range m.cfg.Browser.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

		// Fail fast if Chrome cannot start at all.
		probeCtx, probeCancel := chromedp.NewContext(m.allocCtx)
		defer probeCancel()
		if err := chromedp.Run(probeCtx); err != nil {
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		_ = ctx
	})
	return m.initErr
}

// NewPage opens a fresh tab and returns it as a PageDriver.
func (m *Manager) NewPage(ctx context.Context) (schemas.PageDriver, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	var ctxOpts []chromedp.ContextOption
	if m.cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx, ctxOpts...)

	page, err := newPage(tabCtx, tabCancel, m.cfg, m.logger)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to initialize page: %w", err)
	}

	m.wg.Add(1)
	page.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.pages, page.id)
		m.wg.Done()
	}

	m.mu.Lock()
	m.pages[page.id] = page
	m.mu.Unlock()

	m.logger.Debug("New page created.", zap.String("page_id", page.id))
	return page, nil
}

// Shutdown closes all open pages and tears the browser down. Blocks until
// pages are released or ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.mu.Unlock()

	for _, p := range open {
		if err := p.Close(ctx); err != nil {
			m.logger.Warn("Error closing page during shutdown.",
				zap.String("page_id", p.id), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for pages to close; forcing browser shutdown.")
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
