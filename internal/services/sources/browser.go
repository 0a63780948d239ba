package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// BrowserConfig holds configuration for the headless browser pool owned by
// a dynamic-unstructured handler.
type BrowserConfig struct {
	MaxInstances   int           `json:"maxInstances,omitempty"`
	UserAgent      string        `json:"userAgent,omitempty"`
	Headless       *bool         `json:"headless,omitempty"` // default true
	JSWaitTime     time.Duration `json:"-"`
	RequestTimeout time.Duration `json:"-"`
}

func (c *BrowserConfig) maxInstances() int {
	if c.MaxInstances > 0 {
		return c.MaxInstances
	}
	return 1
}

func (c *BrowserConfig) headless() bool {
	return c.Headless == nil || *c.Headless
}

// BrowserPool manages chromedp browser contexts with round-robin
// allocation. A shared browser tolerates concurrent page creation, but a
// single page context is never driven by two concurrent tasks.
type BrowserPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	currentIndex     int
	config           BrowserConfig
	logger           arbor.ILogger
	initialized      bool
}

// NewBrowserPool creates an unstarted browser pool.
func NewBrowserPool(config BrowserConfig, logger arbor.ILogger) *BrowserPool {
	return &BrowserPool{
		config: config,
		logger: logger,
	}
}

// Start launches the browser instances. Partial success is tolerated; zero
// instances is an error.
func (p *BrowserPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	max := p.config.maxInstances()
	p.logger.Info().
		Int("pool_size", max).
		Bool("headless", p.config.headless()).
		Msg("Starting browser pool")

	var lastErr error
	for i := 0; i < max; i++ {
		if err := p.createInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to create browser instance")
			continue
		}
	}

	if len(p.browsers) == 0 {
		p.teardown()
		return fmt.Errorf("failed to create any browser instances: %w", lastErr)
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Msg("Browser pool started")

	return nil
}

// createInstance launches a single browser and verifies it responds.
func (p *BrowserPool) createInstance(index int) error {
	userAgent := p.config.UserAgent
	if userAgent == "" {
		userAgent = "Colligo-Crawler/1.0"
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.headless()),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testTimeout := p.config.RequestTimeout
	if testTimeout <= 0 {
		testTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, testTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Msg("Browser instance created")

	return nil
}

// Render navigates a fresh page to the URL, waits for JavaScript to settle
// and returns the rendered HTML. Each call gets its own page context, so
// concurrent calls never share a page.
func (p *BrowserPool) Render(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	if !p.initialized || len(p.browsers) == 0 {
		p.mu.Unlock()
		return "", fmt.Errorf("browser pool not started")
	}
	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	browserCtx := p.browsers[index]
	p.mu.Unlock()

	pageCtx, pageCancel := chromedp.NewContext(browserCtx)
	defer pageCancel()

	timeout := p.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, runCancel := context.WithTimeout(pageCtx, timeout)
	defer runCancel()

	// Propagate caller cancellation into the chromedp run.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			runCancel()
		case <-done:
		}
	}()

	jsWait := p.config.JSWaitTime
	if jsWait <= 0 {
		jsWait = 2 * time.Second
	}

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(jsWait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", url, err)
	}

	return html, nil
}

// Shutdown cancels every browser and allocator context. Idempotent, with a
// timeout so a hung browser never blocks handler cleanup.
func (p *BrowserPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}

	done := make(chan struct{})
	go func() {
		p.teardown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().Msg("Browser pool shutdown timed out")
	}

	p.initialized = false
	p.logger.Info().Msg("Browser pool shut down")
}

// teardown cancels all contexts (must be called with mutex held).
func (p *BrowserPool) teardown() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}
