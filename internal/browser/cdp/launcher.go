// Package cdp drives a real Chromium instance over the DevTools protocol with chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/config"
)

const defaultStartupTimeout = 30 * time.Second

var errShutdown = errors.New("launcher is shut down")

// Launcher owns one browser process. Every page it hands out lives in its own browser
// context, so cookies and storage never leak between work items.
type Launcher struct {
	cfg     config.BrowserConfig
	persona Persona
	logger  *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	shutdown bool
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher starts the browser and verifies it answers before returning.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Launcher, error) {
	l := &Launcher{
		cfg:     cfg,
		persona: PersonaFromConfig(cfg),
		logger:  logger.Named("cdp"),
	}
	if err := l.launch(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Launcher) startupTimeout() time.Duration {
	if l.cfg.StartupTimeout > 0 {
		return l.cfg.StartupTimeout
	}
	return defaultStartupTimeout
}

func (l *Launcher) launch(ctx context.Context) error {
	l.logger.Info("Initializing browser allocator...", zap.Bool("headless", l.cfg.Headless))

	// The allocator outlives ctx; Shutdown tears it down.
	l.allocCtx, l.allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(l.cfg, l.persona)...)
	l.browserCtx, l.browserCancel = chromedp.NewContext(l.allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	// The first Run starts the process, so it must not run under a derived deadline.
	stop := guard(ctx, l.startupTimeout(), l.browserCancel)
	err := chromedp.Run(l.browserCtx, chromedp.Navigate("about:blank"))
	stop()
	if err != nil {
		l.browserCancel()
		l.allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	l.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// NewPage opens a tab in a fresh browser context and applies the persona to it.
func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil, errShutdown
	}
	l.wg.Add(1)
	l.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(l.browserCtx, chromedp.WithNewBrowserContext())

	stop := guard(ctx, l.startupTimeout(), cancel)
	err := chromedp.Run(tabCtx, Apply(l.persona, l.logger))
	stop()
	if err != nil {
		cancel()
		l.wg.Done()
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	return newPage(tabCtx, cancel, l.cfg.NavigationTimeout, l.logger, l.wg.Done), nil
}

// Shutdown waits for open pages to close, then ends the browser process.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil
	}
	l.shutdown = true
	l.mu.Unlock()

	l.logger.Info("Shutting down browser...")
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("Timed out waiting for pages to close; forcing shutdown.")
		err = ctx.Err()
	}

	if cerr := chromedp.Cancel(l.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		l.logger.Debug("Browser cancel reported an error.", zap.Error(cerr))
	}
	l.browserCancel()
	l.allocCancel()
	l.logger.Info("Browser shutdown complete.")
	return err
}

// guard cancels the chromedp context when ctx ends or the timeout fires. The returned
// function disarms both triggers.
func guard(ctx context.Context, timeout time.Duration, cancel context.CancelFunc) func() {
	timer := time.AfterFunc(timeout, cancel)
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		timer.Stop()
		stop()
	}
}

type flag struct {
	name  string
	value any
}

// launchFlags lists the switches applied on top of chromedp's defaults.
func launchFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		{"enable-automation", false},
		{"headless", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
	}
	w, h := viewportSize(cfg.Viewport)
	flags = append(flags, flag{"window-size", fmt.Sprintf("%d,%d", w, h)})

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, flag{name, parts[1]})
		} else {
			flags = append(flags, flag{name, true})
		}
	}

	// Containers need these to start Chromium at all.
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

func allocatorOptions(cfg config.BrowserConfig, p Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if p.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.UserAgent))
	}
	return opts
}
