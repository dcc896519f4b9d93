package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/browser"
)

const defaultNavigationTimeout = 60 * time.Second

// Page is a single chromedp tab.
type Page struct {
	tabCtx     context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	logger     *zap.Logger
	release    func()

	mu        sync.Mutex
	closed    bool
	navigated bool
}

var _ browser.Page = (*Page)(nil)

func newPage(tabCtx context.Context, cancel context.CancelFunc, navTimeout time.Duration, logger *zap.Logger, release func()) *Page {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	return &Page{
		tabCtx:     tabCtx,
		cancel:     cancel,
		navTimeout: navTimeout,
		logger:     logger,
		release:    release,
	}
}

// run executes the actions on the tab, bounded by ctx. Cancelling ctx aborts the actions
// but leaves the tab open.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("page closed: %w", browser.ErrStale)
	}

	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classify(err)
	}
	return nil
}

// Navigate loads the URL. Cookies are dropped after the first navigation so every work item
// starts from a clean session.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	p.mu.Lock()
	first := !p.navigated
	p.navigated = true
	p.mu.Unlock()
	if first {
		if err := p.run(ctx, network.ClearBrowserCookies()); err != nil {
			p.logger.Warn("Failed to clear cookies.", zap.Error(err))
		}
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string) error {
	var discard any
	if err := p.run(ctx, chromedp.Evaluate(script, &discard)); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrScript, err)
	}
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close ends the tab and its browser context. It is safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := chromedp.Cancel(p.tabCtx)
	p.cancel()
	p.release()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close page: %w", err)
	}
	return nil
}

func (p *Page) QueryCSS(ctx context.Context, css string) ([]browser.Element, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(css, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("css query %q failed: %w", css, err)
	}
	return p.wrap(nodes), nil
}

func (p *Page) QueryXPath(ctx context.Context, xpath string) ([]browser.Element, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("xpath query %q failed: %w", xpath, err)
	}
	return p.wrap(nodes), nil
}

func (p *Page) wrap(nodes []*cdp.Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		// BySearch also matches text and attribute nodes.
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		out = append(out, &Element{page: p, node: n})
	}
	return out
}

// classify maps protocol errors onto the driver sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no node with given id"),
		strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "node is detached"),
		strings.Contains(msg, "cannot find context with specified id"):
		return fmt.Errorf("%w: %v", browser.ErrStale, err)
	case strings.Contains(msg, "node does not have a layout object"),
		strings.Contains(msg, "node is either not visible or not an htmlelement"):
		return fmt.Errorf("%w: %v", browser.ErrNotInteractable, err)
	}
	return err
}
