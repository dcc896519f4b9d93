// Package htmlpage implements the browser boundary over static HTML fixtures. It has no script
// engine; a few data attributes stand in for the behaviour a live site would script:
//
//	href, data-nav="/path"   clicking navigates to that fixture
//	data-submit="/path"      pressing Enter in the input navigates there
//	data-reveal="css"        clicking removes the hidden attribute from matching elements
//	data-intercept           a native click on the element is reported as intercepted
//
// Visibility follows the hidden attribute and inline display:none / visibility:hidden styles on
// the element or any ancestor.
package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/headline-cli/internal/browser"
)

// Launcher serves pages from a fixture tree.
type Launcher struct {
	fixtures fs.FS
	logger   *zap.Logger
}

// NewLauncher serves fixtures from fsys. A URL path maps to "<path>.html" or
// "<path>/index.html"; query strings and hosts are ignored.
func NewLauncher(fsys fs.FS, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{fixtures: fsys, logger: logger.Named("htmlpage")}
}

func (l *Launcher) NewPage(context.Context) (browser.Page, error) {
	return &Page{fixtures: l.fixtures, logger: l.logger}, nil
}

func (l *Launcher) Shutdown(context.Context) error { return nil }

// Page is one fixture document at a time.
type Page struct {
	mu       sync.Mutex
	fixtures fs.FS
	logger   *zap.Logger

	doc *goquery.Document
	url string
	// gen increments on every navigation; elements of an older generation are stale.
	gen    int
	closed bool
}

var errClosed = errors.New("page is closed")

// fixturePath resolves a URL to a file in the fixture tree.
func (p *Page) fixturePath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	clean := strings.Trim(path.Clean("/"+u.Path), "/")
	var candidates []string
	if clean == "" {
		candidates = []string{"index.html"}
	} else {
		candidates = []string{clean + ".html", path.Join(clean, "index.html"), clean}
	}
	for _, c := range candidates {
		if st, err := fs.Stat(p.fixtures, c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no fixture for %q: %w", raw, fs.ErrNotExist)
}

func (p *Page) Navigate(_ context.Context, raw string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigateLocked(raw)
}

func (p *Page) navigateLocked(raw string) error {
	if p.closed {
		return errClosed
	}
	if p.url != "" {
		if base, err := url.Parse(p.url); err == nil {
			if ref, err := base.Parse(raw); err == nil {
				raw = ref.String()
			}
		}
	}
	file, err := p.fixturePath(raw)
	if err != nil {
		return err
	}
	f, err := p.fixtures.Open(file)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return fmt.Errorf("parse fixture %s: %w", file, err)
	}
	p.doc, p.url = doc, raw
	p.gen++
	p.logger.Debug("Loaded fixture.", zap.String("url", raw), zap.String("file", file))
	return nil
}

// URL is the address of the current document.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Evaluate(_ context.Context, script string) error {
	p.logger.Debug("Ignoring script.", zap.String("script", script))
	return fmt.Errorf("evaluate: %w", browser.ErrUnsupported)
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	return p.doc.Html()
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) QueryCSS(_ context.Context, css string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, nil
	}
	return p.wrapSelection(p.doc.Find(css)), nil
}

func (p *Page) QueryXPath(_ context.Context, expr string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil || len(p.doc.Nodes) == 0 {
		return nil, nil
	}
	return p.queryXPathLocked(p.doc.Nodes[0], expr)
}

func (p *Page) queryXPathLocked(root *html.Node, expr string) ([]browser.Element, error) {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, &Element{page: p, node: n, gen: p.gen})
		}
	}
	return out, nil
}

func (p *Page) wrapSelection(sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, &Element{page: p, node: n, gen: p.gen})
	}
	return out
}

var (
	_ browser.Page     = (*Page)(nil)
	_ browser.Launcher = (*Launcher)(nil)
)
