// Package browsertest provides an in-memory browser.Page for tests of the interaction layer.
// Queries are not parsed: a Node answers each CSS or XPath expression from a lookup table the
// test fills in, and handlers let a test mutate that table in response to clicks and keys.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/headline-cli/internal/browser"
)

// Node is a fake element. All fields may be changed by a test between calls.
type Node struct {
	mu sync.Mutex

	Tag      string
	Content  string
	Attrs    map[string]string
	Hidden   bool
	Disabled bool
	Detached bool

	// ShowAfter, when positive, keeps the node invisible for that many Visible calls.
	ShowAfter int

	CSS   map[string][]*Node
	XPath map[string][]*Node

	// ClickErr is returned by Click (not JSClick).
	ClickErr error
	OnClick  func(n *Node)
	OnKeys   func(n *Node, keys string)

	Clicks   int
	JSClicks int
	Scrolls  int
	Clears   int
	ClearErr error
	Keys     []string
}

// NewNode returns a visible, enabled node.
func NewNode(tag, text string) *Node {
	return &Node{Tag: strings.ToUpper(tag), Content: text, Attrs: map[string]string{}}
}

// WithAttr sets an attribute and returns n.
func (n *Node) WithAttr(name, value string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[name] = value
	return n
}

// SetCSS replaces the answer to a CSS query below n.
func (n *Node) SetCSS(expr string, nodes ...*Node) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.CSS == nil {
		n.CSS = map[string][]*Node{}
	}
	n.CSS[expr] = nodes
	return n
}

// SetXPath replaces the answer to an XPath query below n.
func (n *Node) SetXPath(expr string, nodes ...*Node) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.XPath == nil {
		n.XPath = map[string][]*Node{}
	}
	n.XPath[expr] = nodes
	return n
}

// Typed is every key sent to the node, concatenated.
func (n *Node) Typed() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return strings.Join(n.Keys, "")
}

func (n *Node) stale() error {
	if n.Detached {
		return fmt.Errorf("%s: %w", n.Tag, browser.ErrStale)
	}
	return nil
}

func elements(nodes []*Node) []browser.Element {
	out := make([]browser.Element, len(nodes))
	for i, nd := range nodes {
		out[i] = nd
	}
	return out
}

func (n *Node) QueryCSS(_ context.Context, css string) ([]browser.Element, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return elements(n.CSS[css]), nil
}

func (n *Node) QueryXPath(_ context.Context, xpath string) ([]browser.Element, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return elements(n.XPath[xpath]), nil
}

func (n *Node) TagName() string { return n.Tag }

func (n *Node) Text(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stale(); err != nil {
		return "", err
	}
	return n.Content, nil
}

func (n *Node) Attribute(_ context.Context, name string) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stale(); err != nil {
		return "", false, err
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (n *Node) Visible(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stale(); err != nil {
		return false, err
	}
	if n.ShowAfter > 0 {
		n.ShowAfter--
		return false, nil
	}
	return !n.Hidden, nil
}

func (n *Node) Enabled(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.Disabled, n.stale()
}

func (n *Node) Click(context.Context) error {
	n.mu.Lock()
	if err := n.stale(); err != nil {
		n.mu.Unlock()
		return err
	}
	if n.ClickErr != nil {
		err := n.ClickErr
		n.mu.Unlock()
		return err
	}
	n.Clicks++
	h := n.OnClick
	n.mu.Unlock()
	if h != nil {
		h(n)
	}
	return nil
}

func (n *Node) JSClick(context.Context) error {
	n.mu.Lock()
	if err := n.stale(); err != nil {
		n.mu.Unlock()
		return err
	}
	n.JSClicks++
	h := n.OnClick
	n.mu.Unlock()
	if h != nil {
		h(n)
	}
	return nil
}

func (n *Node) SendKeys(_ context.Context, keys string) error {
	n.mu.Lock()
	if err := n.stale(); err != nil {
		n.mu.Unlock()
		return err
	}
	n.Keys = append(n.Keys, keys)
	h := n.OnKeys
	n.mu.Unlock()
	if h != nil {
		h(n, keys)
	}
	return nil
}

func (n *Node) Clear(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Clears++
	return n.ClearErr
}

func (n *Node) ScrollIntoCenter(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Scrolls++
	return n.stale()
}

// Page is a fake browser.Page whose document root is a Node.
type Page struct {
	*Node

	mu        sync.Mutex
	Navigated []string
	Scripts   []string
	EvalErr   error
	Closed    bool
	// Document is what HTML returns.
	Document string
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{Node: NewNode("html", "")}
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigated = append(p.Navigated, url)
	return nil
}

func (p *Page) Evaluate(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts = append(p.Scripts, script)
	return p.EvalErr
}

func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Document, nil
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Launcher hands out pages built by New and records them.
type Launcher struct {
	mu    sync.Mutex
	New   func() *Page
	Pages []*Page
	Down  bool
}

func (l *Launcher) NewPage(context.Context) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := NewPage()
	if l.New != nil {
		p = l.New()
	}
	l.Pages = append(l.Pages, p)
	return p, nil
}

func (l *Launcher) Shutdown(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Down = true
	return nil
}

var (
	_ browser.Element  = (*Node)(nil)
	_ browser.Page     = (*Page)(nil)
	_ browser.Launcher = (*Launcher)(nil)
)
