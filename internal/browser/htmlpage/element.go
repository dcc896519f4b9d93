package htmlpage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/headline-cli/internal/browser"
)

// Element is a node of the page's current document.
type Element struct {
	page *Page
	node *html.Node
	gen  int
}

// live must be called with the page lock held.
func (e *Element) live() error {
	if e.page.closed {
		return errClosed
	}
	if e.gen != e.page.gen {
		return fmt.Errorf("<%s>: %w", strings.ToLower(e.node.Data), browser.ErrStale)
	}
	return nil
}

func (e *Element) QueryCSS(_ context.Context, css string) ([]browser.Element, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return nil, err
	}
	return e.page.wrapSelection(goquery.NewDocumentFromNode(e.node).Find(css)), nil
}

func (e *Element) QueryXPath(_ context.Context, expr string) ([]browser.Element, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return nil, err
	}
	return e.page.queryXPathLocked(e.node, expr)
}

func (e *Element) TagName() string { return strings.ToUpper(e.node.Data) }

// Text is the element's text with runs of whitespace collapsed.
func (e *Element) Text(context.Context) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(e.node)), " "), nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return "", false, err
	}
	v, ok := attr(e.node, name)
	return v, ok, nil
}

func (e *Element) Visible(context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return false, err
	}
	return visible(e.node), nil
}

func (e *Element) Enabled(context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return false, err
	}
	_, disabled := attr(e.node, "disabled")
	return !disabled, nil
}

func (e *Element) Click(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return err
	}
	if _, ok := attr(e.node, "data-intercept"); ok {
		return fmt.Errorf("<%s>: %w", strings.ToLower(e.node.Data), browser.ErrClickIntercepted)
	}
	if !visible(e.node) {
		return fmt.Errorf("<%s> is hidden: %w", strings.ToLower(e.node.Data), browser.ErrNotInteractable)
	}
	return e.activate()
}

func (e *Element) JSClick(context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return err
	}
	return e.activate()
}

// activate applies the click behaviour of the element or its closest actionable ancestor.
func (e *Element) activate() error {
	if strings.EqualFold(e.node.Data, "option") {
		selectOption(e.node)
		return nil
	}
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if css, ok := attr(n, "data-reveal"); ok {
			goquery.NewDocumentFromNode(root(n)).Find(css).Each(func(_ int, s *goquery.Selection) {
				s.RemoveAttr("hidden")
			})
			return nil
		}
		if target, ok := attr(n, "data-nav"); ok {
			return e.page.navigateLocked(target)
		}
		if target, ok := attr(n, "href"); ok && strings.EqualFold(n.Data, "a") {
			return e.page.navigateLocked(target)
		}
	}
	return nil
}

// SendKeys appends printable keys to the value attribute. Backspace deletes a character and
// Enter submits through data-submit.
func (e *Element) SendKeys(_ context.Context, keys string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return err
	}
	for _, r := range keys {
		switch string(r) {
		case browser.KeyEnter:
			if target, ok := attr(e.node, "data-submit"); ok {
				value, _ := attr(e.node, "value")
				sep := "?"
				if strings.Contains(target, "?") {
					sep = "&"
				}
				return e.page.navigateLocked(target + sep + "q=" + url.QueryEscape(value))
			}
		case browser.KeyBackspace:
			v, _ := attr(e.node, "value")
			if rs := []rune(v); len(rs) > 0 {
				setAttr(e.node, "value", string(rs[:len(rs)-1]))
			}
		case browser.KeyTab, browser.KeyEscape:
		default:
			v, _ := attr(e.node, "value")
			setAttr(e.node, "value", v+string(r))
		}
	}
	return nil
}

func (e *Element) Clear(context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.live(); err != nil {
		return err
	}
	if _, ro := attr(e.node, "readonly"); ro {
		return fmt.Errorf("clear readonly field: %w", browser.ErrNotInteractable)
	}
	setAttr(e.node, "value", "")
	return nil
}

func (e *Element) ScrollIntoCenter(context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.live()
}

var _ browser.Element = (*Element)(nil)
