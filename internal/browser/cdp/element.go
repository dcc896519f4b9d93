package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/headline-cli/internal/browser"
)

// Scripts run with the element bound to this.
const (
	textScript = `function() {
		if (!this.isConnected) { return null; }
		return this.innerText || this.textContent || "";
	}`

	attrScript = `function(name) {
		if (!this.hasAttribute(name)) { return null; }
		return this.getAttribute(name);
	}`

	// OPTION elements have no box of their own; their visibility is the enclosing select's.
	visibleScript = `function() {
		if (!this.isConnected) { return false; }
		const el = this.tagName === "OPTION" ? (this.closest("select") || this) : this;
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") { return false; }
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`

	enabledScript = `function() {
		if (this.disabled) { return false; }
		return this.getAttribute("aria-disabled") !== "true";
	}`

	hitScript = `function() {
		if (!this.isConnected) { return "stale"; }
		this.scrollIntoView({block: "center", inline: "center"});
		const r = this.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) { return "hidden"; }
		const hit = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
		if (!hit) { return "hidden"; }
		if (hit === this || this.contains(hit)) { return "ok"; }
		return "intercepted:" + hit.tagName.toLowerCase();
	}`

	clickScript = `function() { this.click(); }`

	selectOptionScript = `function() {
		const sel = this.closest("select");
		if (!sel) { this.click(); return; }
		sel.value = this.value;
		this.selected = true;
		sel.dispatchEvent(new Event("input", {bubbles: true}));
		sel.dispatchEvent(new Event("change", {bubbles: true}));
	}`

	clearScript = `function() {
		if (this.readOnly || this.disabled) { return false; }
		this.value = "";
		this.dispatchEvent(new Event("input", {bubbles: true}));
		return true;
	}`

	centerScript = `function() { this.scrollIntoView({block: "center", inline: "center"}); }`
)

// Element wraps a node resolved in a Page.
type Element struct {
	page *Page
	node *cdp.Node
}

var _ browser.Element = (*Element)(nil)

func (e *Element) call(ctx context.Context, script string, res any, args ...any) error {
	return e.page.run(ctx, nodeCall(e.node, script, res, args...))
}

// nodeCall resolves node to a remote object and calls the function declaration with this bound
// to it. The object is released afterwards; a failed release only means the page moved on.
func nodeCall(node *cdp.Node, script string, res any, args ...any) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		if obj == nil {
			return browser.ErrStale
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		return chromedp.CallFunctionOn(script, res,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
			args...,
		).Do(ctx)
	})
}

func (e *Element) TagName() string {
	return strings.ToUpper(e.node.NodeName)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var text *string
	if err := e.call(ctx, textScript, &text); err != nil {
		return "", err
	}
	if text == nil {
		return "", browser.ErrStale
	}
	return strings.Join(strings.Fields(*text), " "), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var v *string
	if err := e.call(ctx, attrScript, &v, name); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, visibleScript, &ok)
	return ok, err
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, enabledScript, &ok)
	return ok, err
}

// Click hit-tests the element centre before dispatching real mouse events. Options are
// chosen through their select, since Chromium renders the dropdown outside the page.
func (e *Element) Click(ctx context.Context) error {
	if e.TagName() == "OPTION" {
		return e.call(ctx, selectOptionScript, nil)
	}

	var hit string
	if err := e.call(ctx, hitScript, &hit); err != nil {
		return err
	}
	switch {
	case hit == "stale":
		return browser.ErrStale
	case hit == "hidden":
		return fmt.Errorf("%w: element has no visible box", browser.ErrNotInteractable)
	case strings.HasPrefix(hit, "intercepted:"):
		return fmt.Errorf("%w: click would land on <%s>", browser.ErrClickIntercepted, strings.TrimPrefix(hit, "intercepted:"))
	}
	return e.page.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *Element) JSClick(ctx context.Context) error {
	if err := e.call(ctx, clickScript, nil); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrScript, err)
	}
	return nil
}

func (e *Element) SendKeys(ctx context.Context, keys string) error {
	return e.page.run(ctx, chromedp.KeyEventNode(e.node, keys))
}

func (e *Element) Clear(ctx context.Context) error {
	var ok bool
	if err := e.call(ctx, clearScript, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: field is read-only", browser.ErrNotInteractable)
	}
	return nil
}

func (e *Element) ScrollIntoCenter(ctx context.Context) error {
	return e.call(ctx, centerScript, nil)
}

func (e *Element) QueryCSS(ctx context.Context, css string) ([]browser.Element, error) {
	var nodes []*cdp.Node
	err := e.page.run(ctx, chromedp.Nodes(css, &nodes, chromedp.ByQueryAll, chromedp.FromNode(e.node), chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("css query %q failed: %w", css, err)
	}
	return e.page.wrap(nodes), nil
}

// QueryXPath is page-scoped only; DOM.performSearch has no node argument.
func (e *Element) QueryXPath(context.Context, string) ([]browser.Element, error) {
	return nil, fmt.Errorf("%w: element-scoped xpath", browser.ErrUnsupported)
}
