// internal/browser/page.go
// Package browser defines the capability boundary between the interaction layer and whatever
// actually drives a web page. The core packages (locator, actions, protocol) only ever see the
// interfaces declared here; concrete drivers live in sub-packages (cdp for a real Chromium
// instance, htmlpage for offline HTML fixtures).
package browser

import (
	"context"
)

// Key constants understood by every driver's SendKeys implementation.
// They follow the control characters used by chromedp/kb.
const (
	KeyEnter     = "\r"
	KeyTab       = "\t"
	KeyBackspace = "\b"
	KeyEscape    = "\x1b"
)

// Scope is anything elements can be looked up from: the whole page or a single element.
// Both lookups are immediate snapshots; waiting is the caller's job (see internal/wait).
type Scope interface {
	// QueryCSS returns every element matching the CSS expression, visible or not.
	QueryCSS(ctx context.Context, css string) ([]Element, error)
	// QueryXPath returns every element matching the XPath expression.
	QueryXPath(ctx context.Context, xpath string) ([]Element, error)
}

// Element is an opaque handle to a single DOM node.
type Element interface {
	Scope

	// TagName returns the upper-case tag name (e.g. "OPTION").
	TagName() string
	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)
	// Attribute returns the live value of the named attribute and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Visible reports whether the element takes up space and is not hidden by style.
	Visible(ctx context.Context) (bool, error)
	// Enabled reports whether the element accepts interaction (not disabled).
	Enabled(ctx context.Context) (bool, error)

	// Click performs a native click. Drivers return ErrClickIntercepted when another element
	// would receive the click and ErrNotInteractable when the element cannot be clicked.
	Click(ctx context.Context) error
	// JSClick dispatches a click through the page's script engine, bypassing hit testing.
	JSClick(ctx context.Context) error
	// SendKeys focuses the element and sends the keys in order.
	SendKeys(ctx context.Context, keys string) error
	// Clear empties the value of an input-like element.
	Clear(ctx context.Context) error
	// ScrollIntoCenter scrolls the element to the centre of the viewport.
	ScrollIntoCenter(ctx context.Context) error
}

// Page is the browser handle for one isolated session (a tab).
type Page interface {
	Scope

	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs an opaque script in the page and discards its result.
	Evaluate(ctx context.Context, script string) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Close releases the session.
	Close(ctx context.Context) error
}

// Launcher creates isolated pages. Each work item gets its own page so concurrent flows never
// share a session.
type Launcher interface {
	NewPage(ctx context.Context) (Page, error)
	Shutdown(ctx context.Context) error
}
