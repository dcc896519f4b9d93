package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/headline-cli/internal/wait"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newResolver(t *testing.T, scope browser.Scope) *Resolver {
	t.Helper()
	logger := zaptest.NewLogger(t)
	p := wait.NewPoller(logger, 250*time.Millisecond, time.Second).WithSleep(noSleep)
	return NewResolver(scope, p, logger)
}

func TestFromSpecPrecedence(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want Strategy
	}{
		{"xpath beats everything", Spec{XPath: "//a", CSS: "a", Attr: "href", Value: "x", Text: "t"}, ByXPath},
		{"attribute beats text", Spec{CSS: "a", Attr: "href", Value: "x", Text: "t"}, ByAttribute},
		{"text beats plain css", Spec{CSS: "a", Text: "t"}, ByText},
		{"css alone", Spec{CSS: "a"}, ByCSS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := FromSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Strategy())
		})
	}

	_, err := FromSpec(Spec{Text: "orphan"})
	assert.ErrorIs(t, err, ErrEmptySpec)

	_, err = FromSpecs([]Spec{{CSS: "a"}, {}})
	assert.ErrorContains(t, err, "selector 1")
}

func TestResolveListShortCircuits(t *testing.T) {
	page := browsertest.NewPage()
	b := browsertest.NewNode("button", "Search")
	c := browsertest.NewNode("button", "Other")
	page.SetCSS("button.b", b)
	page.SetCSS("button.c", c)
	r := newResolver(t, page)

	el, ok := r.Resolve(context.Background(), 0, CSS("button.a"), CSS("button.b"), CSS("button.c"))
	require.True(t, ok)
	assert.Same(t, b, el)
}

func TestResolveStrategies(t *testing.T) {
	hidden := browsertest.NewNode("span", "Business")
	hidden.Hidden = true
	shown := browsertest.NewNode("span", "  BUSINESS news ")
	linkA := browsertest.NewNode("a", "").WithAttr("aria-label", " Open Search ")
	linkB := browsertest.NewNode("a", "").WithAttr("aria-label", "Close")
	linkB.Hidden = true

	page := browsertest.NewPage()
	page.SetCSS("span", hidden, shown)
	page.SetCSS("a", linkB, linkA)
	page.SetXPath("//span", hidden)
	r := newResolver(t, page)
	ctx := context.Background()

	t.Run("xpath is presence based", func(t *testing.T) {
		el, ok := r.Resolve(ctx, 0, XPath("//span"))
		require.True(t, ok)
		assert.Same(t, hidden, el)
	})

	t.Run("css skips invisible elements", func(t *testing.T) {
		els, ok := r.ResolveAll(ctx, 0, CSS("span"))
		require.True(t, ok)
		require.Len(t, els, 1)
		assert.Same(t, shown, els[0])
	})

	t.Run("text match is normalized", func(t *testing.T) {
		el, ok := r.Resolve(ctx, 0, Text("span", " business "))
		require.True(t, ok)
		assert.Same(t, shown, el)
	})

	t.Run("attribute match is normalized substring", func(t *testing.T) {
		el, ok := r.Resolve(ctx, 0, Label("a", "open search"))
		require.True(t, ok)
		assert.Same(t, linkA, el)

		el, ok = r.Resolve(ctx, 0, Attribute("a", "aria-label", "close"))
		require.True(t, ok, "attribute lookup does not require visibility")
		assert.Same(t, linkB, el)
	})

	t.Run("no match is absence", func(t *testing.T) {
		el, ok := r.Resolve(ctx, 0, Text("span", "sports"), CSS("div"))
		assert.False(t, ok)
		assert.Nil(t, el)
	})
}

func TestResolveWaitsForVisibility(t *testing.T) {
	node := browsertest.NewNode("div", "results")
	node.ShowAfter = 3
	page := browsertest.NewPage()
	page.SetCSS("div.results", node)
	r := newResolver(t, page)

	el, ok := r.Resolve(context.Background(), time.Second, CSS("div.results"))
	require.True(t, ok)
	assert.Same(t, node, el)
}

func TestResolveGivesUpAfterTimeout(t *testing.T) {
	node := browsertest.NewNode("div", "late")
	node.ShowAfter = 100
	page := browsertest.NewPage()
	page.SetCSS("div", node)
	r := newResolver(t, page)

	_, ok := r.Resolve(context.Background(), time.Second, CSS("div"))
	assert.False(t, ok)
	// One Visible call per probe: timeout/interval + 1.
	assert.Equal(t, 95, node.ShowAfter)
}

type brokenScope struct{}

func (brokenScope) QueryCSS(context.Context, string) ([]browser.Element, error) {
	return nil, errors.New("target closed")
}
func (brokenScope) QueryXPath(context.Context, string) ([]browser.Element, error) {
	return nil, errors.New("target closed")
}

func TestResolveDriverErrorIsAbsenceAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	p := wait.NewPoller(logger, 250*time.Millisecond, time.Second).WithSleep(noSleep)
	r := NewResolver(brokenScope{}, p, logger)

	_, ok := r.Resolve(context.Background(), time.Second, CSS("div"))
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestResolveSkipsStaleElements(t *testing.T) {
	gone := browsertest.NewNode("li", "old")
	gone.Detached = true
	fresh := browsertest.NewNode("li", "new")
	page := browsertest.NewPage()
	page.SetCSS("li", gone, fresh)
	r := newResolver(t, page)

	els, ok := r.ResolveAll(context.Background(), 0, CSS("li"))
	require.True(t, ok)
	assert.Equal(t, []browser.Element{fresh}, els)
}

func TestWithin(t *testing.T) {
	row := browsertest.NewNode("li", "")
	title := browsertest.NewNode("h3", "Fire season")
	row.SetCSS("h3.title", title)
	page := browsertest.NewPage()
	page.SetCSS("h3.title", browsertest.NewNode("h3", "Page level"))
	r := newResolver(t, page)

	el, ok := r.Within(row).Resolve(context.Background(), 0, CSS("h3.title"))
	require.True(t, ok)
	assert.Same(t, title, el)
	assert.True(t, r.Exists(context.Background(), CSS("h3.title")))
}
