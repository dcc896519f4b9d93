package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/wait"
)

// Resolver looks elements up in a scope, waiting for them through a poller.
type Resolver struct {
	scope  browser.Scope
	poller *wait.Poller
	logger *zap.Logger
}

// NewResolver returns a resolver over scope, usually a browser.Page.
func NewResolver(scope browser.Scope, poller *wait.Poller, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{scope: scope, poller: poller, logger: logger.Named("resolver")}
}

// Within returns a resolver with the same timing that searches below scope.
func (r *Resolver) Within(scope browser.Scope) *Resolver {
	return &Resolver{scope: scope, poller: r.poller, logger: r.logger}
}

// Resolve returns the first element of the first selector that matches anything. Each selector
// gets the whole timeout. Absence and driver errors both yield (nil, false).
func (r *Resolver) Resolve(ctx context.Context, timeout time.Duration, selectors ...Selector) (browser.Element, bool) {
	els, ok := r.ResolveAll(ctx, timeout, selectors...)
	if !ok {
		return nil, false
	}
	return els[0], true
}

// ResolveAll is Resolve returning every match of the winning selector.
func (r *Resolver) ResolveAll(ctx context.Context, timeout time.Duration, selectors ...Selector) ([]browser.Element, bool) {
	for _, sel := range selectors {
		r.logger.Debug("Trying selector.", zap.Stringer("selector", sel))
		els, ok := wait.ForTimeout(ctx, r.poller, sel.String(), timeout, func(ctx context.Context) ([]browser.Element, bool, error) {
			els, err := r.match(ctx, sel)
			if err != nil {
				return nil, false, err
			}
			return els, len(els) > 0, nil
		})
		if ok {
			r.logger.Debug("Found elements.", zap.Stringer("selector", sel), zap.Int("count", len(els)))
			return els, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if timeout > 0 {
			r.logger.Info("Nothing matched selector.", zap.Stringer("selector", sel), zap.Duration("timeout", timeout))
		}
	}
	return nil, false
}

// Exists reports whether any selector matches right now, without waiting.
func (r *Resolver) Exists(ctx context.Context, selectors ...Selector) bool {
	_, ok := r.Resolve(ctx, 0, selectors...)
	return ok
}

// match takes one snapshot of the elements sel selects.
func (r *Resolver) match(ctx context.Context, sel Selector) ([]browser.Element, error) {
	switch sel.strategy {
	case ByXPath:
		return r.scope.QueryXPath(ctx, sel.expr)
	case ByAttribute:
		els, err := r.scope.QueryCSS(ctx, sel.expr)
		if err != nil {
			return nil, err
		}
		return filter(ctx, els, func(ctx context.Context, el browser.Element) (bool, error) {
			v, present, err := el.Attribute(ctx, sel.name)
			if err != nil || !present {
				return false, err
			}
			return strings.Contains(normalize(v), normalize(sel.value)), nil
		})
	case ByText:
		els, err := r.visible(ctx, sel.expr)
		if err != nil {
			return nil, err
		}
		return filter(ctx, els, func(ctx context.Context, el browser.Element) (bool, error) {
			text, err := el.Text(ctx)
			if err != nil {
				return false, err
			}
			return strings.Contains(normalize(text), normalize(sel.value)), nil
		})
	case ByCSS:
		return r.visible(ctx, sel.expr)
	}
	return nil, fmt.Errorf("unknown selector strategy %v", sel.strategy)
}

func (r *Resolver) visible(ctx context.Context, css string) ([]browser.Element, error) {
	els, err := r.scope.QueryCSS(ctx, css)
	if err != nil {
		return nil, err
	}
	return filter(ctx, els, func(ctx context.Context, el browser.Element) (bool, error) {
		return el.Visible(ctx)
	})
}

// filter keeps the elements keep accepts. Elements that went stale mid-check are dropped.
func filter(ctx context.Context, els []browser.Element, keep func(context.Context, browser.Element) (bool, error)) ([]browser.Element, error) {
	out := els[:0:0]
	for _, el := range els {
		ok, err := keep(ctx, el)
		if errors.Is(err, browser.ErrStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, el)
		}
	}
	return out, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
