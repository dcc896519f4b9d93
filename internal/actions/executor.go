// Package actions performs clicks, typing and selections on resolved elements. Every action
// waits for its element to be ready and reports interaction faults as errors instead of
// retrying on its own; callers that want another attempt wrap the action in retry.Do.
package actions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/fuzzy"
	"github.com/xkilldash9x/headline-cli/internal/retry"
	"github.com/xkilldash9x/headline-cli/internal/wait"
)

var (
	ErrNotClickable = errors.New("element did not become clickable")
	ErrNoOptions    = errors.New("select control has no options")
	ErrNoSuchOption = errors.New("no option matches")
)

// Options tunes the executor.
type Options struct {
	ClickTimeout    time.Duration
	KeyDelay        time.Duration
	KeyJitter       float64
	SelectOpenDelay time.Duration
	Retry           retry.Config
}

// DefaultOptions types at 30ms per key with twenty percent jitter.
func DefaultOptions() Options {
	return Options{
		ClickTimeout:    wait.DefaultTimeout,
		KeyDelay:        30 * time.Millisecond,
		KeyJitter:       0.2,
		SelectOpenDelay: 500 * time.Millisecond,
		Retry:           retry.Config{Attempts: retry.DefaultAttempts, Sleep: retry.DefaultSleep},
	}
}

// Executor acts on the elements of one page.
type Executor struct {
	page   browser.Page
	poller *wait.Poller
	opts   Options
	logger *zap.Logger
	jitter func() float64
}

// New returns an executor for page. Typing and open delays sleep through poller.
func New(page browser.Page, poller *wait.Poller, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		page:   page,
		poller: poller,
		opts:   opts,
		logger: logger.Named("actions"),
		jitter: rand.Float64,
	}
}

// WithJitterSource replaces the uniform [0,1) source used for typing delays.
func (e *Executor) WithJitterSource(f func() float64) *Executor {
	cp := *e
	cp.jitter = f
	return &cp
}

func clickable(ctx context.Context, el browser.Element) (bool, error) {
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	return el.Enabled(ctx)
}

// Click waits up to the click timeout for el to be visible and enabled, then clicks it once.
func (e *Executor) Click(ctx context.Context, el browser.Element) error {
	if el == nil {
		return fmt.Errorf("click: %w", ErrNotClickable)
	}
	ready := wait.Until(ctx, e.poller, "clickable "+el.TagName(), e.opts.ClickTimeout, func(ctx context.Context) (bool, error) {
		return clickable(ctx, el)
	})
	if !ready {
		e.logger.Info("Element never became clickable.", zap.String("tag", el.TagName()))
		return fmt.Errorf("click %s: %w", el.TagName(), ErrNotClickable)
	}
	if err := el.Click(ctx); err != nil {
		if browser.IsInteractionFault(err) {
			e.logger.Error("Click rejected.", zap.String("tag", el.TagName()), zap.Error(err))
		}
		return fmt.Errorf("click %s: %w", el.TagName(), err)
	}
	return nil
}

// ClickWithFallback clicks natively and, if the click was intercepted or the element could
// not be interacted with, clicks it through script instead.
func (e *Executor) ClickWithFallback(ctx context.Context, el browser.Element) error {
	err := e.Click(ctx, el)
	if err == nil || !browser.IsInteractionFault(err) {
		return err
	}
	e.logger.Warn("Falling back to script click.", zap.String("tag", el.TagName()))
	if jsErr := el.JSClick(ctx); jsErr != nil {
		return fmt.Errorf("script click after %v: %w", err, jsErr)
	}
	return nil
}

// RetryClick clicks el with the configured retry budget.
func (e *Executor) RetryClick(ctx context.Context, label string, el browser.Element) error {
	return retry.Do(ctx, e.opts.Retry, e.logger, label, func(ctx context.Context) error {
		return e.ClickWithFallback(ctx, el)
	}, nil)
}

// keyDelay is KeyDelay scaled by a uniform factor in [1-KeyJitter, 1+KeyJitter).
func (e *Executor) keyDelay() time.Duration {
	factor := 1 - e.opts.KeyJitter + 2*e.opts.KeyJitter*e.jitter()
	return time.Duration(float64(e.opts.KeyDelay) * factor)
}

// TypeSlowly focuses el, clears it, and types text one character at a time with a jittered
// pause before each character. When unfocusAfter is set a Tab follows the text.
func (e *Executor) TypeSlowly(ctx context.Context, el browser.Element, text string, unfocusAfter bool) error {
	if err := e.Click(ctx, el); err != nil {
		return fmt.Errorf("focus before typing: %w", err)
	}
	if err := el.Clear(ctx); err != nil {
		e.logger.Debug("Field refused clear.", zap.Error(err))
	}
	for _, r := range text {
		if err := e.poller.Sleep(ctx, e.keyDelay()); err != nil {
			return err
		}
		if err := el.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("typing %q: %w", r, err)
		}
	}
	if unfocusAfter {
		if err := el.SendKeys(ctx, browser.KeyTab); err != nil {
			return fmt.Errorf("unfocus: %w", err)
		}
	}
	return nil
}

// Extractor reads the string an option is compared by.
type Extractor func(ctx context.Context, option browser.Element) (string, error)

// OptionText compares options by their visible text.
func OptionText(ctx context.Context, option browser.Element) (string, error) {
	return option.Text(ctx)
}

// OptionValue compares options by their value attribute.
func OptionValue(ctx context.Context, option browser.Element) (string, error) {
	v, _, err := option.Attribute(ctx, "value")
	return v, err
}

// options opens the control and lists its option children.
func (e *Executor) options(ctx context.Context, sel browser.Element) ([]browser.Element, error) {
	if err := e.RetryClick(ctx, "open select", sel); err != nil {
		return nil, err
	}
	if err := e.poller.Sleep(ctx, e.opts.SelectOpenDelay); err != nil {
		return nil, err
	}
	opts, err := sel.QueryCSS(ctx, "option")
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	if len(opts) == 0 {
		return nil, ErrNoOptions
	}
	return opts, nil
}

// SelectBySimilarity picks the option of sel whose extracted string is most similar to target.
func (e *Executor) SelectBySimilarity(ctx context.Context, sel browser.Element, target string, extract Extractor) error {
	opts, err := e.options(ctx, sel)
	if err != nil {
		return err
	}
	candidates := make([]fuzzy.Candidate[browser.Element], 0, len(opts))
	for _, o := range opts {
		label, err := extract(ctx, o)
		if err != nil {
			e.logger.Warn("Could not read option.", zap.Error(err))
			continue
		}
		candidates = append(candidates, fuzzy.Candidate[browser.Element]{Label: label, Handle: o})
	}
	ranked := fuzzy.Rank(candidates, target)
	if len(ranked) == 0 {
		return ErrNoOptions
	}
	winner := ranked[0]
	e.logger.Debug("Selecting option.",
		zap.String("target", target),
		zap.String("option", winner.Label),
		zap.Float64("score", winner.Score))
	return e.RetryClick(ctx, "click option", winner.Handle)
}

// selectWhere clicks the first option for which match holds.
func (e *Executor) selectWhere(ctx context.Context, sel browser.Element, what string, extract Extractor, match func(string) bool) error {
	opts, err := e.options(ctx, sel)
	if err != nil {
		return err
	}
	for _, o := range opts {
		v, err := extract(ctx, o)
		if err != nil {
			continue
		}
		if match(v) {
			return e.RetryClick(ctx, "click option", o)
		}
	}
	return fmt.Errorf("%s: %w", what, ErrNoSuchOption)
}

// SelectByValue picks the option whose value attribute equals value.
func (e *Executor) SelectByValue(ctx context.Context, sel browser.Element, value string) error {
	return e.selectWhere(ctx, sel, "value "+value, OptionValue, func(v string) bool { return v == value })
}

// SelectByText picks the option whose text equals text, ignoring case and surrounding space.
func (e *Executor) SelectByText(ctx context.Context, sel browser.Element, text string) error {
	want := strings.ToLower(strings.TrimSpace(text))
	return e.selectWhere(ctx, sel, "text "+text, OptionText, func(v string) bool {
		return strings.ToLower(strings.TrimSpace(v)) == want
	})
}

// SelectFirstOption picks the first option with a non-empty value.
func (e *Executor) SelectFirstOption(ctx context.Context, sel browser.Element) error {
	return e.selectWhere(ctx, sel, "first option", OptionValue, func(v string) bool { return v != "" })
}

// CenterInViewport scrolls el to the middle of the viewport. Scroll errors are logged only.
func (e *Executor) CenterInViewport(ctx context.Context, el browser.Element) browser.Element {
	if el == nil {
		return nil
	}
	if err := el.ScrollIntoCenter(ctx); err != nil {
		e.logger.Debug("Scroll into view failed.", zap.Error(err))
	}
	return el
}

// PageContains reports whether the page markup matches pattern, case-insensitively.
func (e *Executor) PageContains(ctx context.Context, pattern string) (bool, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, fmt.Errorf("bad pattern: %w", err)
	}
	html, err := e.page.HTML(ctx)
	if err != nil {
		return false, fmt.Errorf("read page: %w", err)
	}
	return re.MatchString(html), nil
}
