package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/actions"
	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/config"
	"github.com/xkilldash9x/headline-cli/internal/fuzzy"
	"github.com/xkilldash9x/headline-cli/internal/locator"
	"github.com/xkilldash9x/headline-cli/internal/wait"
)

// ErrStructural marks a result row that lacks a required part.
var ErrStructural = errors.New("result row is missing a required element")

// Selectors are the site controls the protocol operates, each an ordered fallback list.
type Selectors struct {
	SearchButton   []locator.Selector
	SearchInput    []locator.Selector
	NoResults      []locator.Selector
	SeeAllFilters  []locator.Selector
	FilterPanel    []locator.Selector
	TopicLabels    []locator.Selector
	SortSelect     []locator.Selector
	ResultsHeader  []locator.Selector
	ResultRows     []locator.Selector
	RowTitle       []locator.Selector
	RowTimestamp   []locator.Selector
	RowDescription []locator.Selector
	RowPicture     []locator.Selector
	NextPage       []locator.Selector
}

// SelectorsFromConfig compiles the configured selector specs.
func SelectorsFromConfig(c config.SiteSelectors) (Selectors, error) {
	var s Selectors
	var err error
	compile := func(dst *[]locator.Selector, name string, specs []locator.Spec) {
		if err != nil {
			return
		}
		var e error
		if *dst, e = locator.FromSpecs(specs); e != nil {
			err = fmt.Errorf("%s: %w", name, e)
		}
	}
	compile(&s.SearchButton, "search_button", c.SearchButton)
	compile(&s.SearchInput, "search_input", c.SearchInput)
	compile(&s.NoResults, "no_results", c.NoResults)
	compile(&s.SeeAllFilters, "see_all_filters", c.SeeAllFilters)
	compile(&s.FilterPanel, "filter_panel", c.FilterPanel)
	compile(&s.TopicLabels, "topic_labels", c.TopicLabels)
	compile(&s.SortSelect, "sort_select", c.SortSelect)
	compile(&s.ResultsHeader, "results_header", c.ResultsHeader)
	compile(&s.ResultRows, "result_rows", c.ResultRows)
	compile(&s.RowTitle, "row_title", c.RowTitle)
	compile(&s.RowTimestamp, "row_timestamp", c.RowTimestamp)
	compile(&s.RowDescription, "row_description", c.RowDescription)
	compile(&s.RowPicture, "row_picture", c.RowPicture)
	compile(&s.NextPage, "next_page", c.NextPage)
	return s, err
}

// Timing holds the waits specific to the protocol.
type Timing struct {
	Default  time.Duration
	Picture  time.Duration
	Panel    time.Duration
	PageTurn time.Duration
}

// Options configures a Flow.
type Options struct {
	Selectors Selectors
	Timing    Timing
	// MaxPages bounds pagination. It is the only bound when a payload asks for no cap.
	MaxPages int
	// Now anchors relative timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Result is everything a run produced.
type Result struct {
	Articles []article.Article
	Outcome  Outcome
	State    State
}

// Flow runs the search protocol on one page. It is not safe for concurrent use.
type Flow struct {
	page     browser.Page
	resolver *locator.Resolver
	exec     *actions.Executor
	poller   *wait.Poller
	opts     Options
	logger   *zap.Logger
}

// NewFlow wires a flow over page. The page must already show the site.
func NewFlow(page browser.Page, poller *wait.Poller, exec *actions.Executor, opts Options, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	return &Flow{
		page:     page,
		resolver: locator.NewResolver(page, poller, logger),
		exec:     exec,
		poller:   poller,
		opts:     opts,
		logger:   logger.Named("protocol"),
	}
}

// Run takes the payload through every state. Articles are only returned when the run reaches
// Done; any abort discards them.
func (f *Flow) Run(ctx context.Context, p article.Payload) (res Result) {
	res.State = Idle
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Run panicked.", zap.Any("panic", r), zap.Stringer("state", res.State), zap.Stack("stack"))
			res = Result{Outcome: failed("panic in %s: %v", res.State, r), State: Aborted}
		}
	}()

	abort := func(out Outcome) Result {
		f.logger.Info("Run aborted.", zap.Stringer("state", res.State), zap.Stringer("outcome", out))
		return Result{Outcome: out, State: Aborted}
	}

	if err := p.Validate(); err != nil {
		return abort(failed("%v", err))
	}
	f.logger.Info("Starting run.", zap.Stringer("payload", p))

	res.State = Searching
	if out := f.Search(ctx, p.Phrase); !out.OK() {
		return abort(out)
	}

	res.State = Filtering
	if out := f.Filter(ctx, p.Section, p.SortBy); !out.OK() {
		return abort(out)
	}

	res.State = Collecting
	articles, out := f.Collect(ctx, p.Results)
	if !out.OK() {
		return abort(out)
	}

	f.logger.Info("Run complete.", zap.Int("articles", len(articles)))
	return Result{Articles: articles, Outcome: out, State: Done}
}

// Search opens the search form and submits phrase.
func (f *Flow) Search(ctx context.Context, phrase string) Outcome {
	trigger, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.SearchButton...)
	if !ok {
		return noMatch("could not start search: search button not found")
	}
	if err := f.exec.ClickWithFallback(ctx, f.exec.CenterInViewport(ctx, trigger)); err != nil {
		return failed("could not start search: %v", err)
	}

	input, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.SearchInput...)
	if !ok {
		return noMatch("could not start search: search input not found")
	}
	if err := f.exec.TypeSlowly(ctx, f.exec.CenterInViewport(ctx, input), phrase+browser.KeyEnter, false); err != nil {
		return failed("typing search phrase: %v", err)
	}
	f.logger.Info("Search submitted.", zap.String("phrase", phrase))
	return succeeded()
}

// searchLanded waits for either the results header or the no-results marker.
func (f *Flow) searchLanded(ctx context.Context) (noResults bool, landed bool) {
	return wait.ForTimeout(ctx, f.poller, "search results", f.opts.Timing.Default, func(ctx context.Context) (bool, bool, error) {
		if f.resolver.Exists(ctx, f.opts.Selectors.NoResults...) {
			return true, true, nil
		}
		return false, f.resolver.Exists(ctx, f.opts.Selectors.ResultsHeader...), nil
	})
}

// Filter expands the filter panel, narrows the results to section and applies the sort order.
// A missing filter control means the results page is not the one expected.
func (f *Flow) Filter(ctx context.Context, section string, sortBy int) Outcome {
	noResults, landed := f.searchLanded(ctx)
	if noResults {
		f.logger.Info("Search returned no results.")
		return noMatch("no search results")
	}
	if !landed {
		f.logger.Warn("Neither results nor the no-results marker appeared.")
	}

	if out := f.openFilters(ctx); !out.OK() {
		return out
	}
	section = strings.TrimSpace(section)
	if section != "" {
		if out := f.selectTopic(ctx, section); !out.OK() {
			return out
		}
	}
	return f.selectSort(ctx, sortBy)
}

func (f *Flow) openFilters(ctx context.Context) Outcome {
	seeAll, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.SeeAllFilters...)
	if !ok {
		return noMatch("filter list not found")
	}
	if err := f.exec.ClickWithFallback(ctx, f.exec.CenterInViewport(ctx, seeAll)); err != nil {
		return failed("expanding filters: %v", err)
	}
	if _, ok := f.resolver.Resolve(ctx, f.opts.Timing.Panel, f.opts.Selectors.FilterPanel...); !ok {
		return noMatch("filter panel did not open")
	}
	return succeeded()
}

func (f *Flow) selectTopic(ctx context.Context, section string) Outcome {
	labels, ok := f.resolver.ResolveAll(ctx, f.opts.Timing.Default, f.opts.Selectors.TopicLabels...)
	if !ok {
		return noMatch("topic %q not found: no topics listed", section)
	}

	candidates := make([]fuzzy.Candidate[browser.Element], 0, len(labels))
	for _, el := range labels {
		text, err := el.Text(ctx)
		if err != nil {
			f.logger.Debug("Unreadable topic label.", zap.Error(err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			candidates = append(candidates, fuzzy.Candidate[browser.Element]{Label: text, Handle: el})
		}
	}
	best, ok := fuzzy.BestMatch(candidates, section)
	if !ok {
		f.logger.Error("Topic not found.", zap.String("section", section))
		return noMatch("topic %q not found", section)
	}

	f.logger.Info("Selecting topic.", zap.String("section", section), zap.String("topic", best.Label))
	if err := f.exec.RetryClick(ctx, "click topic", f.exec.CenterInViewport(ctx, best.Handle)); err != nil {
		return failed("selecting topic %q: %v", best.Label, err)
	}
	return succeeded()
}

func (f *Flow) selectSort(ctx context.Context, sortBy int) Outcome {
	if sortBy == article.SortRelevance {
		return succeeded()
	}
	if !(article.Payload{SortBy: sortBy}).SortKnown() {
		f.logger.Error("Sort parameter does not exist, keeping relevance.", zap.Int("sort_by", sortBy))
		return succeeded()
	}
	control, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.SortSelect...)
	if !ok {
		f.logger.Warn("Sort control not found, keeping relevance.")
		return succeeded()
	}
	if err := f.exec.SelectByValue(ctx, f.exec.CenterInViewport(ctx, control), strconv.Itoa(sortBy)); err != nil {
		return failed("selecting sort order %d: %v", sortBy, err)
	}
	return succeeded()
}

// Collect walks the result pages until limit articles are gathered (no cap when limit is zero),
// there is no next page, or MaxPages pages were read.
func (f *Flow) Collect(ctx context.Context, limit int) ([]article.Article, Outcome) {
	var articles []article.Article
	for page := 1; ; page++ {
		if _, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.ResultsHeader...); !ok {
			return nil, failed("results container not found on page %d", page)
		}
		rows, ok := f.resolver.ResolveAll(ctx, f.opts.Timing.Default, f.opts.Selectors.ResultRows...)
		if !ok {
			f.logger.Info("Page has no result rows.", zap.Int("page", page))
			return articles, succeeded()
		}

		now := f.opts.Now()
		for i, row := range rows {
			a, err := f.extract(ctx, row, now)
			if err != nil {
				f.logger.Error("Aborting collection.", zap.Int("page", page), zap.Int("row", i), zap.Error(err))
				return nil, failed("page %d row %d: %v", page, i, err)
			}
			articles = append(articles, a)
			f.logger.Debug("Article extracted.", zap.Int("count", len(articles)), zap.String("title", a.Title))
			if limit > 0 && len(articles) >= limit {
				return articles, succeeded()
			}
		}

		if page >= f.opts.MaxPages {
			f.logger.Info("Page limit reached.", zap.Int("pages", page), zap.Int("articles", len(articles)))
			return articles, succeeded()
		}
		if !f.nextPage(ctx, rows[0]) {
			return articles, succeeded()
		}
	}
}

// nextPage clicks the next-page control and waits for the first row to change. It reports
// whether there is a new page to read.
func (f *Flow) nextPage(ctx context.Context, firstRow browser.Element) bool {
	next, ok := f.resolver.Resolve(ctx, f.opts.Timing.Default, f.opts.Selectors.NextPage...)
	if !ok {
		f.logger.Info("No further result pages.")
		return false
	}
	before := f.rowTitle(ctx, firstRow)
	if err := f.exec.ClickWithFallback(ctx, f.exec.CenterInViewport(ctx, next)); err != nil {
		f.logger.Error("Could not turn the page.", zap.Error(err))
		return false
	}

	turned := wait.Until(ctx, f.poller, "page turn", f.opts.Timing.PageTurn, func(ctx context.Context) (bool, error) {
		rows, ok := f.resolver.ResolveAll(ctx, 0, f.opts.Selectors.ResultRows...)
		if !ok {
			return false, nil
		}
		return f.rowTitle(ctx, rows[0]) != before, nil
	})
	if !turned {
		f.logger.Warn("Results did not change after clicking next page.")
		return false
	}
	if err := f.page.Evaluate(ctx, "window.scrollTo(0, 0)"); err != nil {
		f.logger.Debug("Scroll to top failed.", zap.Error(err))
	}
	return true
}

func (f *Flow) rowTitle(ctx context.Context, row browser.Element) string {
	el, ok := f.resolver.Within(row).Resolve(ctx, 0, f.opts.Selectors.RowTitle...)
	if !ok {
		return ""
	}
	text, _ := el.Text(ctx)
	return strings.TrimSpace(text)
}

// requiredText reads the trimmed text of a mandatory row part.
func (f *Flow) requiredText(ctx context.Context, r *locator.Resolver, part string, sels []locator.Selector) (string, error) {
	el, ok := r.Resolve(ctx, 0, sels...)
	if !ok {
		return "", fmt.Errorf("%s: %w", part, ErrStructural)
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", fmt.Errorf("%s text: %w", part, err)
	}
	return strings.TrimSpace(text), nil
}

// extract reads one result row. Title, timestamp and description are required; the picture is
// optional.
func (f *Flow) extract(ctx context.Context, row browser.Element, now time.Time) (article.Article, error) {
	r := f.resolver.Within(row)
	f.exec.CenterInViewport(ctx, row)

	title, err := f.requiredText(ctx, r, "title", f.opts.Selectors.RowTitle)
	if err != nil {
		return article.Article{}, err
	}
	stamp, err := f.requiredText(ctx, r, "timestamp", f.opts.Selectors.RowTimestamp)
	if err != nil {
		return article.Article{}, err
	}
	description, err := f.requiredText(ctx, r, "description", f.opts.Selectors.RowDescription)
	if err != nil {
		return article.Article{}, err
	}
	date, err := ResolveDate(stamp, now)
	if err != nil {
		return article.Article{}, err
	}

	a := article.Article{Title: title, Date: date, Description: description}
	if pic, ok := r.Resolve(ctx, f.opts.Timing.Picture, f.opts.Selectors.RowPicture...); ok {
		src, present, err := pic.Attribute(ctx, "src")
		switch {
		case err != nil:
			f.logger.Warn("Could not read picture source.", zap.String("title", title), zap.Error(err))
		case present:
			a.PictureURL = strings.TrimSpace(src)
		}
	} else {
		f.logger.Debug("Article has no picture.", zap.String("title", title))
	}
	return a, nil
}
