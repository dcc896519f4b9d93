package protocol

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/headline-cli/internal/actions"
	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/headline-cli/internal/config"
	"github.com/xkilldash9x/headline-cli/internal/locator"
	"github.com/xkilldash9x/headline-cli/internal/retry"
	"github.com/xkilldash9x/headline-cli/internal/wait"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func testSelectors() Selectors {
	css := func(s string) []locator.Selector { return []locator.Selector{locator.CSS(s)} }
	return Selectors{
		SearchButton:   css("button.search"),
		SearchInput:    css("input.search"),
		NoResults:      css("div.no-results"),
		SeeAllFilters:  css("span.see-all"),
		FilterPanel:    css("div.panel"),
		TopicLabels:    []locator.Selector{locator.XPath("//div[@class='panel']//li//span")},
		SortSelect:     css("select.sort"),
		ResultsHeader:  css("div.header"),
		ResultRows:     css("ul.results li"),
		RowTitle:       css("h3.title"),
		RowTimestamp:   css("p.stamp"),
		RowDescription: css("p.desc"),
		RowPicture:     css("img.thumb"),
		NextPage:       css("div.next"),
	}
}

type row struct {
	title, stamp, desc, pic string
	noDesc                  bool
}

// fakeSite scripts the search UI: the search button reveals the input, Enter reveals the
// first result page, "see all" opens the topic panel and "next" advances a page.
type fakeSite struct {
	page    *browsertest.Page
	button  *browsertest.Node
	input   *browsertest.Node
	seeAll  *browsertest.Node
	sortSel *browsertest.Node
	sortOpt map[string]*browsertest.Node
	next    *browsertest.Node
	topics  []*browsertest.Node
	pages   [][]*browsertest.Node
	current int
}

func buildRow(r row) *browsertest.Node {
	li := browsertest.NewNode("li", "")
	li.SetCSS("h3.title", browsertest.NewNode("h3", "  "+r.title+" "))
	li.SetCSS("p.stamp", browsertest.NewNode("p", r.stamp))
	if !r.noDesc {
		li.SetCSS("p.desc", browsertest.NewNode("p", r.desc))
	}
	if r.pic != "" {
		li.SetCSS("img.thumb", browsertest.NewNode("img", "").WithAttr("src", r.pic))
	}
	return li
}

func newFakeSite(pages [][]row, topics []string, noResults bool) *fakeSite {
	s := &fakeSite{
		page:    browsertest.NewPage(),
		button:  browsertest.NewNode("button", "Search"),
		input:   browsertest.NewNode("input", ""),
		seeAll:  browsertest.NewNode("span", "See All"),
		sortSel: browsertest.NewNode("select", ""),
		sortOpt: map[string]*browsertest.Node{},
		next:    browsertest.NewNode("div", "Next"),
	}
	for _, v := range []string{"0", "1", "2"} {
		s.sortOpt[v] = browsertest.NewNode("option", "opt"+v).WithAttr("value", v)
	}
	s.sortSel.SetCSS("option", s.sortOpt["0"], s.sortOpt["1"], s.sortOpt["2"])
	for _, t := range topics {
		s.topics = append(s.topics, browsertest.NewNode("span", t))
	}
	for _, p := range pages {
		var nodes []*browsertest.Node
		for _, r := range p {
			nodes = append(nodes, buildRow(r))
		}
		s.pages = append(s.pages, nodes)
	}

	s.page.SetCSS("button.search", s.button)
	s.button.OnClick = func(*browsertest.Node) { s.page.SetCSS("input.search", s.input) }
	s.input.OnKeys = func(_ *browsertest.Node, keys string) {
		if keys != browser.KeyEnter {
			return
		}
		if noResults {
			s.page.SetCSS("div.no-results", browsertest.NewNode("div", "No results"))
			return
		}
		s.page.SetCSS("div.header", browsertest.NewNode("div", "Results"))
		s.page.SetCSS("span.see-all", s.seeAll)
		s.page.SetCSS("select.sort", s.sortSel)
		s.showPage(0)
	}
	s.seeAll.OnClick = func(*browsertest.Node) {
		s.page.SetCSS("div.panel", browsertest.NewNode("div", ""))
		s.page.SetXPath("//div[@class='panel']//li//span", s.topics...)
	}
	s.next.OnClick = func(*browsertest.Node) { s.showPage(s.current + 1) }
	return s
}

func (s *fakeSite) showPage(i int) {
	s.current = i
	s.page.SetCSS("ul.results li", s.pages[i]...)
	if i+1 < len(s.pages) {
		s.page.SetCSS("div.next", s.next)
	} else {
		s.page.SetCSS("div.next")
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newFlow(t *testing.T, page browser.Page, maxPages int) *Flow {
	t.Helper()
	logger := zaptest.NewLogger(t)
	poller := wait.NewPoller(logger, 250*time.Millisecond, time.Second).WithSleep(noSleep)
	opts := actions.DefaultOptions()
	opts.Retry = retry.Config{Attempts: 2}
	exec := actions.New(page, poller, opts, logger)
	return NewFlow(page, poller, exec, Options{
		Selectors: testSelectors(),
		Timing:    Timing{Default: time.Second, Picture: 500 * time.Millisecond, Panel: time.Second, PageTurn: time.Second},
		MaxPages:  maxPages,
		Now:       func() time.Time { return testNow },
	}, logger)
}

func resultPages(n, perPage int) [][]row {
	var pages [][]row
	k := 0
	for p := 0; p < n; p++ {
		var rows []row
		for i := 0; i < perPage; i++ {
			k++
			rows = append(rows, row{
				title: fmt.Sprintf("Story %d", k),
				stamp: "January 5, 2024",
				desc:  fmt.Sprintf("Description %d", k),
				pic:   fmt.Sprintf("https://cdn.example.com/p%d.jpg", k),
			})
		}
		pages = append(pages, rows)
	}
	return pages
}

func titles(as []article.Article) []string {
	var out []string
	for _, a := range as {
		out = append(out, a.Title)
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	pages := resultPages(2, 3)
	pages[0][1].stamp = "3 hours ago"
	site := newFakeSite(pages, []string{"World & Nation", "Business", "Sports"}, false)
	flow := newFlow(t, site.page, 10)

	res := flow.Run(context.Background(), article.Payload{Phrase: "economy", Section: "busines", SortBy: 1})

	require.Equal(t, Done, res.State, res.Outcome.String())
	assert.Equal(t, Success, res.Outcome.Kind)
	assert.Equal(t, []string{"Story 1", "Story 2", "Story 3", "Story 4", "Story 5", "Story 6"}, titles(res.Articles))

	assert.Equal(t, "economy"+browser.KeyEnter, site.input.Typed())
	assert.Equal(t, 1, site.topics[1].Clicks, "closest topic clicked")
	assert.Zero(t, site.topics[0].Clicks+site.topics[2].Clicks)
	assert.Equal(t, 1, site.sortOpt["1"].Clicks)
	assert.Equal(t, 1, site.next.Clicks)
	assert.Contains(t, site.page.Scripts, "window.scrollTo(0, 0)")

	want := article.Article{
		Title:       "Story 2",
		Date:        testNow.Add(-3 * time.Hour),
		Description: "Description 2",
		PictureURL:  "https://cdn.example.com/p2.jpg",
	}
	if diff := cmp.Diff(want, res.Articles[1]); diff != "" {
		t.Errorf("article mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).Equal(res.Articles[0].Date))
}

func TestRunStopsAtRequestedCount(t *testing.T) {
	t.Run("within first page", func(t *testing.T) {
		site := newFakeSite(resultPages(2, 3), nil, false)
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", Results: 2})
		require.Equal(t, Done, res.State)
		assert.Len(t, res.Articles, 2)
		assert.Zero(t, site.next.Clicks)
	})

	t.Run("across pages", func(t *testing.T) {
		site := newFakeSite(resultPages(3, 3), nil, false)
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", Results: 4})
		require.Equal(t, Done, res.State)
		assert.Equal(t, []string{"Story 1", "Story 2", "Story 3", "Story 4"}, titles(res.Articles))
		assert.Equal(t, 1, site.next.Clicks)
	})

	t.Run("more requested than exist", func(t *testing.T) {
		site := newFakeSite(resultPages(2, 2), nil, false)
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", Results: 50})
		require.Equal(t, Done, res.State)
		assert.Len(t, res.Articles, 4)
	})

	t.Run("unlimited is bounded by max pages", func(t *testing.T) {
		site := newFakeSite(resultPages(5, 3), nil, false)
		res := newFlow(t, site.page, 2).Run(context.Background(), article.Payload{Phrase: "x"})
		require.Equal(t, Done, res.State)
		assert.Len(t, res.Articles, 6)
		assert.Equal(t, 1, site.next.Clicks)
	})
}

func TestRunNoResults(t *testing.T) {
	site := newFakeSite(nil, nil, true)
	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "zzzz"})

	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, NoMatch, res.Outcome.Kind)
	assert.Empty(t, res.Articles)
}

func TestRunMissingSearchButton(t *testing.T) {
	page := browsertest.NewPage()
	res := newFlow(t, page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, NoMatch, res.Outcome.Kind)
	assert.Contains(t, res.Outcome.Reason, "could not start search")
}

func TestRunTopicNotFound(t *testing.T) {
	site := newFakeSite(resultPages(1, 2), []string{"  ", ""}, false)
	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", Section: "Business"})

	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, NoMatch, res.Outcome.Kind)
	assert.Nil(t, res.Articles)
}

func TestRunAlwaysExpandsFilters(t *testing.T) {
	t.Run("sort only", func(t *testing.T) {
		site := newFakeSite(resultPages(1, 3), nil, false)
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", SortBy: 1, Results: 3})

		require.Equal(t, Done, res.State, res.Outcome.String())
		assert.Equal(t, 1, site.seeAll.Clicks)
		assert.Equal(t, 1, site.sortOpt["1"].Clicks)
	})

	t.Run("no section and relevance", func(t *testing.T) {
		site := newFakeSite(resultPages(1, 1), nil, false)
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

		require.Equal(t, Done, res.State, res.Outcome.String())
		assert.Equal(t, 1, site.seeAll.Clicks)
	})

	t.Run("missing control", func(t *testing.T) {
		site := newFakeSite(resultPages(1, 1), nil, false)
		enter := site.input.OnKeys
		site.input.OnKeys = func(n *browsertest.Node, keys string) {
			enter(n, keys)
			site.page.SetCSS("span.see-all")
		}
		res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", SortBy: 1})

		assert.Equal(t, Aborted, res.State)
		assert.Equal(t, NoMatch, res.Outcome.Kind)
		assert.Contains(t, res.Outcome.Reason, "filter list not found")
		assert.Zero(t, site.sortOpt["1"].Clicks)
		assert.Nil(t, res.Articles)
	})
}

func TestRunUnknownSortKeepsRelevance(t *testing.T) {
	site := newFakeSite(resultPages(1, 1), nil, false)
	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x", SortBy: 9})

	require.Equal(t, Done, res.State)
	assert.Zero(t, site.sortSel.Clicks)
}

func TestRunStructuralFailureDiscardsArticles(t *testing.T) {
	pages := resultPages(2, 3)
	pages[1][1].noDesc = true
	site := newFakeSite(pages, nil, false)

	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, Failure, res.Outcome.Kind)
	assert.Contains(t, res.Outcome.Reason, "description")
	assert.Nil(t, res.Articles)
}

func TestRunUnrecognizedDateFails(t *testing.T) {
	pages := resultPages(1, 2)
	pages[0][0].stamp = "the other day"
	site := newFakeSite(pages, nil, false)

	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

	assert.Equal(t, Failure, res.Outcome.Kind)
	assert.Contains(t, res.Outcome.Reason, "unrecognized date")
}

func TestRunPictureIsOptional(t *testing.T) {
	pages := resultPages(1, 2)
	pages[0][0].pic = ""
	site := newFakeSite(pages, nil, false)

	res := newFlow(t, site.page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

	require.Equal(t, Done, res.State)
	assert.Empty(t, res.Articles[0].PictureURL)
	assert.NotEmpty(t, res.Articles[1].PictureURL)
}

func TestRunInvalidPayload(t *testing.T) {
	res := newFlow(t, browsertest.NewPage(), 10).Run(context.Background(), article.Payload{})
	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, Failure, res.Outcome.Kind)
}

type panickyPage struct{ *browsertest.Page }

func (panickyPage) QueryCSS(context.Context, string) ([]browser.Element, error) { panic("renderer gone") }

func TestRunRecoversPanics(t *testing.T) {
	page := panickyPage{browsertest.NewPage()}
	res := newFlow(t, page, 10).Run(context.Background(), article.Payload{Phrase: "x"})

	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, Failure, res.Outcome.Kind)
	assert.Contains(t, res.Outcome.Reason, "renderer gone")
}

func TestSelectorsFromConfig(t *testing.T) {
	s, err := SelectorsFromConfig(config.DefaultSelectors())
	require.NoError(t, err)
	require.Len(t, s.TopicLabels, 1)
	assert.Equal(t, locator.ByXPath, s.TopicLabels[0].Strategy())
	assert.Equal(t, locator.ByCSS, s.RowTitle[0].Strategy())

	bad := config.DefaultSelectors()
	bad.NextPage = []locator.Spec{{Text: "Next"}}
	_, err = SelectorsFromConfig(bad)
	assert.ErrorContains(t, err, "next_page")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", succeeded().String())
	assert.Equal(t, "no_match: topic \"x\" not found", noMatch("topic %q not found", "x").String())
	assert.Equal(t, "collecting", Collecting.String())
}
