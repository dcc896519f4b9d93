package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/export"
	"github.com/xkilldash9x/headline-cli/internal/observability"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()
	viper.Reset()
	cfgFile = ""
	appCfg = nil
	observability.ResetForTest()
	rootCmd = newRootCmd()
	t.Cleanup(observability.ResetForTest)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeConfig writes a config that keeps logs off disk and the timings short.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	return writeFile(t, filepath.Join(dir, "config.yaml"), `
logger:
  level: error
  log_file: ""
timing:
  poll_interval: 1ms
  default_timeout: 20ms
  click_timeout: 20ms
  picture_timeout: 0s
  panel_timeout: 20ms
  page_turn_timeout: 20ms
  select_open_delay: 0s
  key_delay: 0s
  retry_sleep: 0s
`+extra)
}

func TestVersion(t *testing.T) {
	resetForTest(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("headline-cli version %s\n", Version), out)

	resetForTest(t)
	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootWithoutArgsPrintsHelp(t *testing.T) {
	resetForTest(t)
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "collects news articles")
	assert.Contains(t, out, "scrape")
	assert.Contains(t, out, "produce")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "site:\n  max_pages: 0\n")

	_, err := execute(t, "--config", cfg, "scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_pages")
}

func TestProduce(t *testing.T) {
	resetForTest(t)
	m := miniredis.RunT(t)
	dir := t.TempDir()
	csv := writeFile(t, filepath.Join(dir, "in.csv"), "phrase,section,sort_by,results\nstorm,World,1,5\nbudget,,0,0\n")
	cfg := writeConfig(t, dir, fmt.Sprintf("queue:\n  address: %s\n  key: test:items\n", m.Addr()))

	out, err := execute(t, "--config", cfg, "produce", "--input", csv)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued 2 work item(s) on test:items")

	list, err := m.List("test:items")
	require.NoError(t, err)
	require.Len(t, list, 2)
	// LPUSH puts the last row at the head.
	assert.Contains(t, list[0], `"phrase_test":"budget"`)
	assert.Contains(t, list[1], `"phrase_test":"storm"`)
}

func TestScrapeFlagsAreExclusive(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")

	_, err := execute(t, "--config", cfg, "scrape", "--input", "x.csv", "--queue")
	assert.Error(t, err)
}

const fixtureHome = `<html><body>
<button data-element="search-button" data-reveal="input[data-element='search-form-input']">Search</button>
<input data-element="search-form-input" data-submit="/search" hidden>
</body></html>`

const fixtureResults = `<html><body>
<div class="search-results-module-results-header">Results</div>
<span class="see-all-text" data-reveal="div.search-filter-menu-wrapper">See All</span>
<div class="search-filter-menu-wrapper" hidden><ul><li><span>World &amp; Nation</span></li></ul></div>
<ul class="search-results-module-results-menu">
  <li>
    <h3 class="promo-title">Storm season opens</h3>
    <p class="promo-timestamp">May 17, 2024</p>
    <p class="promo-description">Forecasters expect a costly storm year, $2 billion</p>
  </li>
</ul>
</body></html>`

func TestScrapeWithStaticDriver(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "site")
	writeFile(t, filepath.Join(fixtures, "index.html"), fixtureHome)
	writeFile(t, filepath.Join(fixtures, "search.html"), fixtureResults)
	csv := writeFile(t, filepath.Join(dir, "in.csv"), "phrase,section,sort_by,results\nstorm,,0,0\n")
	sheet := filepath.Join(dir, "out", "Articles.xlsx")

	cfg := writeConfig(t, dir, fmt.Sprintf(`
browser:
  driver: static
  fixtures_dir: %s
site:
  base_url: https://news.example.com/
input:
  csv_path: %s
output:
  spreadsheet: %s
  download_images: false
`, fixtures, csv, sheet))

	out, err := execute(t, "--config", cfg, "scrape")
	require.NoError(t, err)
	assert.Contains(t, out, "1 item(s), 1 article(s), 0 failure(s)")

	rows, err := export.ReadWorkbook(sheet, "Articles")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, article.Columns, rows[0])
	assert.Equal(t, "Storm season opens", rows[1][0])
	assert.Equal(t, "2024-05-17T00:00:00", rows[1][1])
	assert.Equal(t, "1", rows[1][5])
	assert.Equal(t, "TRUE", rows[1][7])
}
