// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/headline-cli/internal/locator"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Site    SiteConfig    `mapstructure:"site" yaml:"site"`
	Timing  TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Queue   QueueConfig   `mapstructure:"queue" yaml:"queue"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Browser drivers.
const (
	DriverChrome = "chrome"
	DriverStatic = "static"
)

// BrowserConfig holds settings for the browser driving the site.
type BrowserConfig struct {
	// Driver selects the implementation: "chrome" (chromedp) or "static" (HTML fixtures).
	Driver            string         `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StartupTimeout    time.Duration  `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	// FixturesDir is the root of the HTML fixtures served by the static driver.
	FixturesDir string `mapstructure:"fixtures_dir" yaml:"fixtures_dir"`
}

// SiteConfig describes the one site the scraper knows how to drive.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// MaxPages bounds pagination when a work item asks for an unlimited result count.
	MaxPages  int           `mapstructure:"max_pages" yaml:"max_pages"`
	Selectors SiteSelectors `mapstructure:"selectors" yaml:"selectors"`
}

// SiteSelectors lists every control the interaction protocol needs. Each entry is an ordered
// list of fallbacks.
type SiteSelectors struct {
	SearchButton   []locator.Spec `mapstructure:"search_button" yaml:"search_button"`
	SearchInput    []locator.Spec `mapstructure:"search_input" yaml:"search_input"`
	NoResults      []locator.Spec `mapstructure:"no_results" yaml:"no_results"`
	SeeAllFilters  []locator.Spec `mapstructure:"see_all_filters" yaml:"see_all_filters"`
	FilterPanel    []locator.Spec `mapstructure:"filter_panel" yaml:"filter_panel"`
	TopicLabels    []locator.Spec `mapstructure:"topic_labels" yaml:"topic_labels"`
	SortSelect     []locator.Spec `mapstructure:"sort_select" yaml:"sort_select"`
	ResultsHeader  []locator.Spec `mapstructure:"results_header" yaml:"results_header"`
	ResultRows     []locator.Spec `mapstructure:"result_rows" yaml:"result_rows"`
	RowTitle       []locator.Spec `mapstructure:"row_title" yaml:"row_title"`
	RowTimestamp   []locator.Spec `mapstructure:"row_timestamp" yaml:"row_timestamp"`
	RowDescription []locator.Spec `mapstructure:"row_description" yaml:"row_description"`
	RowPicture     []locator.Spec `mapstructure:"row_picture" yaml:"row_picture"`
	NextPage       []locator.Spec `mapstructure:"next_page" yaml:"next_page"`
}

// TimingConfig tunes every wait the interaction layer performs.
type TimingConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	ClickTimeout    time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	PictureTimeout  time.Duration `mapstructure:"picture_timeout" yaml:"picture_timeout"`
	PanelTimeout    time.Duration `mapstructure:"panel_timeout" yaml:"panel_timeout"`
	PageTurnTimeout time.Duration `mapstructure:"page_turn_timeout" yaml:"page_turn_timeout"`
	SelectOpenDelay time.Duration `mapstructure:"select_open_delay" yaml:"select_open_delay"`
	KeyDelay        time.Duration `mapstructure:"key_delay" yaml:"key_delay"`
	KeyJitter       float64       `mapstructure:"key_jitter" yaml:"key_jitter"`
	RetryAttempts   int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetrySleep      time.Duration `mapstructure:"retry_sleep" yaml:"retry_sleep"`
	WorkItemTimeout time.Duration `mapstructure:"work_item_timeout" yaml:"work_item_timeout"`
}

// QueueConfig configures the Redis list used to exchange work items.
type QueueConfig struct {
	Address    string        `mapstructure:"address" yaml:"address"`
	Password   string        `mapstructure:"password" yaml:"-"`
	DB         int           `mapstructure:"db" yaml:"db"`
	Key        string        `mapstructure:"key" yaml:"key"`
	PopTimeout time.Duration `mapstructure:"pop_timeout" yaml:"pop_timeout"`
}

// InputConfig points at the CSV source of work items.
type InputConfig struct {
	CSVPath string `mapstructure:"csv_path" yaml:"csv_path"`
}

// OutputConfig controls where results land.
type OutputConfig struct {
	Spreadsheet         string        `mapstructure:"spreadsheet" yaml:"spreadsheet"`
	SheetName           string        `mapstructure:"sheet_name" yaml:"sheet_name"`
	DownloadsDir        string        `mapstructure:"downloads_dir" yaml:"downloads_dir"`
	DownloadImages      bool          `mapstructure:"download_images" yaml:"download_images"`
	DownloadConcurrency int           `mapstructure:"download_concurrency" yaml:"download_concurrency"`
	DownloadRate        float64       `mapstructure:"download_rate" yaml:"download_rate"`
	HTTPTimeout         time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Site.Selectors = DefaultSelectors()
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "headline-cli")
	v.SetDefault("logger.log_file", "output/headline.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "white")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "blue")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChrome)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.startup_timeout", "30s")

	// -- Site --
	v.SetDefault("site.base_url", "https://www.latimes.com/")
	v.SetDefault("site.max_pages", 10)

	// -- Timing --
	v.SetDefault("timing.poll_interval", "250ms")
	v.SetDefault("timing.default_timeout", "5s")
	v.SetDefault("timing.click_timeout", "5s")
	v.SetDefault("timing.picture_timeout", "2s")
	v.SetDefault("timing.panel_timeout", "15s")
	v.SetDefault("timing.page_turn_timeout", "10s")
	v.SetDefault("timing.select_open_delay", "500ms")
	v.SetDefault("timing.key_delay", "30ms")
	v.SetDefault("timing.key_jitter", 0.2)
	v.SetDefault("timing.retry_attempts", 2)
	v.SetDefault("timing.retry_sleep", "1s")
	v.SetDefault("timing.work_item_timeout", "15m")

	// -- Queue --
	v.SetDefault("queue.address", "localhost:6379")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.key", "headline:workitems")
	v.SetDefault("queue.pop_timeout", "5s")

	// -- Input --
	v.SetDefault("input.csv_path", "devdata/csv_input.csv")

	// -- Output --
	v.SetDefault("output.spreadsheet", "output/Articles.xlsx")
	v.SetDefault("output.sheet_name", "Articles")
	v.SetDefault("output.downloads_dir", "output/downloads")
	v.SetDefault("output.download_images", true)
	v.SetDefault("output.download_concurrency", 4)
	v.SetDefault("output.download_rate", 5.0)
	v.SetDefault("output.http_timeout", "30s")
}

// DefaultSelectors returns the selectors of the news site's search UI. They are kept out of
// SetDefaults because viper cannot express defaults for lists of structs cleanly.
func DefaultSelectors() SiteSelectors {
	css := func(expr string) []locator.Spec { return []locator.Spec{{CSS: expr}} }
	return SiteSelectors{
		SearchButton:   css(`button[data-element="search-button"]`),
		SearchInput:    css(`input[data-element='search-form-input']`),
		NoResults:      css(`div[class='search-results-module-no-results']`),
		SeeAllFilters:  css(`span[class='see-all-text']`),
		FilterPanel:    css(`div[class='search-filter-menu-wrapper']`),
		TopicLabels:    []locator.Spec{{XPath: `//div[@class='search-filter-menu-wrapper']//li//span`}},
		SortSelect:     css(`select[name='s']`),
		ResultsHeader:  css(`div[class='search-results-module-results-header']`),
		ResultRows:     css(`ul[class*="search-results-module-results-menu"] li`),
		RowTitle:       css(`h3[class='promo-title']`),
		RowTimestamp:   css(`p[class^='promo-timestamp']`),
		RowDescription: css(`p[class='promo-description']`),
		RowPicture:     css(`img[src*=".jpg"]`),
		NextPage:       css(`div[class="search-results-module-next-page"]`),
	}
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("queue.password", "HEADLINE_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Site.Selectors = mergeSelectors(cfg.Site.Selectors, DefaultSelectors())

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// mergeSelectors fills every selector the config file left empty with the built-in one.
func mergeSelectors(got, def SiteSelectors) SiteSelectors {
	pick := func(a, b []locator.Spec) []locator.Spec {
		if len(a) == 0 {
			return b
		}
		return a
	}
	return SiteSelectors{
		SearchButton:   pick(got.SearchButton, def.SearchButton),
		SearchInput:    pick(got.SearchInput, def.SearchInput),
		NoResults:      pick(got.NoResults, def.NoResults),
		SeeAllFilters:  pick(got.SeeAllFilters, def.SeeAllFilters),
		FilterPanel:    pick(got.FilterPanel, def.FilterPanel),
		TopicLabels:    pick(got.TopicLabels, def.TopicLabels),
		SortSelect:     pick(got.SortSelect, def.SortSelect),
		ResultsHeader:  pick(got.ResultsHeader, def.ResultsHeader),
		ResultRows:     pick(got.ResultRows, def.ResultRows),
		RowTitle:       pick(got.RowTitle, def.RowTitle),
		RowTimestamp:   pick(got.RowTimestamp, def.RowTimestamp),
		RowDescription: pick(got.RowDescription, def.RowDescription),
		RowPicture:     pick(got.RowPicture, def.RowPicture),
		NextPage:       pick(got.NextPage, def.NextPage),
	}
}

// expandPaths resolves "~" in every filesystem path.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Browser.FixturesDir,
		&c.Input.CSVPath,
		&c.Output.Spreadsheet,
		&c.Output.DownloadsDir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Browser.Driver) {
	case DriverChrome:
	case DriverStatic:
		if c.Browser.FixturesDir == "" {
			return fmt.Errorf("browser.fixtures_dir is required for the static driver")
		}
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChrome, DriverStatic, c.Browser.Driver)
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if c.Site.MaxPages <= 0 {
		return fmt.Errorf("site.max_pages must be a positive integer")
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing configuration invalid: %w", err)
	}
	if c.Output.DownloadConcurrency <= 0 {
		return fmt.Errorf("output.download_concurrency must be a positive integer")
	}
	for name, specs := range c.Site.Selectors.named() {
		for i, s := range specs {
			if _, err := locator.FromSpec(s); err != nil {
				return fmt.Errorf("site.selectors.%s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

// Validate checks the TimingConfig settings.
func (t *TimingConfig) Validate() error {
	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if t.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must not be negative")
	}
	if t.KeyJitter < 0 || t.KeyJitter >= 1 {
		return fmt.Errorf("key_jitter must be in [0, 1)")
	}
	if t.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be greater than 0")
	}
	return nil
}

func (s SiteSelectors) named() map[string][]locator.Spec {
	return map[string][]locator.Spec{
		"search_button":   s.SearchButton,
		"search_input":    s.SearchInput,
		"no_results":      s.NoResults,
		"see_all_filters": s.SeeAllFilters,
		"filter_panel":    s.FilterPanel,
		"topic_labels":    s.TopicLabels,
		"sort_select":     s.SortSelect,
		"results_header":  s.ResultsHeader,
		"result_rows":     s.ResultRows,
		"row_title":       s.RowTitle,
		"row_timestamp":   s.RowTimestamp,
		"row_description": s.RowDescription,
		"row_picture":     s.RowPicture,
		"next_page":       s.NextPage,
	}
}
