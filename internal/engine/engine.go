// Package engine runs work items through the search protocol, one browser page per item.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/actions"
	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/config"
	"github.com/xkilldash9x/headline-cli/internal/export"
	"github.com/xkilldash9x/headline-cli/internal/protocol"
	"github.com/xkilldash9x/headline-cli/internal/retry"
	"github.com/xkilldash9x/headline-cli/internal/wait"
	"github.com/xkilldash9x/headline-cli/internal/workitem"
)

const closeTimeout = 30 * time.Second

// -- Interfaces for Dependency Inversion --

// Downloader fetches thumbnails and returns the articles with their local paths set.
type Downloader interface {
	Download(ctx context.Context, articles []article.Article) ([]article.Article, error)
}

// Exporter persists the articles of a whole run.
type Exporter interface {
	Export(ctx context.Context, articles []article.Article) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, articles []article.Article) error

func (f ExporterFunc) Export(ctx context.Context, articles []article.Article) error {
	return f(ctx, articles)
}

// WorkbookExporter writes the run to the configured spreadsheet.
func WorkbookExporter(cfg config.OutputConfig) Exporter {
	return ExporterFunc(func(_ context.Context, articles []article.Article) error {
		return export.WriteWorkbook(cfg.Spreadsheet, cfg.SheetName, articles)
	})
}

// ItemResult is what one work item produced.
type ItemResult struct {
	Item     workitem.Item
	Outcome  protocol.Outcome
	State    protocol.State
	Articles []article.Article
	Err      error
}

// Failed reports whether the item has to be recorded as a failure.
func (r ItemResult) Failed() bool {
	return r.Err != nil || r.Outcome.Kind == protocol.Failure
}

// Report summarizes a run.
type Report struct {
	RunID    string
	Items    []ItemResult
	Articles int
	Failures int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDownloader fetches thumbnails of collected articles.
func WithDownloader(d Downloader) Option {
	return func(e *Engine) { e.downloader = d }
}

// WithExporter replaces the workbook writer.
func WithExporter(x Exporter) Option {
	return func(e *Engine) { e.exporter = x }
}

func WithFailureReporter(r workitem.FailureReporter) Option {
	return func(e *Engine) { e.failures = r }
}

// WithClock anchors relative article timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithSleep replaces the pause used by polling and typing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// Engine processes work items sequentially. Every item gets a fresh page from the launcher,
// so no browser state is shared between items.
type Engine struct {
	cfg        *config.Config
	launcher   browser.Launcher
	selectors  protocol.Selectors
	downloader Downloader
	exporter   Exporter
	failures   workitem.FailureReporter
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger

	stateLock sync.Mutex
	isRunning bool
}

// New validates the dependencies and compiles the site selectors.
func New(cfg *config.Config, launcher browser.Launcher, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if launcher == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	selectors, err := protocol.SelectorsFromConfig(cfg.Site.Selectors)
	if err != nil {
		return nil, fmt.Errorf("invalid site selectors: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		launcher:  launcher,
		selectors: selectors,
		exporter:  WorkbookExporter(cfg.Output),
		now:       time.Now,
		logger:    logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run drains src. Item failures are reported and do not stop the run; only a source error
// or cancellation does. The articles of every item are exported once, at the end.
func (e *Engine) Run(ctx context.Context, src workitem.Source) (Report, error) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		return Report{}, errors.New("engine is already running")
	}
	e.isRunning = true
	e.stateLock.Unlock()
	defer func() {
		e.stateLock.Lock()
		e.isRunning = false
		e.stateLock.Unlock()
	}()

	report := Report{RunID: uuid.NewString()}
	logger := e.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Run started.")

	var all []article.Article
	var runErr error
	for {
		item, err := src.Next(ctx)
		if errors.Is(err, workitem.ErrDrained) {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("failed to fetch next work item: %w", err)
			break
		}

		res := e.Process(ctx, item, logger)
		report.Items = append(report.Items, res)
		all = append(all, res.Articles...)
		if res.Failed() {
			report.Failures++
			e.reportFailure(ctx, res, logger)
		}
	}
	report.Articles = len(all)

	if len(report.Items) > 0 && e.exporter != nil {
		// Export even when the run was cut short so finished items are not lost.
		exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		err := e.exporter.Export(exportCtx, all)
		cancel()
		if err != nil {
			logger.Error("Export failed.", zap.Error(err))
			runErr = errors.Join(runErr, fmt.Errorf("export failed: %w", err))
		} else {
			logger.Info("Articles exported.", zap.Int("articles", len(all)))
		}
	}

	logger.Info("Run finished.",
		zap.Int("items", len(report.Items)),
		zap.Int("articles", report.Articles),
		zap.Int("failures", report.Failures))
	return report, runErr
}

// Process runs a single item on its own page.
func (e *Engine) Process(ctx context.Context, item workitem.Item, logger *zap.Logger) (res ItemResult) {
	res.Item = item
	logger = logger.With(zap.String("item_id", item.ID))
	logger.Info("Processing work item.", zap.Stringer("payload", item.Payload))

	timeout := e.cfg.Timing.WorkItemTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := e.launcher.NewPage(itemCtx)
	if err != nil {
		res.Err = fmt.Errorf("failed to open page: %w", err)
		res.State = protocol.Aborted
		logger.Error("Could not open a page.", zap.Error(err))
		return res
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("Failed to close page.", zap.Error(err))
		}
	}()

	retryCfg := e.retryConfig(map[string]any{"item_id": item.ID, "url": e.cfg.Site.BaseURL})
	err = retry.Do(itemCtx, retryCfg, logger, "open site", func(ctx context.Context) error {
		return page.Navigate(ctx, e.cfg.Site.BaseURL)
	}, nil)
	if err != nil {
		res.Err = err
		res.State = protocol.Aborted
		return res
	}

	poller := wait.NewPoller(logger, e.cfg.Timing.PollInterval, e.cfg.Timing.DefaultTimeout)
	if e.sleep != nil {
		poller = poller.WithSleep(e.sleep)
	}
	exec := actions.New(page, poller, e.actionOptions(), logger)
	flow := protocol.NewFlow(page, poller, exec, protocol.Options{
		Selectors: e.selectors,
		Timing: protocol.Timing{
			Default:  e.cfg.Timing.DefaultTimeout,
			Picture:  e.cfg.Timing.PictureTimeout,
			Panel:    e.cfg.Timing.PanelTimeout,
			PageTurn: e.cfg.Timing.PageTurnTimeout,
		},
		MaxPages: e.cfg.Site.MaxPages,
		Now:      e.now,
	}, logger)

	run := flow.Run(itemCtx, item.Payload)
	res.Outcome, res.State = run.Outcome, run.State
	if run.State != protocol.Done {
		if run.Outcome.Kind == protocol.Failure {
			logger.Error("Work item failed.", zap.Stringer("outcome", run.Outcome))
		} else {
			logger.Info("Work item ended without results.", zap.Stringer("outcome", run.Outcome))
		}
		return res
	}

	articles := article.Annotate(run.Articles, item.Payload.Phrase)
	if e.downloader != nil && e.cfg.Output.DownloadImages {
		articles, err = e.downloader.Download(itemCtx, articles)
		if err != nil {
			logger.Warn("Thumbnail downloads incomplete.", zap.Error(err))
		}
	}
	res.Articles = articles
	logger.Info("Work item complete.", zap.Int("articles", len(articles)))
	return res
}

func (e *Engine) retryConfig(md map[string]any) retry.Config {
	return retry.Config{Attempts: e.cfg.Timing.RetryAttempts, Sleep: e.cfg.Timing.RetrySleep, Metadata: md}
}

func (e *Engine) actionOptions() actions.Options {
	t := e.cfg.Timing
	return actions.Options{
		ClickTimeout:    t.ClickTimeout,
		KeyDelay:        t.KeyDelay,
		KeyJitter:       t.KeyJitter,
		SelectOpenDelay: t.SelectOpenDelay,
		Retry:           retry.Config{Attempts: t.RetryAttempts, Sleep: t.RetrySleep},
	}
}

func (e *Engine) reportFailure(ctx context.Context, res ItemResult, logger *zap.Logger) {
	if e.failures == nil {
		return
	}
	reason := res.Outcome.String()
	md := map[string]any{
		"state":   res.State.String(),
		"outcome": res.Outcome.Kind.String(),
	}
	if res.Err != nil {
		reason = res.Err.Error()
		var fault *retry.Fault
		if errors.As(res.Err, &fault) {
			for k, v := range fault.Metadata() {
				md[k] = v
			}
		}
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := e.failures.ReportFailure(reportCtx, res.Item, reason, md); err != nil {
		logger.Error("Failed to record work item failure.", zap.String("item_id", res.Item.ID), zap.Error(err))
	}
}
