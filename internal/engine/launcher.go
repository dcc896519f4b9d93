package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/browser"
	"github.com/xkilldash9x/headline-cli/internal/browser/cdp"
	"github.com/xkilldash9x/headline-cli/internal/browser/htmlpage"
	"github.com/xkilldash9x/headline-cli/internal/config"
)

// NewLauncher builds the browser driver selected by cfg.Driver.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Launcher, error) {
	switch cfg.Driver {
	case config.DriverChrome, "":
		return cdp.NewLauncher(ctx, cfg, logger)
	case config.DriverStatic:
		info, err := os.Stat(cfg.FixturesDir)
		if err != nil {
			return nil, fmt.Errorf("fixtures directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("fixtures path %s is not a directory", cfg.FixturesDir)
		}
		return htmlpage.NewLauncher(os.DirFS(cfg.FixturesDir), logger), nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
}
