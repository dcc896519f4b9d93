package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/headline-cli/internal/article"
	"github.com/xkilldash9x/headline-cli/internal/config"
)

const maxNameRunes = 20

// Downloader fetches article thumbnails with bounded concurrency and a request rate limit.
type Downloader struct {
	client      *http.Client
	dir         string
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewDownloader builds a downloader from the output section. A nil client gets one with the
// configured timeout. A non-positive rate disables limiting.
func NewDownloader(cfg config.OutputConfig, client *http.Client, logger *zap.Logger) *Downloader {
	if client == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.DownloadRate > 0 {
		limit = rate.Limit(cfg.DownloadRate)
	}
	concurrency := cfg.DownloadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Downloader{
		client:      client,
		dir:         cfg.DownloadsDir,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
		logger:      logger.Named("downloader"),
	}
}

// Download saves the thumbnail of every article that has one and records the local path in
// the returned copy. Failures are logged and leave PictureLocalPath empty.
func (d *Downloader) Download(ctx context.Context, articles []article.Article) ([]article.Article, error) {
	out := make([]article.Article, len(articles))
	copy(out, articles)

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return out, fmt.Errorf("failed to create downloads directory: %w", err)
	}

	names := batchNames(out)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range out {
		if out[i].PictureURL == "" {
			continue
		}
		g.Go(func() error {
			target := filepath.Join(d.dir, names[i])
			if err := d.fetch(gctx, out[i].PictureURL, target); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				d.logger.Warn("Thumbnail download failed.", zap.String("url", out[i].PictureURL), zap.Error(err))
				return nil
			}
			out[i].PictureLocalPath = target
			d.logger.Info("Thumbnail saved.", zap.String("path", target))
			return nil
		})
	}
	return out, g.Wait()
}

// batchNames assigns every article with a picture its own file name. Names are compared
// case-insensitively; a repeat gets a -2, -3, ... suffix before the extension.
func batchNames(articles []article.Article) []string {
	names := make([]string, len(articles))
	taken := make(map[string]bool, len(articles))
	for i, a := range articles {
		if a.PictureURL == "" {
			continue
		}
		name := Filename(a.Title, a.PictureURL)
		ext := extension(a.PictureURL)
		base := strings.TrimSuffix(name, ext)
		for n := 2; taken[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		taken[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

func (d *Downloader) fetch(ctx context.Context, rawURL, target string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid thumbnail url: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".thumb-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	// Existing files are overwritten.
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move thumbnail into place: %w", err)
	}
	return nil
}

// Filename derives the thumbnail file name: the title stripped of <>:"/\|?* and cut to 20
// runes, plus the extension of the URL path.
func Filename(title, rawURL string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if runes := []rune(name); len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes])
	}
	if name == "" {
		name = "thumbnail"
	}
	return name + extension(rawURL)
}

func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return path.Ext(p)
}
