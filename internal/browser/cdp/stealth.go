package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/headline-cli/internal/config"
)

//go:embed evasions.js
var evasionsScript string

const (
	defaultWidth  = 1920
	defaultHeight = 1080
)

// Persona is the browser identity presented to the site.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"`
	Languages []string `json:"languages"`
	Width     int64    `json:"width"`
	Height    int64    `json:"height"`
}

// PersonaFromConfig derives the persona from the browser section.
// A missing viewport falls back to a 1920x1080 desktop window.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	w, h := viewportSize(cfg.Viewport)
	return Persona{
		UserAgent: cfg.UserAgent,
		Platform:  "Win32",
		Languages: []string{"en-US", "en"},
		Width:     w,
		Height:    h,
	}
}

func viewportSize(vp map[string]int) (int64, int64) {
	w, h := int64(defaultWidth), int64(defaultHeight)
	if v := vp["width"]; v > 0 {
		w = int64(v)
	}
	if v := vp["height"]; v > 0 {
		h = int64(v)
	}
	return w, h
}

// acceptLanguage renders the languages as an Accept-Language header with descending q values.
func acceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// personaScript prepends the persona as a global so the evasions can read it.
func personaScript(p Persona) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("window.__headlinePersona = %s;\n%s", data, evasionsScript), nil
}

// Apply returns the tasks that make a fresh tab present the persona.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("failed to enable network domain: %w", err)
			}
			if lang := acceptLanguage(p.Languages); lang != "" {
				headers := network.Headers{"Accept-Language": lang}
				if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
					return fmt.Errorf("failed to set extra headers: %w", err)
				}
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if p.UserAgent == "" {
				return nil
			}
			override := emulation.SetUserAgentOverride(p.UserAgent).
				WithPlatform(p.Platform).
				WithAcceptLanguage(acceptLanguage(p.Languages))
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("failed to override user agent: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1.0, false).Do(ctx); err != nil {
				return fmt.Errorf("failed to set device metrics: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := personaScript(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions: %w", err)
			}
			logger.Debug("Stealth evasions injected.", zap.String("user_agent", p.UserAgent))
			return nil
		}),
	}
}
