package cdp

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
)

// Flags returns the Chrome command line switches for cfg, keyed without the
// leading dashes. Playback needs audio and autoplay, so the chromedp
// defaults that disable them are overridden.
func Flags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"disable-dev-shm-usage":                  true,
		"disable-background-timer-throttling":    true,
		"disable-backgrounding-occluded-windows": true,
		"disable-renderer-backgrounding":         true,
		"mute-audio":                             false,
		"autoplay-policy":                        "no-user-gesture-required",
	}
	if cfg.Headless {
		flags["headless"] = true
		flags["no-sandbox"] = true
	} else {
		flags["headless"] = false
		flags["hide-scrollbars"] = false
	}

	// Extra args win over everything above.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if k, v, ok := strings.Cut(arg, "="); ok {
			flags[k] = v
		} else {
			flags[arg] = true
		}
	}
	return flags
}

// AllocatorOptions translates cfg into exec allocator options on top of the
// chromedp defaults.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := Flags(cfg)
	for _, k := range slices.Sorted(maps.Keys(flags)) {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// NewAllocator launches Chrome, or attaches to the DevTools endpoint at
// cfg.RemoteURL when one is configured.
func NewAllocator(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	if cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
}
