// Package reference establishes and caches the title page URL of the episode
// that is currently playing.
package reference

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

const (
	// DefaultBaseURL is the origin title URLs are derived against.
	DefaultBaseURL = "https://www.netflix.com"
	// StorageKey is the page-scoped local storage slot.
	StorageKey = "netflixShuffleTitleUrl"
)

var watchPath = regexp.MustCompile(`^/watch/(\d+)`)

// IsWatchRoute reports whether path is a playback route.
func IsWatchRoute(path string) bool {
	return strings.Contains(path, "/watch/")
}

// IsTitleURL reports whether u already points at a title page.
func IsTitleURL(u string) bool {
	return strings.Contains(u, "/title/")
}

// Deriver maps a location path to a title URL, or "" when the path carries
// no episode identifier.
type Deriver func(path string) string

// NewDeriver returns a Deriver producing URLs under base.
func NewDeriver(base string) Deriver {
	base = strings.TrimRight(base, "/")
	return func(path string) string {
		m := watchPath.FindStringSubmatch(path)
		if m == nil {
			return ""
		}
		return base + "/title/" + m[1]
	}
}

// Derive maps /watch/<id> to the title URL under DefaultBaseURL.
func Derive(path string) string {
	return NewDeriver(DefaultBaseURL)(path)
}

// DeriveFromURL maps an absolute watch URL under base to its title URL.
func DeriveFromURL(base, raw string) string {
	base = strings.TrimRight(base, "/")
	rest, ok := strings.CutPrefix(raw, base)
	if !ok {
		return ""
	}
	return NewDeriver(base)(rest)
}

// Tracker holds the reference for one page view.
type Tracker struct {
	logger *zap.Logger
	derive Deriver

	mu      sync.Mutex
	current string
}

// NewTracker creates a tracker. A nil derive uses DefaultBaseURL.
func NewTracker(logger *zap.Logger, derive Deriver) *Tracker {
	if derive == nil {
		derive = NewDeriver(DefaultBaseURL)
	}
	return &Tracker{logger: logger.Named("reference"), derive: derive}
}

// Prime establishes the reference for a watch page. Precedence: the persisted
// value, then a referrer that already points at a title page, then derivation
// from the location path. The chosen value is cached and written to the
// page-scoped slot. It returns "" when nothing could be established or the
// document is not a watch route.
func (t *Tracker) Prime(ctx context.Context, doc dom.Document, persisted string) (string, error) {
	loc, err := doc.Location(ctx)
	if err != nil {
		return "", err
	}
	if !IsWatchRoute(loc.Path) {
		return "", nil
	}

	value, source := persisted, "persisted"
	if value == "" {
		ref, err := doc.Referrer(ctx)
		if err != nil {
			return "", err
		}
		if IsTitleURL(ref) {
			value, source = ref, "referrer"
		}
	}
	if value == "" {
		value, source = t.derive(loc.Path), "watch-id"
	}
	if value == "" {
		t.logger.Debug("No reference could be established.", zap.String("path", loc.Path))
		return "", nil
	}

	t.set(value)
	if err := doc.LocalStorage().SetItem(ctx, StorageKey, value); err != nil {
		t.logger.Debug("Could not write page cache.", zap.Error(err))
	}
	t.logger.Info("Reference primed.", zap.String("source", source), zap.String("url", value))
	return value, nil
}

// Current returns the cached reference, falling back to the page slot and
// finally to derivation from the current location.
func (t *Tracker) Current(ctx context.Context, doc dom.Document) string {
	if v := t.Cached(); v != "" {
		return v
	}
	if v, err := doc.LocalStorage().GetItem(ctx, StorageKey); err == nil && v != "" {
		t.set(v)
		return v
	}
	loc, err := doc.Location(ctx)
	if err != nil {
		return ""
	}
	if v := t.derive(loc.Path); v != "" {
		t.set(v)
		if err := doc.LocalStorage().SetItem(ctx, StorageKey, v); err != nil {
			t.logger.Debug("Could not write page cache.", zap.Error(err))
		}
		return v
	}
	return ""
}

// Adopt replaces the cached value. Empty values are ignored.
func (t *Tracker) Adopt(url string) {
	if url == "" {
		return
	}
	t.set(url)
	t.logger.Debug("Reference adopted.", zap.String("url", url))
}

// Cached returns the in-process value without consulting the page.
func (t *Tracker) Cached() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) set(v string) {
	t.mu.Lock()
	t.current = v
	t.mu.Unlock()
}
