// internal/browser/dom/document.go
package dom

import (
	"context"
	"net/url"
)

// Queryer runs selector queries against a document or a subtree.
type Queryer interface {
	// QueryFirst returns the first match, or nil.
	QueryFirst(ctx context.Context, selector string) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Element is a transient handle into the live document tree. Handles are
// produced by a query and consumed immediately; the tree mutates underneath
// them, so callers must not hold on to an Element across polling ticks.
//
// Attribute and text accessors read the state captured when the handle was
// produced. The context-taking methods go back to the document.
type Element interface {
	// Key identifies the underlying node for the lifetime of the document.
	// Two handles with the same Key refer to the same node.
	Key() string
	// Tag returns the lower-case tag name.
	Tag() string
	// Attr returns the attribute value, or "" if it is absent.
	Attr(name string) string
	// Text returns the textContent of the element.
	Text() string
	HasClass(name string) bool

	// Closest returns the nearest inclusive ancestor matching selector, or nil.
	Closest(ctx context.Context, selector string) (Element, error)
	// Queries on an element match descendants only.
	Queryer

	SetAttr(ctx context.Context, name, value string) error

	// DispatchClick fires a synthetic, bubbling, cancelable click on the element.
	DispatchClick(ctx context.Context) error
	// DispatchKey fires a synthetic keydown/keyup pair for key.
	DispatchKey(ctx context.Context, key string) error

	// BindClick attaches a capture-phase click listener directly on the
	// element. The listener honours the document's armed flag and reports
	// each click as a SignalClick carrying source.
	BindClick(ctx context.Context, source string) error
}

// Storage is a page-scoped string key/value store (window.localStorage on a
// live page).
type Storage interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
}

// Document is the document/location surface of a single browser tab.
type Document interface {
	Queryer

	// Location returns the current document URL.
	Location(ctx context.Context) (*url.URL, error)
	// Referrer returns document.referrer.
	Referrer(ctx context.Context) (string, error)
	// Navigate performs a full navigation (not a soft route change).
	Navigate(ctx context.Context, target string) error
	// ScrollBy nudges the viewport vertically to trigger lazy rendering.
	ScrollBy(ctx context.Context, dy int) error

	LocalStorage() Storage

	// Intercept installs the delegated capture-phase click listener on the
	// document root. Clicks whose target (or closest enclosing button)
	// satisfies rule are suppressed while the document is armed and are
	// reported as SignalClick. Installing twice is a no-op.
	Intercept(ctx context.Context, rule ClickRule) error
	// SetArmed controls whether qualifying clicks are suppressed at the page.
	SetArmed(ctx context.Context, armed bool) error
	// ObserveMutations starts emitting SignalMutation for structural changes
	// (childList, subtree). The returned stop function disconnects it.
	ObserveMutations(ctx context.Context) (stop func(), err error)

	// Subscribe registers fn for document signals. The returned function
	// removes the subscription.
	Subscribe(fn func(Signal)) (cancel func())
}
