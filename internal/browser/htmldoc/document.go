// internal/browser/htmldoc/document.go
package htmldoc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

// Loader returns the markup served for a committed navigation.
type Loader func(ctx context.Context, target *url.URL) (string, error)

// Event is a synthetic input event dispatched on an element.
type Event struct {
	Type string // click, keydown, keyup
	// Target is the element key.
	Target string
	Key    string
	// Prevented reports whether a listener suppressed the default action.
	Prevented bool
}

// Option configures a Document.
type Option func(*Document)

// WithReferrer sets document.referrer for the initial document.
func WithReferrer(ref string) Option {
	return func(d *Document) { d.referrer = ref }
}

// WithLoader makes Navigate commit: the target markup is loaded, the location
// changes and a ready signal is emitted. Without a loader navigations are
// only recorded, like a request that is still in flight.
func WithLoader(l Loader) Option {
	return func(d *Document) { d.loader = l }
}

// Document is a static, in-memory dom.Document backed by goquery. It never
// talks to the network. Listener semantics follow the live page helper: the
// delegated capture listener on the root runs before any directly bound
// listener and stops propagation when it suppresses a click.
type Document struct {
	mu sync.Mutex

	doc      *goquery.Document
	location *url.URL
	referrer string
	loader   Loader

	keys    map[*html.Node]string
	nextKey int

	rule      *dom.RuleMatcher
	armed     bool
	bound     map[*html.Node][]string
	observing int

	storage map[string]string

	events      []Event
	navigations []string

	subs    map[int]func(dom.Signal)
	nextSub int
}

var _ dom.Document = (*Document)(nil)

// New parses markup as the document loaded at rawURL.
func New(rawURL, markup string, opts ...Option) (*Document, error) {
	loc, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid document url %q: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	d := &Document{
		doc:      doc,
		location: loc,
		keys:     make(map[*html.Node]string),
		bound:    make(map[*html.Node][]string),
		storage:  make(map[string]string),
		subs:     make(map[int]func(dom.Signal)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MustNew is New for fixtures; it panics on error.
func MustNew(rawURL, markup string, opts ...Option) *Document {
	d, err := New(rawURL, markup, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// -- Queries --

func (d *Document) QueryFirst(ctx context.Context, selector string) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.first(d.doc.Find(selector)), nil
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.all(d.doc.Find(selector)), nil
}

// first and all require d.mu.
func (d *Document) first(sel *goquery.Selection) dom.Element {
	if sel.Length() == 0 {
		return nil
	}
	return d.wrap(sel.Nodes[0])
}

func (d *Document) all(sel *goquery.Selection) []dom.Element {
	out := make([]dom.Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

func (d *Document) wrap(n *html.Node) *Element {
	key, ok := d.keys[n]
	if !ok {
		d.nextKey++
		key = fmt.Sprintf("n%d", d.nextKey)
		d.keys[n] = key
	}
	return d.wrapSnapshot(n, key)
}

// selection returns a selection over n if n still belongs to the current tree.
func (d *Document) selection(n *html.Node, key string) (*goquery.Selection, error) {
	sel := d.doc.FindNodes(n)
	if sel.Length() == 0 {
		return nil, dom.NewElementNotFoundError(key)
	}
	return sel, nil
}

// -- Location --

func (d *Document) Location(ctx context.Context) (*url.URL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := *d.location
	return &u, nil
}

func (d *Document) Referrer(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.referrer, nil
}

// Navigate records the navigation and, when a Loader is configured, commits
// it by replacing the tree. A committed navigation drops every listener and
// the armed flag, like a fresh page.
func (d *Document) Navigate(ctx context.Context, target string) error {
	d.mu.Lock()
	ref, err := d.location.Parse(target)
	if err != nil {
		d.mu.Unlock()
		return &dom.NavigationError{URL: target, Err: err}
	}
	d.navigations = append(d.navigations, ref.String())
	loader := d.loader
	d.mu.Unlock()

	if loader == nil {
		return nil
	}
	markup, err := loader(ctx, ref)
	if err != nil {
		return &dom.NavigationError{URL: ref.String(), Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return &dom.NavigationError{URL: ref.String(), Err: err}
	}

	d.mu.Lock()
	d.referrer = d.location.String()
	d.location = ref
	d.doc = doc
	d.keys = make(map[*html.Node]string)
	d.bound = make(map[*html.Node][]string)
	d.rule = nil
	d.armed = false
	d.observing = 0
	d.mu.Unlock()

	d.emit(dom.Signal{Kind: dom.SignalReady, URL: ref.String()})
	return nil
}

// ScrollBy has no layout to move; it is accepted and ignored.
func (d *Document) ScrollBy(ctx context.Context, dy int) error { return nil }

func (d *Document) LocalStorage() dom.Storage { return storage{d} }

type storage struct{ d *Document }

func (s storage) GetItem(ctx context.Context, key string) (string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.d.storage[key], nil
}

func (s storage) SetItem(ctx context.Context, key, value string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.storage[key] = value
	return nil
}

// -- Interception --

func (d *Document) Intercept(ctx context.Context, rule dom.ClickRule) error {
	m, err := rule.Compile()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rule == nil {
		d.rule = m
	}
	return nil
}

func (d *Document) SetArmed(ctx context.Context, armed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = armed
	return nil
}

// Armed reports the page-side armed flag.
func (d *Document) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Document) ObserveMutations(ctx context.Context) (func(), error) {
	d.mu.Lock()
	d.observing++
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.observing > 0 {
				d.observing--
			}
			d.mu.Unlock()
		})
	}, nil
}

func (d *Document) Subscribe(fn func(dom.Signal)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// emit delivers s synchronously. It must be called without d.mu held.
func (d *Document) emit(s dom.Signal) {
	d.mu.Lock()
	fns := make([]func(dom.Signal), 0, len(d.subs))
	for i := 0; i < d.nextSub; i++ {
		if fn, ok := d.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// -- Test and diagnostic helpers --

// Mutate runs fn against the tree and notifies mutation observers.
func (d *Document) Mutate(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	fn(d.doc)
	observed := d.observing > 0
	d.mu.Unlock()
	if observed {
		d.emit(dom.Signal{Kind: dom.SignalMutation})
	}
}

// Ready emits the ready signal for the current document.
func (d *Document) Ready() {
	d.mu.Lock()
	u := d.location.String()
	d.mu.Unlock()
	d.emit(dom.Signal{Kind: dom.SignalReady, URL: u})
}

// Events returns the synthetic events dispatched so far.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Navigations returns every navigation target requested so far.
func (d *Document) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigations...)
}

// ListenerCount reports how many direct click listeners are attached across
// all elements.
func (d *Document) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, l := range d.bound {
		n += len(l)
	}
	return n
}
