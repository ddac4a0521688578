package cdp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

//go:embed page.js
var pageScript string

// Document drives one tab through the DevTools protocol. Queries and
// listeners live in the page helper script; signals come back through a
// runtime binding and are delivered on a dedicated goroutine.
type Document struct {
	tab        context.Context
	logger     *zap.Logger
	navTimeout time.Duration

	subMu   sync.Mutex
	subs    map[uint64]func(dom.Signal)
	nextSub uint64

	qMu   sync.Mutex
	queue []string
	wake  chan struct{}
}

var _ dom.Document = (*Document)(nil)

func newDocument(tab context.Context, logger *zap.Logger, navTimeout time.Duration) *Document {
	return &Document{
		tab:        tab,
		logger:     logger,
		navTimeout: navTimeout,
		subs:       make(map[uint64]func(dom.Signal)),
		wake:       make(chan struct{}, 1),
	}
}

// listen is registered with chromedp.ListenTarget. It must not block, so
// payloads are queued for pump.
func (d *Document) listen(ev interface{}) {
	called, ok := ev.(*runtime.EventBindingCalled)
	if !ok || called.Name != bindingName {
		return
	}
	d.qMu.Lock()
	d.queue = append(d.queue, called.Payload)
	d.qMu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued payloads in arrival order until ctx is done.
func (d *Document) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
		d.qMu.Lock()
		batch := d.queue
		d.queue = nil
		d.qMu.Unlock()

		for _, payload := range batch {
			sig, err := decodeEvent(d, payload)
			if err != nil {
				d.logger.Debug("Dropping page event.", zap.Error(err))
				continue
			}
			d.emit(sig)
		}
	}
}

func (d *Document) emit(s dom.Signal) {
	d.subMu.Lock()
	fns := make([]func(dom.Signal), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (d *Document) Subscribe(fn func(dom.Signal)) func() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		delete(d.subs, id)
	}
}

// run executes actions on the tab, bounded by both the tab lifetime and ctx.
func (d *Document) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// call invokes a helper method and returns its JSON-encoded result. The
// helper is installed on documents that predate the persistent script.
func (d *Document) call(ctx context.Context, method string, args ...any) (string, error) {
	expr, err := callExpr(method, args...)
	if err != nil {
		return "", err
	}
	for attempt := 0; ; attempt++ {
		var res string
		if err := d.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
			return "", fmt.Errorf("page helper %s failed: %w", method, err)
		}
		if res != missingHelper {
			return res, nil
		}
		if attempt > 0 {
			return "", fmt.Errorf("page helper is not available for %s", method)
		}
		if err := d.install(ctx); err != nil {
			return "", err
		}
	}
}

// install evaluates the helper script in the current document.
func (d *Document) install(ctx context.Context) error {
	if err := d.run(ctx, chromedp.Evaluate(pageScript, nil)); err != nil {
		return fmt.Errorf("failed to install page helper: %w", err)
	}
	return nil
}

func (d *Document) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	raw, err := d.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.UnmarshalFromString(raw, &ok); err != nil {
		return false, fmt.Errorf("unexpected %s result %q: %w", method, raw, err)
	}
	return ok, nil
}

// query runs a selector below the node with key root, or the whole document
// when root is empty.
func (d *Document) query(ctx context.Context, method, root, selector string, all bool) ([]dom.Element, error) {
	args := []any{root, selector}
	if method == "query" {
		args = append(args, all)
	}
	raw, err := d.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	var res queryResult
	if err := json.UnmarshalFromString(raw, &res); err != nil {
		return nil, fmt.Errorf("unexpected %s result: %w", method, err)
	}
	if res.Missing {
		return nil, dom.NewElementNotFoundError(root)
	}
	out := make([]dom.Element, 0, len(res.Elements))
	for _, s := range res.Elements {
		out = append(out, newElement(d, s))
	}
	return out, nil
}

func first(els []dom.Element, err error) (dom.Element, error) {
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (d *Document) QueryFirst(ctx context.Context, selector string) (dom.Element, error) {
	return first(d.query(ctx, "query", "", selector, false))
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	return d.query(ctx, "query", "", selector, true)
}

func (d *Document) info(ctx context.Context) (pageInfo, error) {
	var info pageInfo
	raw, err := d.call(ctx, "info")
	if err != nil {
		return info, err
	}
	if err := json.UnmarshalFromString(raw, &info); err != nil {
		return info, fmt.Errorf("unexpected page info: %w", err)
	}
	return info, nil
}

func (d *Document) Location(ctx context.Context) (*url.URL, error) {
	info, err := d.info(ctx)
	if err != nil {
		return nil, err
	}
	return url.Parse(info.URL)
}

func (d *Document) Referrer(ctx context.Context) (string, error) {
	info, err := d.info(ctx)
	return info.Referrer, err
}

// Navigate resolves target against the current location and waits for the
// new document to load.
func (d *Document) Navigate(ctx context.Context, target string) error {
	dest := target
	if u, err := url.Parse(target); err == nil && !u.IsAbs() {
		if loc, err := d.Location(ctx); err == nil {
			dest = loc.ResolveReference(u).String()
		}
	}
	navCtx := ctx
	if d.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.navTimeout)
		defer cancel()
	}
	d.logger.Debug("Navigating.", zap.String("url", dest))
	if err := d.run(navCtx, chromedp.Navigate(dest)); err != nil {
		return &dom.NavigationError{URL: dest, Err: err}
	}
	return nil
}

func (d *Document) ScrollBy(ctx context.Context, dy int) error {
	_, err := d.call(ctx, "scrollBy", dy)
	return err
}

func (d *Document) Intercept(ctx context.Context, rule dom.ClickRule) error {
	if _, err := rule.Compile(); err != nil {
		return err
	}
	_, err := d.call(ctx, "intercept", rule)
	return err
}

func (d *Document) SetArmed(ctx context.Context, armed bool) error {
	_, err := d.call(ctx, "setArmed", armed)
	return err
}

func (d *Document) ObserveMutations(ctx context.Context) (func(), error) {
	raw, err := d.call(ctx, "observe")
	if err != nil {
		return nil, err
	}
	var id int
	if err := json.UnmarshalFromString(raw, &id); err != nil {
		return nil, fmt.Errorf("unexpected observer id %q: %w", raw, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := d.call(stopCtx, "disconnect", id); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Debug("Failed to disconnect mutation observer.", zap.Error(err))
			}
		})
	}, nil
}

func (d *Document) LocalStorage() dom.Storage { return localStorage{d} }

type localStorage struct{ d *Document }

const (
	jsGetItem = `(function(k){try{var v=window.localStorage.getItem(k);return v===null?"":v;}catch(e){return "\u0000";}})(%s)`
	jsSetItem = `(function(k,v){try{window.localStorage.setItem(k,v);return true;}catch(e){return false;}})(%s,%s)`
)

// errStorageUnavailable is returned when the page refuses storage access.
var errStorageUnavailable = errors.New("localStorage is unavailable")

func (s localStorage) GetItem(ctx context.Context, key string) (string, error) {
	k, err := json.MarshalToString(key)
	if err != nil {
		return "", err
	}
	var v string
	if err := s.d.run(ctx, chromedp.Evaluate(fmt.Sprintf(jsGetItem, k), &v)); err != nil {
		return "", err
	}
	if v == "\x00" {
		return "", errStorageUnavailable
	}
	return v, nil
}

func (s localStorage) SetItem(ctx context.Context, key, value string) error {
	k, err := json.MarshalToString(key)
	if err != nil {
		return err
	}
	v, err := json.MarshalToString(value)
	if err != nil {
		return err
	}
	var ok bool
	if err := s.d.run(ctx, chromedp.Evaluate(fmt.Sprintf(jsSetItem, k, v), &ok)); err != nil {
		return err
	}
	if !ok {
		return errStorageUnavailable
	}
	return nil
}
