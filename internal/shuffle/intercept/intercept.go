// Package intercept replaces the player's sequential "next episode" advance
// with a return to the title page, where the picker chooses again.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/messenger"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/resolver"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// BoundAttr marks a control that already carries a direct listener.
const BoundAttr = "data-netflix-shuffle-bound"

// Signal sources.
const (
	SourceDelegated = "delegated-click"
	SourceDirect    = "direct-button"
	SourceSeamless  = "seamless-poll"
)

// Redirect results recorded in metrics.
const (
	redirectNavigated        = "navigated"
	redirectDebounced        = "debounced"
	redirectMissingReference = "missing-reference"
	redirectFailed           = "failed"
)

const requestTimeout = 2 * time.Second

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMetrics records signals, redirects and bindings.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// Interceptor watches three independent channels for the next episode
// control (delegated clicks, directly bound controls and the seamless
// auto-advance affordance) and funnels them into one debounced consumer.
type Interceptor struct {
	doc     dom.Document
	store   store.Store
	msgr    messenger.Messenger
	tracker *reference.Tracker
	cfg     config.InterceptorConfig
	metrics *observability.Metrics
	logger  *zap.Logger

	enabled  atomic.Bool
	debounce *rate.Sometimes

	installMu sync.Mutex
	bindMu    sync.Mutex

	observerMu       sync.Mutex
	observerDeadline time.Time
	stopObserver     func()

	// Periodic channels belong to the current document; Install restarts them.
	channelsMu     sync.Mutex
	base           context.Context
	cancelChannels context.CancelFunc
	channels       sync.WaitGroup
}

// New creates an Interceptor for doc.
func New(doc dom.Document, st store.Store, msgr messenger.Messenger, tracker *reference.Tracker, cfg config.InterceptorConfig, logger *zap.Logger, opts ...Option) *Interceptor {
	i := &Interceptor{
		doc:              doc,
		store:            st,
		msgr:             msgr,
		tracker:          tracker,
		cfg:              cfg,
		logger:           logger.Named("intercept"),
		debounce: &rate.Sometimes{Interval: cfg.Debounce},
	}
	if cfg.Debounce <= 0 {
		// A zero Sometimes fires only once; without a window every trigger runs.
		i.debounce = &rate.Sometimes{Every: 1}
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Enabled returns the cached enabled flag. It may lag the store briefly.
func (i *Interceptor) Enabled() bool { return i.enabled.Load() }

// Run installs the interceptor and serves its channels until ctx is done.
// Every periodic channel stops at its own lifetime, counted from the latest
// Install.
func (i *Interceptor) Run(ctx context.Context) error {
	i.channelsMu.Lock()
	i.base = ctx
	i.channelsMu.Unlock()

	signals := make(chan dom.Signal, 64)
	unsubscribeDoc := i.doc.Subscribe(func(s dom.Signal) {
		switch s.Kind {
		case dom.SignalClick:
			select {
			case signals <- s:
			case <-ctx.Done():
			}
		case dom.SignalMutation:
			select {
			case signals <- s:
			default:
			}
		}
	})
	defer unsubscribeDoc()

	unsubscribeStore := i.store.Subscribe(func(c store.Change) {
		if ctx.Err() != nil {
			return
		}
		switch c.Key {
		case store.KeyEnabled:
			i.enabled.Store(store.ParseBool(c.New))
		case store.KeyLastTitleURL:
			i.tracker.Adopt(c.New)
		default:
			return
		}
		i.rearm(ctx)
	})
	defer unsubscribeStore()

	if err := i.Install(ctx); err != nil {
		i.stopChannels()
		return err
	}
	defer i.stopObserving()
	// Channels stop first so none can restart the observer.
	defer i.stopChannels()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case s := <-signals:
				switch s.Kind {
				case dom.SignalClick:
					i.handle(gctx, s.Source)
				case dom.SignalMutation:
					i.BindControls(gctx)
				}
			}
		}
	})
	return g.Wait()
}

// Install sets up interception on the current document: the delegated
// listener, the mutation observer, the reference and the direct bindings.
// It is safe to call again after a new document loads. While Run is active
// it also restarts the periodic channels with fresh lifetimes, replacing the
// previous document's.
func (i *Interceptor) Install(ctx context.Context) error {
	i.installMu.Lock()
	defer i.installMu.Unlock()

	if err := i.doc.Intercept(ctx, resolver.NextControlRule); err != nil {
		return fmt.Errorf("failed to install click interception: %w", err)
	}
	i.observerMu.Lock()
	i.observerDeadline = time.Now().Add(i.cfg.ObserverLifetime)
	i.observerMu.Unlock()
	i.observe(ctx)
	i.Prime(ctx)
	i.BindControls(ctx)
	i.startChannels()
	return nil
}

// startChannels cancels the running periodic channels and starts the bind,
// seamless and route loops again. It does not wait for the old loops, since
// the route loop itself reinstalls.
func (i *Interceptor) startChannels() {
	i.channelsMu.Lock()
	defer i.channelsMu.Unlock()

	if i.cancelChannels != nil {
		i.cancelChannels()
		i.cancelChannels = nil
	}
	if i.base == nil || i.base.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(i.base)
	i.cancelChannels = cancel

	loops := []func(){
		func() {
			every(ctx, i.cfg.BindInterval, i.cfg.BindLifetime, func(ctx context.Context) bool {
				i.BindControls(ctx)
				return true
			})
		},
		func() { every(ctx, i.cfg.SeamlessInterval, i.cfg.SeamlessLifetime, i.pollSeamless) },
		func() { every(ctx, i.cfg.RouteInterval, i.cfg.RouteLifetime, i.routeWatcher(ctx)) },
	}
	i.channels.Add(len(loops))
	for _, loop := range loops {
		go func() {
			defer i.channels.Done()
			loop()
		}()
	}
}

// stopChannels ends the periodic channels for good and waits for them.
func (i *Interceptor) stopChannels() {
	i.channelsMu.Lock()
	if i.cancelChannels != nil {
		i.cancelChannels()
		i.cancelChannels = nil
	}
	i.base = nil
	i.channelsMu.Unlock()
	i.channels.Wait()
}

// Prime re-establishes the reference and the enabled flag, then re-arms the
// page. It returns the reference, or "" outside a watch route.
func (i *Interceptor) Prime(ctx context.Context) string {
	persisted := ""
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	resp, err := i.msgr.Request(rctx, messenger.Message{Type: messenger.GetTitleURL})
	cancel()
	if err != nil {
		i.logger.Debug("Stored title unavailable.", zap.Error(err))
	} else {
		persisted = resp.TitleURL
	}

	ref, err := i.tracker.Prime(ctx, i.doc, persisted)
	if err != nil {
		i.logger.Debug("Failed to prime reference.", zap.Error(err))
	}
	if ref != "" {
		i.remember(ctx, ref)
	}

	if enabled, err := store.Enabled(ctx, i.store); err != nil {
		i.logger.Warn("Failed to read enabled flag.", zap.Error(err))
	} else {
		i.enabled.Store(enabled)
	}
	i.rearm(ctx)
	return ref
}

// BindControls attaches a direct listener to every qualifying control that is
// not yet marked and returns how many were bound.
func (i *Interceptor) BindControls(ctx context.Context) int {
	i.bindMu.Lock()
	defer i.bindMu.Unlock()

	buttons, err := i.doc.QueryAll(ctx, "button")
	if err != nil {
		i.logger.Debug("Control scan failed.", zap.Error(err))
		return 0
	}
	n := 0
	for _, b := range buttons {
		if b.Attr(BoundAttr) == "true" || !resolver.MatchNextControl(b) {
			continue
		}
		if err := b.BindClick(ctx, SourceDirect); err != nil {
			i.logger.Debug("Failed to bind control.", zap.String("label", resolver.Label(b)), zap.Error(err))
			continue
		}
		if err := b.SetAttr(ctx, BoundAttr, "true"); err != nil {
			i.logger.Debug("Failed to mark control.", zap.Error(err))
		}
		n++
	}
	if n > 0 {
		i.metrics.Bound(n)
		i.logger.Debug("Bound next controls.", zap.Int("count", n))
	}
	return n
}

func (i *Interceptor) onWatchRoute(ctx context.Context) bool {
	loc, err := i.doc.Location(ctx)
	if err != nil {
		return false
	}
	return reference.IsWatchRoute(loc.Path)
}

// rearm keeps the page's suppression flag equal to enabled, on a watch route
// and with a known reference. Suppressing without a redirect target would
// strand the viewer.
func (i *Interceptor) rearm(ctx context.Context) {
	armed := i.enabled.Load() && i.onWatchRoute(ctx) && i.tracker.Cached() != ""
	if err := i.doc.SetArmed(ctx, armed); err != nil {
		i.logger.Debug("Failed to update armed flag.", zap.Error(err))
	}
}

// handle is the single consumer for every channel.
func (i *Interceptor) handle(ctx context.Context, source string) {
	i.metrics.NextSignal(source)
	log := i.logger.With(zap.String("source", source))

	if !i.enabled.Load() {
		log.Debug("Shuffle disabled, leaving next control alone.")
		return
	}
	if !i.onWatchRoute(ctx) {
		return
	}
	ref := i.tracker.Current(ctx, i.doc)
	if ref == "" {
		i.metrics.Redirect(redirectMissingReference)
		log.Info("Redirect skipped, no title reference.")
		return
	}

	fired := false
	i.debounce.Do(func() { fired = true })
	if !fired {
		i.metrics.Redirect(redirectDebounced)
		log.Debug("Duplicate trigger ignored.")
		return
	}

	i.remember(ctx, ref)
	if err := i.doc.Navigate(ctx, ref); err != nil {
		i.metrics.Redirect(redirectFailed)
		log.Warn("Redirect failed.", zap.String("url", ref), zap.Error(err))
		return
	}
	i.metrics.Redirect(redirectNavigated)
	log.Info("Redirected to title.", zap.String("url", ref))
}

func (i *Interceptor) remember(ctx context.Context, ref string) {
	err := i.msgr.Send(ctx, messenger.Message{Type: messenger.RememberTitleURL, URL: ref})
	if err != nil && !errors.Is(err, context.Canceled) {
		i.logger.Debug("Could not notify coordinator.", zap.Error(err))
	}
}

// pollSeamless looks for the auto-advance affordance. It stops the channel
// after the first find; the next document's Install starts a new one.
func (i *Interceptor) pollSeamless(ctx context.Context) bool {
	if !i.enabled.Load() || !i.onWatchRoute(ctx) {
		return true
	}
	el, err := resolver.SeamlessNext(ctx, i.doc)
	if err != nil {
		i.logger.Debug("Seamless lookup failed.", zap.Error(err))
		return true
	}
	if el == nil {
		return true
	}
	i.logger.Debug("Seamless next detected.", zap.String("data_uia", el.Attr("data-uia")))
	i.handle(ctx, SourceSeamless)
	return false
}

// routeWatcher detects soft navigations. Entering a watch route reinstalls;
// any other change re-evaluates the armed flag.
func (i *Interceptor) routeWatcher(ctx context.Context) func(context.Context) bool {
	last := ""
	if loc, err := i.doc.Location(ctx); err == nil {
		last = loc.Path
	}
	return func(ctx context.Context) bool {
		loc, err := i.doc.Location(ctx)
		if err != nil || loc.Path == last {
			return true
		}
		i.logger.Debug("Route changed.", zap.String("from", last), zap.String("to", loc.Path))
		last = loc.Path
		if reference.IsWatchRoute(loc.Path) {
			if err := i.Install(ctx); err != nil {
				i.logger.Warn("Reinstall after route change failed.", zap.Error(err))
			}
			return true
		}
		i.rearm(ctx)
		return true
	}
}

// observe (re)starts the mutation observer until the observer deadline.
func (i *Interceptor) observe(ctx context.Context) {
	i.observerMu.Lock()
	defer i.observerMu.Unlock()

	if i.stopObserver != nil {
		i.stopObserver()
		i.stopObserver = nil
	}
	remaining := time.Until(i.observerDeadline)
	if remaining <= 0 {
		return
	}
	stop, err := i.doc.ObserveMutations(ctx)
	if err != nil {
		i.logger.Debug("Mutation observer unavailable.", zap.Error(err))
		return
	}
	t := time.AfterFunc(remaining, stop)
	i.stopObserver = func() {
		t.Stop()
		stop()
	}
}

func (i *Interceptor) stopObserving() {
	i.observerMu.Lock()
	defer i.observerMu.Unlock()
	if i.stopObserver != nil {
		i.stopObserver()
		i.stopObserver = nil
	}
}

// every runs fn once per interval until fn returns false, lifetime elapses or
// ctx is done.
func every(ctx context.Context, interval, lifetime time.Duration, fn func(context.Context) bool) {
	ctx, cancel := context.WithTimeout(ctx, lifetime)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !fn(ctx) {
				return
			}
		}
	}
}
