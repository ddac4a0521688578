// Package runner dispatches document lifecycle signals to the picker and the
// interceptor of one tab.
package runner

import (
	"context"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/intercept"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/picker"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
)

// Runner owns the per-tab components. A title page starts a fresh picker
// session; every new document gets interception reinstalled.
type Runner struct {
	doc         dom.Document
	picker      *picker.Picker
	interceptor *intercept.Interceptor
	logger      *zap.Logger

	mu        sync.Mutex
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

// New creates a Runner.
func New(doc dom.Document, p *picker.Picker, ic *intercept.Interceptor, logger *zap.Logger) *Runner {
	return &Runner{doc: doc, picker: p, interceptor: ic, logger: logger.Named("runner")}
}

// Run serves the tab until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ready := make(chan string, 16)
	unsubscribe := r.doc.Subscribe(func(s dom.Signal) {
		if s.Kind != dom.SignalReady {
			return
		}
		select {
		case ready <- s.URL:
		default:
			r.logger.Warn("Dropped document ready signal.", zap.String("url", s.URL))
		}
	})
	defer unsubscribe()
	defer r.runs.Wait()
	defer r.stopPicker()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.interceptor.Run(gctx) })
	g.Go(func() error { return r.picker.Watch(gctx) })
	g.Go(func() error {
		if loc, err := r.doc.Location(gctx); err == nil && reference.IsTitleURL(loc.Path) {
			r.startPicker(gctx)
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case u := <-ready:
				r.dispatch(gctx, u)
			}
		}
	})
	return g.Wait()
}

func (r *Runner) dispatch(ctx context.Context, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		r.logger.Debug("Ignoring unparsable document url.", zap.String("url", raw), zap.Error(err))
		return
	}
	r.logger.Debug("Document ready.", zap.String("path", u.Path))

	// The previous document's picker session is obsolete either way.
	r.stopPicker()
	if err := r.interceptor.Install(ctx); err != nil {
		r.logger.Warn("Failed to install interception.", zap.Error(err))
	}
	if reference.IsTitleURL(u.Path) {
		r.picker.Reset()
		r.startPicker(ctx)
	}
}

func (r *Runner) startPicker(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelRun = cancel
	r.mu.Unlock()

	r.runs.Add(1)
	go func() {
		defer r.runs.Done()
		defer cancel()
		outcome := r.picker.Run(runCtx, picker.TriggerPageLoad)
		r.logger.Debug("Picker run ended.", zap.String("outcome", string(outcome)))
	}()
}

func (r *Runner) stopPicker() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRun != nil {
		r.cancelRun()
		r.cancelRun = nil
	}
}
