// Package picker opens the season selector on a title page, chooses a random
// season and then a random episode.
package picker

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/messenger"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/interact"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/poller"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/resolver"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// State is the picker session phase.
type State int

const (
	StateIdle State = iota
	StateAwaitingMenu
	StateMenuOpened
	StateAwaitingEpisodes
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingMenu:
		return "awaiting-menu"
	case StateMenuOpened:
		return "menu-opened"
	case StateAwaitingEpisodes:
		return "awaiting-episodes"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Outcome is how a Run ended.
type Outcome string

const (
	OutcomeDone           Outcome = "done"
	OutcomeAlreadyStarted Outcome = "already-started"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeMenuTimeout    Outcome = "menu-timeout"
	OutcomeEpisodeTimeout Outcome = "episode-timeout"
	OutcomeCancelled      Outcome = "cancelled"
)

// Triggers passed to Run.
const (
	TriggerPageLoad      = "page-load"
	TriggerEnabledChange = "enabled-change"
)

// PickIndex maps r in [0,1) onto [0,n). It returns -1 when n is zero.
func PickIndex(r float64, n int) int {
	if n <= 0 {
		return -1
	}
	i := int(math.Floor(r * float64(n)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Option configures a Picker.
type Option func(*Picker)

// WithRand replaces the uniform source used for both picks.
func WithRand(fn func() float64) Option {
	return func(p *Picker) { p.rand = fn }
}

// WithMetrics records run outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Picker) { p.metrics = m }
}

// Picker drives one picker session per document. Phases within a Run are
// strictly sequential. A session runs at most once until Reset.
type Picker struct {
	doc     dom.Document
	store   store.Store
	msgr    messenger.Messenger
	sim     *interact.Simulator
	cfg     config.PickerConfig
	rand    func() float64
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	gen     uint64
	state   State
}

// New creates a Picker for doc.
func New(doc dom.Document, st store.Store, msgr messenger.Messenger, cfg config.PickerConfig, logger *zap.Logger, opts ...Option) *Picker {
	logger = logger.Named("picker")
	p := &Picker{
		doc:    doc,
		store:  st,
		msgr:   msgr,
		sim:    interact.New(logger),
		cfg:    cfg,
		rand:   rand.Float64,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current session phase.
func (p *Picker) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset starts a new session, as a new document would.
func (p *Picker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.started = false
	p.state = StateIdle
}

func (p *Picker) begin() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return 0, false
	}
	p.started = true
	return p.gen, true
}

// release clears the one-shot flag unless the session was reset meanwhile.
func (p *Picker) release(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.started = false
		p.state = StateIdle
	}
}

func (p *Picker) setState(gen uint64, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.state = s
	}
}

type trigger struct {
	el       dom.Element
	strategy string
}

// Run performs one session if none has started and the flag store reports
// the feature as enabled.
func (p *Picker) Run(ctx context.Context, reason string) Outcome {
	outcome := p.run(ctx, reason)
	p.metrics.PickerOutcome(string(outcome))
	return outcome
}

func (p *Picker) run(ctx context.Context, reason string) Outcome {
	gen, ok := p.begin()
	if !ok {
		p.logger.Debug("Session already started.", zap.String("trigger", reason))
		return OutcomeAlreadyStarted
	}

	enabled, err := store.Enabled(ctx, p.store)
	if err != nil {
		p.logger.Warn("Failed to read enabled flag.", zap.Error(err))
	}
	if !enabled {
		p.release(gen)
		p.logger.Debug("Shuffle disabled, not picking.", zap.String("trigger", reason))
		return OutcomeDisabled
	}

	log := p.logger.With(zap.String("run_id", uuid.NewString()), zap.String("trigger", reason))
	log.Info("Picker session started.")

	if loc, err := p.doc.Location(ctx); err == nil {
		err := p.msgr.Send(ctx, messenger.Message{Type: messenger.RememberTitleURL, URL: loc.String()})
		if err != nil {
			log.Debug("Could not notify coordinator.", zap.Error(err))
		}
	}

	// Season menu.
	p.setState(gen, StateAwaitingMenu)
	menu, err := poller.WaitFor(ctx, poller.Config{
		Interval:    p.cfg.MenuInterval,
		MaxAttempts: p.cfg.MenuAttempts,
		NudgeEvery:  p.cfg.ScrollEvery,
		Nudge: func(ctx context.Context) {
			if err := p.doc.ScrollBy(ctx, p.cfg.ScrollBy); err != nil {
				log.Debug("Scroll nudge failed.", zap.Error(err))
			}
		},
	}, func(ctx context.Context) (trigger, bool) {
		el, strategy, err := resolver.SeasonMenuTrigger(ctx, p.doc)
		if err != nil {
			log.Debug("Season menu lookup failed.", zap.Error(err))
		}
		return trigger{el: el, strategy: strategy}, el != nil
	})
	if err != nil {
		return p.abort(gen, log, err, OutcomeMenuTimeout, "Season menu never appeared.", menu.Attempts)
	}
	log.Debug("Season menu found.", zap.String("strategy", menu.Value.strategy), zap.Int("attempts", menu.Attempts))
	p.sim.Activate(ctx, p.doc, menu.Value.el, "season-menu")
	p.setState(gen, StateMenuOpened)

	if err := sleep(ctx, p.cfg.SettleDelay); err != nil {
		p.release(gen)
		return OutcomeCancelled
	}

	// Season pick. Zero options is fine; the current season is used.
	seasons, raw, err := resolver.SeasonOptions(ctx, p.doc)
	if err != nil {
		log.Debug("Season option lookup failed.", zap.Error(err))
	}
	log.Debug("Season options resolved.", zap.Int("raw", raw), zap.Int("seasons", len(seasons)))
	if i := PickIndex(p.rand(), len(seasons)); i >= 0 {
		season := seasons[i]
		p.sim.Activate(ctx, p.doc, season, "season: "+resolver.Label(season))
	} else {
		log.Info("No season options found, keeping the current season.")
	}

	// Episode pick.
	p.setState(gen, StateAwaitingEpisodes)
	episodes, err := poller.WaitFor(ctx, poller.Config{
		Interval:    p.cfg.EpisodeInterval,
		MaxAttempts: p.cfg.EpisodeAttempts,
	}, func(ctx context.Context) (resolver.Match, bool) {
		m, err := resolver.EpisodeCandidates(ctx, p.doc)
		if err != nil {
			log.Debug("Episode lookup failed.", zap.Error(err))
		}
		return m, m.Found()
	})
	if err != nil {
		return p.abort(gen, log, err, OutcomeEpisodeTimeout, "Episode list never appeared.", episodes.Attempts)
	}

	candidates := episodes.Value.Elements
	episode := candidates[PickIndex(p.rand(), len(candidates))]
	log.Debug("Episodes resolved.",
		zap.String("strategy", episodes.Value.Strategy),
		zap.Int("candidates", len(candidates)),
		zap.Int("attempts", episodes.Attempts),
	)
	p.sim.Activate(ctx, p.doc, episode, "episode: "+resolver.Label(episode))
	p.setState(gen, StateDone)
	log.Info("Picker session finished.")
	return OutcomeDone
}

func (p *Picker) abort(gen uint64, log *zap.Logger, err error, timeout Outcome, msg string, attempts int) Outcome {
	p.release(gen)
	if errors.Is(err, poller.ErrTimeout) {
		log.Info(msg, zap.Int("attempts", attempts))
		return timeout
	}
	log.Debug("Picker session cancelled.", zap.Error(err))
	return OutcomeCancelled
}

// Watch re-runs the picker whenever the flag store reports the feature being
// switched on while the tab shows a title page. It blocks until ctx is done
// and every run it started returned.
func (p *Picker) Watch(ctx context.Context) error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopped bool
	)
	unsubscribe := p.store.Subscribe(func(c store.Change) {
		if c.Key != store.KeyEnabled || !store.ParseBool(c.New) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.onTitlePage(ctx) {
				p.logger.Debug("Enabled outside a title page, not picking.")
				return
			}
			p.Run(ctx, TriggerEnabledChange)
		}()
	})
	<-ctx.Done()
	unsubscribe()
	mu.Lock()
	stopped = true
	mu.Unlock()
	wg.Wait()
	return nil
}

// onTitlePage keeps the player's own season and episode controls out of reach.
func (p *Picker) onTitlePage(ctx context.Context) bool {
	loc, err := p.doc.Location(ctx)
	if err != nil {
		p.logger.Debug("Tab location unavailable.", zap.Error(err))
		return false
	}
	return reference.IsTitleURL(loc.Path)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
