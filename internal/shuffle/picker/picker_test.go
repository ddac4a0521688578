package picker

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/browser/htmldoc"
	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/messenger"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/resolver"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const titleURL = "https://www.netflix.com/title/80100172"

const titlePage = `<html><body>
  <div class="hero">Title</div>
  <ul class="dropdown-menu">
    <li role="menuitem" id="s1">Season 1</li>
    <li role="menuitem" id="s2">Season 2</li>
    <li id="trailers">Trailers &amp; More</li>
  </ul>
  <div id="episodes"></div>
</body></html>`

const triggerMarkup = `<button data-uia="selector-seasons" id="trigger">Season 1</button>`

const episodeMarkup = `<div data-uia="episode-selector">
  <div data-uia="titleCard--container" role="button" id="e1" aria-label="Episode 1"></div>
  <div data-uia="titleCard--container" role="button" id="e2" aria-label="Episode 2"></div>
  <div data-uia="titleCard--container" role="button" id="e3" aria-label="Episode 3"></div>
</div>`

// stagedDoc renders the season trigger and the episode list only after a
// given number of probes, the way the live page renders them lazily.
type stagedDoc struct {
	*htmldoc.Document

	mu            sync.Mutex
	triggerAfter  int
	episodesAfter int
	triggerProbes int
	rootProbes    int
	scrolls       int
}

func newStagedDoc(triggerAfter, episodesAfter int) *stagedDoc {
	return &stagedDoc{
		Document:      htmldoc.MustNew(titleURL, titlePage),
		triggerAfter:  triggerAfter,
		episodesAfter: episodesAfter,
	}
}

func (s *stagedDoc) QueryFirst(ctx context.Context, selector string) (dom.Element, error) {
	s.mu.Lock()
	switch selector {
	case resolver.SeasonMenuTriggerSelectors[0]:
		s.triggerProbes++
		if s.triggerProbes == s.triggerAfter {
			s.Mutate(func(doc *goquery.Document) { doc.Find(".hero").AppendHtml(triggerMarkup) })
		}
	case resolver.EpisodeRootSelectors[0]:
		s.rootProbes++
		if s.rootProbes == s.episodesAfter {
			s.Mutate(func(doc *goquery.Document) { doc.Find("#episodes").AppendHtml(episodeMarkup) })
		}
	}
	s.mu.Unlock()
	return s.Document.QueryFirst(ctx, selector)
}

func (s *stagedDoc) ScrollBy(ctx context.Context, dy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrolls++
	return nil
}

func (s *stagedDoc) counts() (trigger, root, scrolls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerProbes, s.rootProbes, s.scrolls
}

func (s *stagedDoc) keyOf(t *testing.T, selector string) string {
	t.Helper()
	el, err := s.Document.QueryFirst(context.Background(), selector)
	require.NoError(t, err)
	require.NotNil(t, el, selector)
	return el.Key()
}

func (s *stagedDoc) clicks() []string {
	var out []string
	for _, e := range s.Events() {
		if e.Type == "click" {
			out = append(out, e.Target)
		}
	}
	return out
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []messenger.Message
}

func (r *recordingMessenger) Send(ctx context.Context, msg messenger.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMessenger) Request(ctx context.Context, msg messenger.Message) (messenger.Response, error) {
	return messenger.Response{}, messenger.ErrUnavailable
}

func (r *recordingMessenger) messages() []messenger.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messenger.Message(nil), r.sent...)
}

func fastConfig() config.PickerConfig {
	return config.PickerConfig{
		MenuInterval:    2 * time.Millisecond,
		MenuAttempts:    30,
		ScrollEvery:     6,
		ScrollBy:        250,
		SettleDelay:     2 * time.Millisecond,
		EpisodeInterval: 2 * time.Millisecond,
		EpisodeAttempts: 16,
	}
}

// sequence returns a rand source yielding vals in order, then the last value.
func sequence(vals ...float64) func() float64 {
	var mu sync.Mutex
	i := 0
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		v := vals[min(i, len(vals)-1)]
		i++
		return v
	}
}

func enabledStore(t *testing.T, enabled bool) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	require.NoError(t, store.SetEnabled(context.Background(), st, enabled))
	return st
}

func TestPickIndex(t *testing.T) {
	assert.Equal(t, -1, PickIndex(0.5, 0))

	almostOne := math.Nextafter(1, 0)
	for m := 1; m <= 64; m++ {
		assert.Equal(t, 0, PickIndex(0, m), "r=0 picks the first of %d", m)
		assert.Equal(t, m-1, PickIndex(almostOne, m), "r->1 picks the last of %d", m)
		for _, r := range []float64{0.1, 0.25, 0.5, 0.75, 0.999} {
			got := PickIndex(r, m)
			assert.Equal(t, int(math.Floor(r*float64(m))), got)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, m)
		}
	}
	assert.Equal(t, 2, PickIndex(1, 3), "out of range input is clamped")
	assert.Equal(t, 0, PickIndex(-0.5, 3))
}

func TestRun_Disabled(t *testing.T) {
	ctx := context.Background()
	doc := newStagedDoc(1, 1)
	msgr := &recordingMessenger{}
	p := New(doc, enabledStore(t, false), msgr, fastConfig(), zaptest.NewLogger(t))

	assert.Equal(t, OutcomeDisabled, p.Run(ctx, TriggerPageLoad))
	assert.Equal(t, StateIdle, p.State())

	trigger, root, _ := doc.counts()
	assert.Zero(t, trigger, "no element lookups while disabled")
	assert.Zero(t, root)
	assert.Empty(t, doc.Events())
	assert.Empty(t, msgr.messages())

	// The one-shot flag is not consumed by a disabled run.
	assert.Equal(t, OutcomeDisabled, p.Run(ctx, TriggerPageLoad))
}

func TestRun_Enabled(t *testing.T) {
	ctx := context.Background()
	doc := newStagedDoc(3, 5)
	msgr := &recordingMessenger{}
	metrics := observability.NewMetrics("picker_test")
	p := New(doc, enabledStore(t, true), msgr, fastConfig(), zaptest.NewLogger(t),
		WithRand(sequence(0.75, 0.4)),
		WithMetrics(metrics),
	)

	require.Equal(t, OutcomeDone, p.Run(ctx, TriggerPageLoad))
	assert.Equal(t, StateDone, p.State())

	trigger, root, scrolls := doc.counts()
	assert.Equal(t, 3, trigger, "the trigger is found on the third probe")
	assert.Equal(t, 5, root, "the episodes are found on the fifth probe")
	assert.Zero(t, scrolls, "no nudge before the sixth failed probe")

	// 0.75 of two seasons is the second; 0.4 of three episodes is the second.
	assert.Equal(t, []string{
		doc.keyOf(t, "#trigger"),
		doc.keyOf(t, "#s2"),
		doc.keyOf(t, "#e2"),
	}, doc.clicks(), "exactly one activation per phase")

	assert.Equal(t, []messenger.Message{{Type: messenger.RememberTitleURL, URL: titleURL}}, msgr.messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PickerRuns.WithLabelValues(string(OutcomeDone))))

	// One session per document until reset.
	assert.Equal(t, OutcomeAlreadyStarted, p.Run(ctx, TriggerPageLoad))
	assert.Len(t, doc.clicks(), 3)
}

func TestRun_GenericButtonEpisodeGetsKeyFallback(t *testing.T) {
	doc := newStagedDoc(1, 1)
	p := New(doc, enabledStore(t, true), &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t), WithRand(sequence(0)))

	require.Equal(t, OutcomeDone, p.Run(context.Background(), TriggerPageLoad))

	var keys []htmldoc.Event
	for _, e := range doc.Events() {
		if e.Type != "click" {
			keys = append(keys, e)
		}
	}
	episode := doc.keyOf(t, "#e1")
	assert.Equal(t, []htmldoc.Event{
		{Type: "keydown", Target: episode, Key: "Enter"},
		{Type: "keyup", Target: episode, Key: "Enter"},
	}, keys)
}

func TestRun_MenuTimeoutResetsSession(t *testing.T) {
	ctx := context.Background()
	doc := newStagedDoc(-1, -1)
	cfg := fastConfig()
	cfg.MenuAttempts = 12
	p := New(doc, enabledStore(t, true), &recordingMessenger{}, cfg, zaptest.NewLogger(t))

	assert.Equal(t, OutcomeMenuTimeout, p.Run(ctx, TriggerPageLoad))
	assert.Equal(t, StateIdle, p.State())

	trigger, _, scrolls := doc.counts()
	assert.Equal(t, 12, trigger)
	assert.Equal(t, 2, scrolls, "one scroll nudge every six failed probes")
	assert.Empty(t, doc.Events())

	assert.Equal(t, OutcomeMenuTimeout, p.Run(ctx, TriggerPageLoad), "a timed out session may run again")
}

func TestRun_EpisodeTimeout(t *testing.T) {
	doc := newStagedDoc(1, -1)
	cfg := fastConfig()
	cfg.EpisodeAttempts = 4
	p := New(doc, enabledStore(t, true), &recordingMessenger{}, cfg, zaptest.NewLogger(t), WithRand(sequence(0)))

	assert.Equal(t, OutcomeEpisodeTimeout, p.Run(context.Background(), TriggerPageLoad))
	assert.Equal(t, StateIdle, p.State())
	_, root, _ := doc.counts()
	assert.Equal(t, 4, root)
	assert.Len(t, doc.clicks(), 2, "trigger and season were activated")
}

func TestRun_NoSeasonOptions(t *testing.T) {
	doc := newStagedDoc(1, 1)
	doc.Mutate(func(d *goquery.Document) { d.Find(".dropdown-menu").Remove() })
	p := New(doc, enabledStore(t, true), &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t), WithRand(sequence(0)))

	require.Equal(t, OutcomeDone, p.Run(context.Background(), TriggerPageLoad))
	assert.Equal(t, []string{doc.keyOf(t, "#trigger"), doc.keyOf(t, "#e1")}, doc.clicks())
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(newStagedDoc(-1, -1), enabledStore(t, true), &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t))

	assert.Equal(t, OutcomeCancelled, p.Run(ctx, TriggerPageLoad))
	assert.Equal(t, StateIdle, p.State())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	doc := newStagedDoc(1, 1)
	p := New(doc, enabledStore(t, true), &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t), WithRand(sequence(0)))

	require.Equal(t, OutcomeDone, p.Run(ctx, TriggerPageLoad))
	p.Reset()
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, OutcomeDone, p.Run(ctx, TriggerPageLoad))
	assert.Len(t, doc.clicks(), 6)
}

// subscribeSignal closes subscribed once a subscriber is registered.
type subscribeSignal struct {
	store.Store
	subscribed chan struct{}
}

func (s subscribeSignal) Subscribe(fn func(store.Change)) func() {
	cancel := s.Store.Subscribe(fn)
	close(s.subscribed)
	return cancel
}

func TestWatch_RunsWhenEnabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := subscribeSignal{Store: enabledStore(t, false), subscribed: make(chan struct{})}
	doc := newStagedDoc(1, 1)
	p := New(doc, st, &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t), WithRand(sequence(0)))

	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	<-st.subscribed

	require.NoError(t, store.SetLastTitleURL(ctx, st, titleURL), "unrelated keys are ignored")
	require.NoError(t, store.SetEnabled(ctx, st, true))

	require.Eventually(t, func() bool { return p.State() == StateDone }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
	assert.Len(t, doc.clicks(), 3)
}

func TestWatch_IgnoresEnableDuringPlayback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := subscribeSignal{Store: enabledStore(t, false), subscribed: make(chan struct{})}
	doc := htmldoc.MustNew("https://www.netflix.com/watch/80192098", `<html><body>
  <button data-uia="selector-seasons">Season 1</button>
  <ul class="dropdown-menu"><li role="menuitem">Season 1</li></ul>
  <div data-uia="episode-selector"><a href="/watch/101">Pilot</a></div>
</body></html>`)
	p := New(doc, st, &recordingMessenger{}, fastConfig(), zaptest.NewLogger(t), WithRand(sequence(0)))

	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()
	<-st.subscribed

	require.NoError(t, store.SetEnabled(ctx, st, true))
	assert.Never(t, func() bool { return p.State() != StateIdle }, 100*time.Millisecond, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
	assert.Empty(t, doc.Events(), "the player's controls are left alone")
}
