package htmldoc

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

const playerPage = `<html><body>
  <div class="controls">
    <button data-uia="control-play">Play</button>
    <button data-uia="control-next"><span class="icon">next</span></button>
  </div>
</body></html>`

var nextRule = dom.ClickRule{
	Container:      "button",
	IdentifierAttr: "data-uia",
	Identifiers:    []string{"control-next"},
}

func collect(d *Document) *[]dom.Signal {
	var got []dom.Signal
	d.Subscribe(func(s dom.Signal) { got = append(got, s) })
	return &got
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	d := MustNew("https://www.netflix.com/watch/1", playerPage)

	buttons, err := d.QueryAll(ctx, "button")
	require.NoError(t, err)
	require.Len(t, buttons, 2)
	assert.Equal(t, "button", buttons[0].Tag())
	assert.Equal(t, "control-next", buttons[1].Attr("data-uia"))
	assert.Equal(t, "next", buttons[1].Text())

	again, err := d.QueryFirst(ctx, `button[data-uia="control-next"]`)
	require.NoError(t, err)
	assert.Equal(t, buttons[1].Key(), again.Key(), "the same node keeps its key")

	missing, err := d.QueryFirst(ctx, ".nothing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	icon, err := d.QueryFirst(ctx, ".icon")
	require.NoError(t, err)
	assert.True(t, icon.HasClass("icon"))
	parent, err := icon.Closest(ctx, "button")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, buttons[1].Key(), parent.Key())
}

func TestDelegatedClick(t *testing.T) {
	ctx := context.Background()

	t.Run("suppressed while armed", func(t *testing.T) {
		d := MustNew("https://www.netflix.com/watch/1", playerPage)
		got := collect(d)
		require.NoError(t, d.Intercept(ctx, nextRule))
		require.NoError(t, d.SetArmed(ctx, true))

		icon, _ := d.QueryFirst(ctx, ".icon")
		require.NoError(t, icon.DispatchClick(ctx))

		require.Len(t, *got, 1)
		s := (*got)[0]
		assert.Equal(t, dom.SignalClick, s.Kind)
		assert.Equal(t, "delegated-click", s.Source)
		assert.True(t, s.Suppressed)
		assert.Equal(t, "control-next", s.Target.Attr("data-uia"), "target resolves to the enclosing button")

		events := d.Events()
		require.Len(t, events, 1)
		assert.True(t, events[0].Prevented)
	})

	t.Run("reported but not suppressed while disarmed", func(t *testing.T) {
		d := MustNew("https://www.netflix.com/watch/1", playerPage)
		got := collect(d)
		require.NoError(t, d.Intercept(ctx, nextRule))

		next, _ := d.QueryFirst(ctx, `button[data-uia="control-next"]`)
		require.NoError(t, next.DispatchClick(ctx))

		require.Len(t, *got, 1)
		assert.False(t, (*got)[0].Suppressed)
		assert.False(t, d.Events()[0].Prevented)
	})

	t.Run("non qualifying click is ignored", func(t *testing.T) {
		d := MustNew("https://www.netflix.com/watch/1", playerPage)
		got := collect(d)
		require.NoError(t, d.Intercept(ctx, nextRule))
		require.NoError(t, d.SetArmed(ctx, true))

		play, _ := d.QueryFirst(ctx, `button[data-uia="control-play"]`)
		require.NoError(t, play.DispatchClick(ctx))
		assert.Empty(t, *got)
		assert.False(t, d.Events()[0].Prevented)
	})
}

func TestDirectListeners(t *testing.T) {
	ctx := context.Background()
	d := MustNew("https://www.netflix.com/watch/1", playerPage)
	got := collect(d)

	next, _ := d.QueryFirst(ctx, `button[data-uia="control-next"]`)
	require.NoError(t, next.BindClick(ctx, "direct-button"))
	assert.Equal(t, 1, d.ListenerCount())

	icon, _ := d.QueryFirst(ctx, ".icon")
	require.NoError(t, icon.DispatchClick(ctx))
	require.Len(t, *got, 1)
	assert.Equal(t, "direct-button", (*got)[0].Source)
	assert.False(t, (*got)[0].Suppressed)

	// With the delegated listener installed and armed, it stops propagation
	// before the direct listener runs.
	require.NoError(t, d.Intercept(ctx, nextRule))
	require.NoError(t, d.SetArmed(ctx, true))
	*got = nil
	require.NoError(t, icon.DispatchClick(ctx))
	require.Len(t, *got, 1)
	assert.Equal(t, "delegated-click", (*got)[0].Source)
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()

	t.Run("recorded without loader", func(t *testing.T) {
		d := MustNew("https://www.netflix.com/watch/1", playerPage)
		got := collect(d)
		require.NoError(t, d.Navigate(ctx, "/title/99"))

		assert.Equal(t, []string{"https://www.netflix.com/title/99"}, d.Navigations())
		loc, _ := d.Location(ctx)
		assert.Equal(t, "/watch/1", loc.Path, "location only changes on commit")
		assert.Empty(t, *got)
	})

	t.Run("committed with loader", func(t *testing.T) {
		d := MustNew("https://www.netflix.com/watch/1", playerPage, WithLoader(
			func(ctx context.Context, target *url.URL) (string, error) {
				return `<html><body><h1>title</h1></body></html>`, nil
			}))
		require.NoError(t, d.Intercept(ctx, nextRule))
		require.NoError(t, d.SetArmed(ctx, true))
		stale, _ := d.QueryFirst(ctx, "button")
		got := collect(d)

		require.NoError(t, d.Navigate(ctx, "https://www.netflix.com/title/99"))

		loc, _ := d.Location(ctx)
		assert.Equal(t, "/title/99", loc.Path)
		ref, _ := d.Referrer(ctx)
		assert.Equal(t, "https://www.netflix.com/watch/1", ref)
		assert.False(t, d.Armed())
		require.Len(t, *got, 1)
		assert.Equal(t, dom.SignalReady, (*got)[0].Kind)

		var notFound *dom.ElementNotFoundError
		assert.True(t, errors.As(stale.DispatchClick(ctx), &notFound))
	})

	t.Run("loader failure", func(t *testing.T) {
		boom := errors.New("boom")
		d := MustNew("https://www.netflix.com/watch/1", playerPage, WithLoader(
			func(ctx context.Context, target *url.URL) (string, error) { return "", boom }))
		err := d.Navigate(ctx, "/title/1")
		var navErr *dom.NavigationError
		require.ErrorAs(t, err, &navErr)
		assert.ErrorIs(t, err, boom)
	})
}

func TestMutationSignals(t *testing.T) {
	ctx := context.Background()
	d := MustNew("https://www.netflix.com/watch/1", playerPage)
	got := collect(d)

	add := func(doc *goquery.Document) {
		doc.Find(".controls").AppendHtml(`<button class="extra">x</button>`)
	}

	d.Mutate(add)
	assert.Empty(t, *got, "no observer, no signal")

	stop, err := d.ObserveMutations(ctx)
	require.NoError(t, err)
	d.Mutate(add)
	require.Len(t, *got, 1)
	assert.Equal(t, dom.SignalMutation, (*got)[0].Kind)

	stop()
	stop()
	d.Mutate(add)
	assert.Len(t, *got, 1)

	extras, _ := d.QueryAll(ctx, ".extra")
	assert.Len(t, extras, 3)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	d := MustNew("https://www.netflix.com/watch/1", playerPage)
	ls := d.LocalStorage()

	v, err := ls.GetItem(ctx, "netflixShuffleTitleUrl")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, ls.SetItem(ctx, "netflixShuffleTitleUrl", "https://www.netflix.com/title/1"))
	v, _ = ls.GetItem(ctx, "netflixShuffleTitleUrl")
	assert.Equal(t, "https://www.netflix.com/title/1", v)
}
