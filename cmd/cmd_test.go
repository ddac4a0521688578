package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/htmldoc"
	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/control"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

const testSecret = "an-adequately-long-test-secret"

// isolate points the store at a fresh sqlite file and keeps config
// discovery away from the working directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SHUFFLE_STORE_BACKEND", "sqlite")
	t.Setenv("SHUFFLE_STORE_PATH", filepath.Join(dir, "flags.db"))
	t.Setenv("SHUFFLE_LOGGER_LEVEL", "error")
	t.Cleanup(observability.ResetForTest)
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func status(t *testing.T) map[string]any {
	t.Helper()
	out, err := execute(t, "status")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	return got
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "netflix-shuffle "+Version))
}

func TestToggleEnableDisableStatus(t *testing.T) {
	isolate(t)

	got := status(t)
	assert.Equal(t, false, got[store.KeyEnabled])
	assert.Equal(t, "sqlite", got["backend"])

	out, err := execute(t, "toggle", "https://www.netflix.com/watch/80192098?trackId=1")
	require.NoError(t, err)
	assert.Equal(t, "shuffle on\n", out)

	got = status(t)
	assert.Equal(t, true, got[store.KeyEnabled], "the flag persists across invocations")
	assert.Equal(t, "https://www.netflix.com/title/80192098", got[store.KeyLastTitleURL])

	out, err = execute(t, "disable")
	require.NoError(t, err)
	assert.Equal(t, "shuffle off\n", out)
	assert.Equal(t, false, status(t)[store.KeyEnabled])

	_, err = execute(t, "enable")
	require.NoError(t, err)
	assert.Equal(t, true, status(t)[store.KeyEnabled])
}

func TestConfigRedactsSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("SHUFFLE_CONTROL_SECRET", testSecret)

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "picker:")
	assert.Contains(t, out, "menu_attempts: 30")
	assert.NotContains(t, out, testSecret)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("picker:\n  menu_attempts: 12\n"), 0o600))
	t.Setenv("SHUFFLE_PICKER_EPISODE_ATTEMPTS", "9")

	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "menu_attempts: 12")
	assert.Contains(t, out, "episode_attempts: 9")

	_, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "config")
	assert.Error(t, err, "an explicit config file must exist")
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("SHUFFLE_STORE_BACKEND", "redis")
	_, err := execute(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestToken(t *testing.T) {
	isolate(t)
	t.Setenv("SHUFFLE_CONTROL_SECRET", testSecret)

	out, err := execute(t, "token", "--subject", "phone")
	require.NoError(t, err)

	claims, err := control.VerifyToken(config.JWTConfig{Secret: testSecret, Issuer: "netflix-shuffle"}, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "phone", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(720*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenRequiresSecret(t *testing.T) {
	isolate(t)
	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	dir := isolate(t)
	page := filepath.Join(dir, "title.html")
	require.NoError(t, os.WriteFile(page, []byte(titlePage), 0o600))

	out, err := execute(t, "inspect", page)
	require.NoError(t, err)
	assert.Contains(t, out, "season-menu-trigger")
	assert.Contains(t, out, "count: 1")

	_, err = execute(t, "inspect", filepath.Join(dir, "nope.html"))
	assert.Error(t, err)
}

const titlePage = `<html><body>
  <button data-uia="selector-seasons" id="trigger">Season 1</button>
  <ul class="dropdown-menu"><li role="menuitem">Season 1</li></ul>
  <div data-uia="episode-selector"><a href="/watch/101">Pilot</a></div>
</body></html>`

func TestRunDaemon(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	cfg.SetControlEnabled(false)

	doc := htmldoc.MustNew("https://www.netflix.com/title/80100172", titlePage)
	st := store.NewMemory()
	require.NoError(t, store.SetEnabled(context.Background(), st, true))

	t.Run("StopsWhenBrowserCloses", func(t *testing.T) {
		browserDone := make(chan struct{})
		errCh := make(chan error, 1)
		go func() { errCh <- runDaemon(context.Background(), cfg, st, doc, browserDone, logger) }()

		require.Eventually(t, func() bool {
			url, err := store.LastTitleURL(context.Background(), st)
			return err == nil && url == "https://www.netflix.com/title/80100172"
		}, 5*time.Second, 10*time.Millisecond, "the picker reports the title it starts on")

		close(browserDone)
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, errBrowserClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- runDaemon(ctx, cfg, st, doc, nil, logger) }()
		time.Sleep(50 * time.Millisecond)
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	})
}
