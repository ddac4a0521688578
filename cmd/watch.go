package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/cdp"
	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/control"
	"github.com/xkilldash9x/netflix-shuffle/internal/messenger"
	"github.com/xkilldash9x/netflix-shuffle/internal/observability"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/intercept"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/picker"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/runner"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// errBrowserClosed ends the daemon when the user closes the browser.
var errBrowserClosed = errors.New("browser closed")

func newWatchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Opens Netflix in Chrome and shuffles episodes while enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			logger := c.logger()

			st, err := store.Open(cmd.Context(), cfg.Store(), logger)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := cdp.Open(cmd.Context(), cfg.Browser(), logger)
			if err != nil {
				return fmt.Errorf("failed to open browser: %w", err)
			}
			defer func() {
				if err := sess.Close(10 * time.Second); err != nil {
					logger.Warn("Browser did not close cleanly.", zap.Error(err))
				}
			}()

			err = runDaemon(cmd.Context(), cfg, st, sess.Document(), sess.Done(), logger)
			if errors.Is(err, errBrowserClosed) {
				logger.Info("Browser closed, stopping.")
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.Bool("headless", false, "run Chrome without a window")
	flags.String("remote-url", "", "attach to a running Chrome DevTools endpoint")
	flags.String("start-url", "", "page to open at start-up")
	flags.String("store", "", "flag store backend: memory, sqlite, postgres")
	flags.String("control-addr", "", "listen address of the control API")
	flags.Bool("control", true, "serve the control API")
	for key, flag := range map[string]string{
		"browser.headless":   "headless",
		"browser.remote_url": "remote-url",
		"browser.start_url":  "start-url",
		"store.backend":      "store",
		"control.addr":       "control-addr",
		"control.enabled":    "control",
	} {
		// Only flags that were set override the config file and environment.
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

// runDaemon wires the per-tab components to doc and runs them until ctx is
// done, browserDone is closed, or one of them fails.
func runDaemon(ctx context.Context, cfg config.Interface, st store.Store, doc dom.Document, browserDone <-chan struct{}, logger *zap.Logger) error {
	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics().Enabled {
		metrics = observability.NewMetrics(cfg.Metrics().Namespace)
		metricsHandler = metrics.Handler()
	}

	badge := messenger.Badges{messenger.LogBadge{Logger: logger}, messenger.MetricsBadge{Metrics: metrics}}
	ch := messenger.NewChannel(64)
	coord := messenger.NewCoordinator(st, badge, ch, cfg.Reference().BaseURL, logger)

	tracker := reference.NewTracker(logger, reference.NewDeriver(cfg.Reference().BaseURL))
	p := picker.New(doc, st, ch, cfg.Picker(), logger, picker.WithMetrics(metrics))
	ic := intercept.New(doc, st, ch, tracker, cfg.Interceptor(), logger, intercept.WithMetrics(metrics))
	r := runner.New(doc, p, ic, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return r.Run(gctx) })
	if cfg.Control().Enabled {
		srv := control.NewServer(cfg.Control(), coord, st, doc, metricsHandler, logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-browserDone:
			return errBrowserClosed
		}
	})

	logger.Info("Shuffle daemon running.",
		zap.String("store", cfg.Store().Backend),
		zap.Bool("control", cfg.Control().Enabled),
		zap.String("control_addr", cfg.Control().Addr),
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
