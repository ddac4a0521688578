// Package cdp implements the document abstraction over a Chrome tab driven
// through the DevTools protocol.
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
)

// Session is a browser tab with the page helper installed.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	doc    *Document

	allocCancel context.CancelFunc
	pumpDone    chan struct{}
	closeOnce   sync.Once
}

// Open starts (or attaches to) Chrome, opens a tab, installs the page helper
// and navigates to cfg.StartURL when it is set.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.New().String()
	logger = logger.Named("cdp").With(zap.String("session_id", id))

	allocCtx, allocCancel := NewAllocator(context.WithoutCancel(ctx), cfg)
	var tabOpts []chromedp.ContextOption
	if cfg.Debug {
		sugar := logger.Sugar()
		tabOpts = append(tabOpts, chromedp.WithDebugf(sugar.Debugf), chromedp.WithLogf(sugar.Infof))
	}
	tabOpts = append(tabOpts, chromedp.WithErrorf(logger.Sugar().Warnf))
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, tabOpts...)

	s := &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      tabCancel,
		logger:      logger,
		doc:         newDocument(tabCtx, logger, cfg.NavigationTimeout),
		allocCancel: allocCancel,
		pumpDone:    make(chan struct{}),
	}

	success := false
	defer func() {
		if !success {
			tabCancel()
			allocCancel()
		}
	}()

	// The first Run starts the browser and binds it to tabCtx, so it must not
	// be given a derived context.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}

	chromedp.ListenTarget(tabCtx, s.doc.listen)
	go func() {
		defer close(s.pumpDone)
		s.doc.pump(tabCtx)
	}()

	err := s.doc.run(ctx,
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(c context.Context) error {
			scriptID, err := page.AddScriptToEvaluateOnNewDocument(pageScript).Do(c)
			if err != nil {
				return err
			}
			logger.Debug("Injected persistent page helper.", zap.String("scriptID", string(scriptID)))
			return nil
		}),
	)
	if err != nil {
		tabCancel()
		<-s.pumpDone
		return nil, fmt.Errorf("failed to instrument tab: %w", err)
	}

	if cfg.StartURL != "" {
		if err := s.doc.Navigate(ctx, cfg.StartURL); err != nil {
			tabCancel()
			<-s.pumpDone
			return nil, err
		}
	} else if err := s.doc.install(ctx); err != nil {
		tabCancel()
		<-s.pumpDone
		return nil, err
	}

	success = true
	logger.Info("Browser tab ready.", zap.String("start_url", cfg.StartURL), zap.Bool("remote", cfg.RemoteURL != ""))
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Document returns the tab's document surface.
func (s *Session) Document() *Document { return s.doc }

// Done is closed when the tab goes away, including when the user closes the
// browser window.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close shuts the tab and the browser it launched. It waits at most timeout
// for Chrome to exit.
func (s *Session) Close(timeout time.Duration) error {
	var err error
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()
		select {
		case err = <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("browser did not exit within %s", timeout)
		}
		s.cancel()
		<-s.pumpDone
		s.allocCancel()
		s.logger.Debug("Browser session closed.")
	})
	return err
}
