// Package control serves the local HTTP API that stands in for the toolbar
// action: reading and flipping the shuffle flag, plus prometheus metrics.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Toggler changes the enabled flag on behalf of a tab.
type Toggler interface {
	Toggle(ctx context.Context, tabURL string) (bool, error)
	SetEnabled(ctx context.Context, enabled bool, tabURL string) error
}

// Locator reports the URL of the controlled tab.
type Locator interface {
	Location(ctx context.Context) (*url.URL, error)
}

// Server is the control API.
type Server struct {
	cfg     config.ControlConfig
	toggler Toggler
	store   store.Store
	tab     Locator
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer creates the control API. tab and metrics may be nil.
func NewServer(cfg config.ControlConfig, toggler Toggler, st store.Store, tab Locator, metrics http.Handler, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		toggler: toggler,
		store:   st,
		tab:     tab,
		metrics: metrics,
		logger:  logger.Named("control"),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		if s.cfg.JWT.Enabled {
			r.Use(requireToken(s.cfg.JWT, s.logger))
		}
		r.Get("/status", s.handleStatus)
		r.Post("/toggle", s.handleToggle)
		r.Post("/enable", s.handleSet(true))
		r.Post("/disable", s.handleSet(false))
	})
	return r
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Control API listening.", zap.String("address", ln.Addr().String()), zap.Bool("auth", s.cfg.JWT.Enabled))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Control API shutdown error.", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Handled request.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
