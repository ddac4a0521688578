package control

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// Status is the body of a successful response.
type Status struct {
	Enabled      bool   `json:"enabled"`
	LastTitleURL string `json:"lastTitleUrl,omitempty"`
}

// Response is the envelope of every API response.
type Response struct {
	Status string  `json:"status"`
	Data   *Status `json:"data,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// actionRequest optionally names the tab url to remember. Without it the
// controlled tab's location is used.
type actionRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondWithStatus(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	tabURL, ok := s.tabURL(w, r)
	if !ok {
		return
	}
	enabled, err := s.toggler.Toggle(r.Context(), tabURL)
	if err != nil {
		s.logger.Error("Toggle failed.", zap.Error(err))
		respondWithError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("Shuffle toggled.", zap.Bool("enabled", enabled))
	s.respondWithStatus(w, r)
}

func (s *Server) handleSet(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tabURL, ok := s.tabURL(w, r)
		if !ok {
			return
		}
		if err := s.toggler.SetEnabled(r.Context(), enabled, tabURL); err != nil {
			s.logger.Error("Setting enabled flag failed.", zap.Bool("enabled", enabled), zap.Error(err))
			respondWithError(w, s.logger, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondWithStatus(w, r)
	}
}

// tabURL reads the optional request body, falling back to the tab location.
func (s *Server) tabURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req actionRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		respondWithError(w, s.logger, http.StatusBadRequest, "unreadable request body")
		return "", false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondWithError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
			return "", false
		}
	}
	if req.URL != "" || s.tab == nil {
		return req.URL, true
	}
	loc, err := s.tab.Location(r.Context())
	if err != nil {
		s.logger.Debug("Tab location unavailable.", zap.Error(err))
		return "", true
	}
	return loc.String(), true
}

func (s *Server) respondWithStatus(w http.ResponseWriter, r *http.Request) {
	values, err := store.Describe(r.Context(), s.store)
	if err != nil {
		respondWithError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	st := &Status{
		Enabled:      store.ParseBool(values[store.KeyEnabled]),
		LastTitleURL: values[store.KeyLastTitleURL],
	}
	respond(w, s.logger, http.StatusOK, Response{Status: "success", Data: st})
}

func respondWithError(w http.ResponseWriter, logger *zap.Logger, code int, message string) {
	respond(w, logger, code, Response{Status: "error", Error: message})
}

func respond(w http.ResponseWriter, logger *zap.Logger, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode response.", zap.Error(err))
	}
}
