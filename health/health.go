// Package health exposes a minimal liveness endpoint for process
// supervisors.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/log"
	"github.com/xeptore/tgjam/store"
)

type Server struct {
	store  store.Store
	start  time.Time
	logger zerolog.Logger
}

func New(s store.Store, logger zerolog.Logger) *Server {
	return &Server{
		store:  s,
		start:  time.Now(),
		logger: logger.With().Str("module", "health").Logger(),
	}
}

type status struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Tracks        int    `json:"tracks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.HealthReadTimeout)
	defer cancel()

	tracks, err := s.store.Count(ctx, store.View{Key: store.ViewAll, OwnerID: 0})
	if nil != err {
		if !errutil.IsContext(ctx) {
			s.logger.Error().Func(log.Flaw(err)).Msg("Failed to count tracks for health report")
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	body, err := json.Marshal(status{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.start).Seconds()),
		Tracks:        tracks,
	})
	if nil != err {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); nil != err {
		s.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Run serves the endpoint until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	//nolint:exhaustruct
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: config.HealthReadTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); nil != err && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); nil != err {
			s.logger.Warn().Err(err).Msg("Health server shutdown was not clean")
		}
		return ctx.Err()
	case err, ok := <-errs:
		if !ok {
			return nil
		}
		flawP := flaw.P{"addr": addr}
		return flaw.From(fmt.Errorf("health server failed: %v", err)).Append(flawP)
	}
}
