// Package status exposes the daemon's health and playback state over a
// small HTTP surface.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/tagboxd/internal/app/playback"
)

// Source reports the current playback state.
type Source interface {
	Status() playback.Snapshot
}

// Server serves GET /healthz and GET /status.
type Server struct {
	addr     string
	instance uuid.UUID
	source   Source
	started  time.Time
}

// New creates a status server for the given listen address.
func New(addr string, instance uuid.UUID, source Source) *Server {
	return &Server{
		addr:     addr,
		instance: instance,
		source:   source,
		started:  time.Now(),
	}
}

type statusResponse struct {
	Instance      string            `json:"instance"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Playback      playback.Snapshot `json:"playback"`
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := statusResponse{
			Instance:      s.instance.String(),
			UptimeSeconds: int64(time.Since(s.started).Seconds()),
			Playback:      s.source.Status(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			zlog.Warn().Err(err).Msg("writing status response")
		}
	})
	return h2c.NewHandler(mux, &http2.Server{})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", s.addr).Msg("status server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "status server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("status server shutdown")
	}
	return ctx.Err()
}
