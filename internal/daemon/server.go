package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/subzero/swarm/internal/config"
	"github.com/subzero/swarm/internal/observability"
	"github.com/subzero/swarm/pkg/contextstore"
	"github.com/subzero/swarm/pkg/dispatch"
)

// statusResponse is the JSON body served at /status.
type statusResponse struct {
	Running   bool                           `json:"running"`
	UptimeSec float64                        `json:"uptime_sec"`
	Backend   dispatch.StatusInfo            `json:"backend"`
	Telemetry contextstore.TelemetrySnapshot `json:"telemetry"`
}

// statusServer serves /metrics and /status on the local observability
// port.
type statusServer struct {
	daemon *Daemon
	server *http.Server
	logger zerolog.Logger
}

func newStatusServer(cfg config.MetricsConfig, d *Daemon, logger zerolog.Logger) *statusServer {
	s := &statusServer{
		daemon: d,
		logger: logger.With().Str("component", "status").Logger(),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *statusServer) start() {
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Status endpoint listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status endpoint failed")
		}
	}()
}

func (s *statusServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Status endpoint shutdown failed")
	}
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Running:   s.daemon.Running(),
		UptimeSec: s.daemon.Uptime().Seconds(),
		Backend:   s.daemon.Coordinator().Status(),
		Telemetry: s.daemon.Coordinator().Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode status response")
	}
}
