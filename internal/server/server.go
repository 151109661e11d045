package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/bilal/router-rebooter/internal/config"
	"github.com/bilal/router-rebooter/internal/decision"
	"github.com/bilal/router-rebooter/internal/metrics"
	"github.com/bilal/router-rebooter/internal/telemetry"
)

// Actuator is what the manual-reboot path needs from the relay.
type Actuator interface {
	PowerCycle(ctx context.Context) error
}

// Server is the operator-facing control surface. It shares the tracker with
// the monitor loop and the actuation lock with the automatic reboot path; a
// manual reboot issued while an automatic one is in flight simply waits.
type Server struct {
	httpServer *http.Server
	tracker    *decision.Tracker
	actuator   Actuator
	fw         *telemetry.Forwarder // may be nil

	username string
	password string

	tlsEnabled bool
	certFile   string
	keyFile    string

	eventLimit int
}

func New(cfg *config.Config, tracker *decision.Tracker, actuator Actuator, fw *telemetry.Forwarder) *Server {
	s := &Server{
		tracker:    tracker,
		actuator:   actuator,
		fw:         fw,
		username:   cfg.HTTP.AuthUsername,
		password:   cfg.HTTP.AuthPassword,
		tlsEnabled: cfg.HTTP.TLSEnabled,
		certFile:   cfg.HTTP.TLSCert,
		keyFile:    cfg.HTTP.TLSKey,
		eventLimit: 200,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.withAuth(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run blocks and serves until Shutdown. TLS mode generates a self-signed
// certificate on first start if the configured files are missing.
func (s *Server) Run() error {
	if s.tlsEnabled {
		if err := ensureCertificate(s.certFile, s.keyFile); err != nil {
			return fmt.Errorf("tls bootstrap: %w", err)
		}
		log.Info().Str("addr", s.httpServer.Addr).Msg("https server started")
		return s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server started")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/clear", s.handleClearEvents)
	mux.HandleFunc("/api/reboot", s.handleReboot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// withAuth enforces basic auth on everything except the liveness probe when
// credentials are configured.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.username == "" || s.password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="router-rebooter"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStatus returns a snapshot of the tracker. It never touches the
// network or the relay.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := parseLimit(r, s.eventLimit)
	events := s.tracker.Events(limit)
	if events == nil {
		events = []decision.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.tracker.ClearEvents()
	log.Info().Msg("event log cleared via control surface")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleReboot is the manual trigger. It blocks on the actuation lock, so the
// relay pulse never overlaps an automatic cycle. Calling it twice fires the
// relay twice; an explicit operator action is not deduplicated.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("manual reboot requested")

	if err := s.actuator.PowerCycle(r.Context()); err != nil {
		metrics.HardwareErrors.Inc()
		log.Error().Err(err).Msg("manual reboot failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.tracker.RecordReboot(decision.ReasonManual)
	s.tracker.MarkManualReboot()
	metrics.RebootsTotal.WithLabelValues(string(decision.ReasonManual)).Inc()

	if s.fw != nil {
		hostname, _ := os.Hostname()
		s.fw.Send(telemetry.EventPayload{
			Host:      hostname,
			Timestamp: time.Now(),
			Kind:      string(decision.EventReboot),
			Reason:    string(decision.ReasonManual),
			Message:   "router power cycled",
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "router power cycled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": true,
		"state":   s.tracker.Snapshot().State,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
