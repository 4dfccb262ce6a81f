// Package health serves liveness and readiness probes for the worker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultCheckTimeout = 3 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the body of every probe response.
type Status struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Version  string            `json:"version,omitempty"`
	Commit   string            `json:"commit,omitempty"`
	Time     string            `json:"time,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// Config holds the configuration for the health server.
type Config struct {
	ServiceName  string
	Version      string
	Commit       string
	Addr         string
	Logger       *logrus.Logger
	Checks       map[string]Pinger
	CheckTimeout time.Duration
}

// Server answers /live, /health and /ready. Readiness requires both the
// ready flag and every named check to pass.
type Server struct {
	cfg    Config
	logger *logrus.Entry
	ready  atomic.Bool
	server *http.Server
}

// NewServer creates a health server. Nil checks are ignored.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	checks := make(map[string]Pinger, len(cfg.Checks))
	for name, p := range cfg.Checks {
		if p != nil {
			checks[name] = p
		}
	}
	cfg.Checks = checks

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Server{cfg: cfg, logger: log.WithField("component", "health")}
}

// SetReady flips the readiness flag, typically once the trigger endpoint is
// listening and again on shutdown.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady returns the readiness flag.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// Handler returns the probe routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/health", s.handleLive)
	mux.HandleFunc("/ready", s.handleReady)
	return mux
}

// Start serves the probes in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr":   s.cfg.Addr,
			"checks": s.checkNames(),
		}).Info("Health server starting")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Health server error")
		}
	}()

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			s.logger.WithError(err).Warn("Health server did not shut down cleanly")
		}
	}()
	return nil
}

// Shutdown stops the server, waiting up to five seconds for open probes.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Probe runs every check concurrently and returns the per-check outcome.
func (s *Server) Probe(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		results = make(map[string]string, len(s.cfg.Checks)+1)
	)
	for name, p := range s.cfg.Checks {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			err := p.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = fmt.Sprintf("error: %v", err)
				return
			}
			results[name] = "ok"
		}(name, p)
	}
	wg.Wait()
	return results, healthy
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.write(w, http.StatusOK, Status{
		Status:  "ok",
		Service: s.cfg.ServiceName,
		Version: s.cfg.Version,
		Commit:  s.cfg.Commit,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checks, healthy := s.Probe(r.Context())
	if s.IsReady() {
		checks["service"] = "ok"
	} else {
		checks["service"] = "not_ready"
		healthy = false
	}

	resp := Status{
		Status:   "ok",
		Service:  s.cfg.ServiceName,
		Checks:   checks,
		Duration: time.Since(start).String(),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "not_ready"
		code = http.StatusServiceUnavailable
		s.logger.WithField("checks", checks).Debug("Readiness probe failed")
	}
	s.write(w, code, resp)
}

func (s *Server) write(w http.ResponseWriter, code int, body Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Debug("Failed to write probe response")
	}
}

func (s *Server) checkNames() []string {
	names := make([]string, 0, len(s.cfg.Checks))
	for name := range s.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
