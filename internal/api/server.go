// Package api serves the dashboard over HTTP: read endpoints backed by
// the latest snapshot, an admin-keyed refresh trigger, a WebSocket hub
// pushing refresh and transaction lifecycle events, and Prometheus
// metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stakewatch/stakewatch/internal/dashboard"
	"github.com/stakewatch/stakewatch/internal/logging"
)

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Addr string

	// Rate limiting, requests per minute per client IP
	RateLimit      int
	RateLimitBurst int

	// Proxy trust (only enable behind a trusted reverse proxy)
	TrustProxy bool

	// CORS
	EnableCORS     bool
	AllowedOrigins []string

	// Timeouts
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	APIKeyHeader    string
	APIKeyStorePath string

	// Token presentation
	TokenSymbol   string
	TokenDecimals int
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              ":8480",
		RateLimit:         120,
		RateLimitBurst:    30,
		EnableCORS:        true,
		AllowedOrigins:    []string{},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		APIKeyHeader:      "X-API-Key",
		TokenSymbol:       "USDT",
		TokenDecimals:     6,
	}
}

// SnapshotSource provides the current dashboard view and accepts
// refresh requests. Satisfied by *dashboard.Dashboard.
type SnapshotSource interface {
	Snapshot() *dashboard.Snapshot
	RequestRefresh()
}

// Server is the daemon's HTTP API server.
type Server struct {
	config     *ServerConfig
	dash       SnapshotSource
	apiKeys    *APIKeyManager
	wsHub      *WebSocketHub
	metricsH   http.Handler
	httpServer *http.Server

	mu      sync.Mutex
	running bool

	rateLimiters    sync.Map
	rateLimitCancel context.CancelFunc
}

// rateLimiterEntry holds a limiter and the last time its IP was seen
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewServer creates the API server. metricsHandler may be nil to
// disable the /metrics endpoint.
func NewServer(cfg *ServerConfig, dash SnapshotSource, metricsHandler http.Handler) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	keys, err := NewAPIKeyManager(cfg.APIKeyStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API key manager: %w", err)
	}

	return &Server{
		config:   cfg,
		dash:     dash,
		apiKeys:  keys,
		wsHub:    NewWebSocketHub(),
		metricsH: metricsHandler,
	}, nil
}

// Hub returns the WebSocket hub for event publication.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// APIKeys returns the API key manager
func (s *Server) APIKeys() *APIKeyManager {
	return s.apiKeys
}

// Start begins serving. Non-blocking; the server runs until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.config.RateLimit > 0 {
		var cleanupCtx context.Context
		cleanupCtx, s.rateLimitCancel = context.WithCancel(ctx)
		s.startRateLimiterCleanup(cleanupCtx)
	}

	go s.wsHub.Run(ctx)

	// ReadHeaderTimeout bounds header parsing without killing
	// long-lived WebSocket connections the way ReadTimeout would.
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	go func() {
		logging.Info("API server starting",
			"addr", s.config.Addr,
			logging.Component("api"))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server error", logging.Err(err), logging.Component("api"))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.rateLimitCancel != nil {
		s.rateLimitCancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("API server shutdown: %w", err)
		}
	}
	logging.Info("API server stopped", logging.Component("api"))
	return nil
}

// Router builds the HTTP handler tree. Exported so tests can drive it
// through httptest without binding a port.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Read endpoints, public
	mux.HandleFunc("/api/v1/summary", s.withMiddleware(s.handleSummary))
	mux.HandleFunc("/api/v1/stakes/", s.withMiddleware(s.handleStakes))
	mux.HandleFunc("/api/v1/referrals/", s.withMiddleware(s.handleReferrals))
	mux.HandleFunc("/api/v1/withdrawals/", s.withMiddleware(s.handleWithdrawals))
	mux.HandleFunc("/api/v1/pool/history", s.withMiddleware(s.handlePoolHistory))
	mux.HandleFunc("/api/v1/status", s.withMiddleware(s.handleStatus))

	// Refresh trigger, API key required
	mux.HandleFunc("/api/v1/refresh", s.withMiddleware(s.withAuth(s.handleRefresh)))

	// Event push
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.metricsH != nil {
		mux.Handle("/metrics", s.metricsH)
	}

	if s.config.EnableCORS {
		return s.corsMiddleware(mux)
	}
	return mux
}

// corsMiddleware wraps the whole tree so preflight OPTIONS to unknown
// paths still carry CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMiddleware applies rate limiting to a handler
func (s *Server) withMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit > 0 {
			ip := s.extractClientIP(r)
			if !s.getRateLimiter(ip).Allow() {
				logging.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					logging.Component("api"))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded", "retry_after": 60}`))
				return
			}
		}
		handler(w, r)
	}
}

// withAuth requires a valid API key, from the key header or a Bearer
// token.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(s.config.APIKeyHeader)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key == "" || !s.apiKeys.ValidateKey(key) {
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// getRateLimiter returns the limiter for an IP, creating one on first
// sight.
func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.lastSeen = now
		return entry.limiter
	}

	rps := rate.Limit(float64(s.config.RateLimit) / 60.0)
	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rps, s.config.RateLimitBurst),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP returns the client IP, trusting proxy headers only
// when configured to.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) startRateLimiterCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupRateLimiters()
			}
		}
	}()
}

func (s *Server) cleanupRateLimiters() {
	staleThreshold := time.Now().Add(-10 * time.Minute)
	var cleaned int

	s.rateLimiters.Range(func(key, value any) bool {
		if value.(*rateLimiterEntry).lastSeen.Before(staleThreshold) {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}

	allowed := false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")
	}
}
