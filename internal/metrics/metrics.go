package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Decision metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_decisions_total",
			Help: "Total foreground events evaluated, by verdict and reason",
		},
		[]string{"verdict", "reason"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "braintrap_decision_duration_seconds",
			Help:    "Time from event receipt to verdict",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"verdict"},
	)

	UsageQueryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "braintrap_usage_query_errors_total",
			Help: "Usage queries that failed or timed out during a decision (fail open)",
		},
	)

	LimitCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "braintrap_limit_cache_hits_total",
			Help: "Time limit cache hits",
		},
	)

	LimitCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "braintrap_limit_cache_misses_total",
			Help: "Time limit cache misses",
		},
	)

	WhitelistEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "braintrap_whitelist_entries",
			Help: "Number of live temporary access grants",
		},
	)

	// Interception metrics
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_evictions_total",
			Help: "Blocked apps pushed out of the foreground",
		},
		[]string{"verdict"},
	)

	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_escalations_total",
			Help: "Device lock and shutdown requests, by action and result",
		},
		[]string{"action", "result"},
	)

	// Challenge metrics
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_challenges_total",
			Help: "Challenge sessions by outcome",
		},
		[]string{"outcome"},
	)

	ProblemsAnswered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_problems_answered_total",
			Help: "Individual challenge problems by difficulty and result",
		},
		[]string{"difficulty", "result"},
	)

	// Usage metrics
	UsageTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_usage_ticks_total",
			Help: "Usage accounting ticks by result",
		},
		[]string{"result"},
	)

	UsageMinutesToday = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "braintrap_usage_minutes_today",
			Help: "Foreground minutes used today per limited app",
		},
		[]string{"app"},
	)

	UnlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_unlocks_total",
			Help: "Temporary access grants by method",
		},
		[]string{"method"},
	)

	// Bridge metrics
	BridgeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "braintrap_bridge_events_total",
			Help: "Inbound host events by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		DecisionDuration,
		UsageQueryErrors,
		LimitCacheHits,
		LimitCacheMisses,
		WhitelistEntries,
		EvictionsTotal,
		EscalationsTotal,
		ChallengesTotal,
		ProblemsAnswered,
		UsageTicksTotal,
		UsageMinutesToday,
		UnlocksTotal,
		BridgeEventsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener uses an already-bound listener (systemd socket activation)
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.server.Addr)
		if err != nil {
			return err
		}
		s.listener = ln
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
