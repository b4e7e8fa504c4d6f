package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game master.
//
// Naming convention: namespace_subsystem_name
// - namespace: game_master
// - subsystem: rpc, session, hub, auth, registry
//
// Metric Types:
// - Gauge: current state (sessions, players, subscriptions)
// - Counter: cumulative events (requests, events emitted, drops)
// - Histogram: latency distributions

var (
	// ActiveSessions tracks the current number of live game sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_master",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of active game sessions",
	})

	// SessionPlayers tracks the player count of each session.
	SessionPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "game_master",
		Subsystem: "session",
		Name:      "players_count",
		Help:      "Number of players in each session",
	}, []string{"session_id"})

	// ActiveSubscriptions tracks the current number of event subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_master",
		Subsystem: "hub",
		Name:      "subscriptions_active",
		Help:      "Current number of active event subscriptions",
	})

	// EventsEmitted counts game events emitted by the engines.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Total game events emitted",
	}, []string{"event_type"})

	// DroppedFrames counts event frames dropped because a subscriber fell behind.
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "hub",
		Name:      "frames_dropped_total",
		Help:      "Total event frames dropped due to slow subscribers",
	})

	// RPCRequests counts JSON-RPC requests by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Total JSON-RPC requests processed",
	}, []string{"method", "status"})

	// RPCDuration tracks time spent handling JSON-RPC requests.
	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "game_master",
		Subsystem: "rpc",
		Name:      "request_seconds",
		Help:      "Time spent handling JSON-RPC requests",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method"})

	// SignatureFailures counts rejected message signatures by reason.
	SignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "auth",
		Name:      "signature_failures_total",
		Help:      "Total signature verifications rejected",
	}, []string{"reason"})

	// RegistryLookups counts identity registry lookups by outcome.
	RegistryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "registry",
		Name:      "lookups_total",
		Help:      "Total identity registry lookups",
	}, []string{"outcome"})

	// CircuitBreakerState exposes the registry breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "game_master",
		Subsystem: "registry",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts calls rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "registry",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total calls rejected because a circuit breaker was open",
	}, []string{"name"})

	// RateLimitRequests counts requests that passed the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "rpc",
		Name:      "rate_limit_requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"path"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_master",
		Subsystem: "rpc",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"path"})
)
