// Package metrics declares the Prometheus instrumentation surface,
// grouped namespace_subsystem_name the way the rest of this codebase
// does: namespace "roomsrv" (application-level), subsystem per feature
// area (hub, room, upload, broadcaster, circuit_breaker, rate_limit,
// redis), name per specific measurement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomsrv",
		Subsystem: "hub",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomsrv",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	RoomUsers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomsrv",
		Subsystem: "room",
		Name:      "users_count",
		Help:      "Number of users in each room",
	}, []string{"room_id"})

	HubEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "hub",
		Name:      "events_total",
		Help:      "Total hub RPCs processed",
	}, []string{"event_type", "status"})

	HubMessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomsrv",
		Subsystem: "hub",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing a single hub RPC",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	UploadsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "upload",
		Name:      "enqueued_total",
		Help:      "Total score uploads enqueued",
	})

	UploadsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "upload",
		Name:      "written_total",
		Help:      "Total score uploads written to storage",
	})

	UploadsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "upload",
		Name:      "dropped_total",
		Help:      "Total score uploads dropped without being written",
	}, []string{"reason"})

	UploadPipelineRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomsrv",
		Subsystem: "upload",
		Name:      "remaining_usages",
		Help:      "Items still owned by the upload pipeline (queued + in-flight)",
	})

	BroadcasterTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "broadcaster",
		Name:      "ticks_total",
		Help:      "Total metadata broadcaster poll ticks",
	}, []string{"status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomsrv",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomsrv",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomsrv",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
