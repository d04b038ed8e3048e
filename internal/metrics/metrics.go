package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Providers
	ProviderStrava = "strava"
	ProviderGarmin = "garmin"

	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDropped = "dropped"
	ResultFailure = "failure"

	// Worker outcomes
	OutcomeItemFound = "item_found"
	OutcomeIdle      = "idle"

	// HTTP endpoints
	EndpointStravaWebhook   = "strava_webhook"
	EndpointGarminPing      = "garmin_ping"
	EndpointGarminPush      = "garmin_push"
	EndpointGarminDereg     = "garmin_deregistration"
	EndpointGarminPerms     = "garmin_permissions"
	EndpointBackfillFetch   = "backfill_fetch"
	EndpointBackfillHistory = "backfill_history"
	EndpointHealth          = "health"

	// Backfill chunk outcomes
	ChunkAccepted  = "accepted"
	ChunkDuplicate = "duplicate"
	ChunkFailed    = "failed"

	// Ride write outcomes
	RideImported = "imported"
	RideSkipped  = "skipped"

	// Database operations
	DBOpEnqueueWebhook = "enqueue_webhook"
	DBOpClaimWebhook   = "claim_webhook"
	DBOpDeleteWebhook  = "delete_webhook"
	DBOpReleaseWebhook = "release_webhook"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth_total",
			Help: "Total number of items in the webhook queue (all states)",
		},
	)

	QueueDepthReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth_ready",
			Help: "Number of webhook queue items ready for processing",
		},
	)

	QueueDepthProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth_processing",
			Help: "Number of webhook queue items currently being processed",
		},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_queue_enqueue_total",
			Help: "Total number of webhook payloads enqueued",
		},
		[]string{"provider"},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_queue_dequeue_total",
			Help: "Total number of webhook payloads dequeued with outcome",
		},
		[]string{"provider", "result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_queue_processing_duration_seconds",
			Help:    "Time spent processing webhook queue items",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_queue_retry_total",
			Help: "Total number of retry attempts",
		},
		[]string{"provider", "retry_count"},
	)
)

// Worker Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of worker poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the worker is currently active (1) or not (0)",
		},
	)
)

// Provider API Metrics
var (
	ProviderAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_api_requests_total",
			Help: "Total number of outbound provider API requests",
		},
		[]string{"provider", "operation", "status_code"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Total number of OAuth token refresh exchanges",
		},
		[]string{"provider", "result"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	WebhookEventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Total number of webhook events processed",
		},
		[]string{"provider", "kind", "result"},
	)

	RidesUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rides_upserted_total",
			Help: "Total number of ride upserts by source flow",
		},
		[]string{"provider", "flow"},
	)

	BackfillChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_chunks_total",
			Help: "Total number of backfill chunk requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	BackfillActivitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_activities_total",
			Help: "Total number of activities seen during synchronous backfill",
		},
		[]string{"provider", "result"},
	)
)
