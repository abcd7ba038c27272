package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	LedgerCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_credits_total",
		Help: "Committed ledger credits by transaction type",
	}, []string{"type"})

	LedgerDebitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_debits_total",
		Help: "Committed ledger debits by transaction type",
	}, []string{"type"})

	LedgerTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_tokens_total",
		Help: "Tokens moved through the ledger by direction",
	}, []string{"direction"})

	LedgerInsufficientTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_insufficient_balance_total",
		Help: "Debits rejected for insufficient balance",
	})

	LedgerDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_drift_total",
		Help: "Cached balances repaired by reconciliation",
	})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout session creation attempts by package and result",
	}, []string{"package", "result"})

	PurchasesConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_confirmed_total",
		Help: "Purchase confirmations by source and outcome",
	}, []string{"source", "outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook deliveries by provider and outcome",
	}, []string{"provider", "outcome"})

	NotificationsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications that could not be stored",
	})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Background job attempts by type and outcome",
	}, []string{"type", "outcome"})

	JobQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "job_queue_depth",
		Help: "Job ids per queue state",
	}, []string{"state"})
)

// Middleware records request count and latency by matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler serves the Prometheus exposition format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
