package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the billing pipeline. Registered on the default registry and
// served on /metrics by the router.
var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumenshot",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound gateway webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumenshot",
		Subsystem: "billing",
		Name:      "reconciliations_total",
		Help:      "Entitlement reconciliations by result kind.",
	}, []string{"kind"})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lumenshot",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Completed expiry sweep runs.",
	})

	SweepUserErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lumenshot",
		Subsystem: "sweeper",
		Name:      "user_errors_total",
		Help:      "Users whose expiry reconciliation failed during a sweep.",
	})

	ConsumeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumenshot",
		Subsystem: "metering",
		Name:      "consume_total",
		Help:      "Usage consume calls by outcome.",
	}, []string{"outcome"})
)

// Outcome label values shared by the counters above.
const (
	OutcomeOK                  = "ok"
	OutcomeDuplicate           = "duplicate"
	OutcomeIgnored             = "ignored"
	OutcomeError               = "error"
	OutcomeInvalidSignature    = "invalid_signature"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomeInsufficientQuota   = "insufficient_quota"
)
