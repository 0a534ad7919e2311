// Package metrics exposes ledger counters to Prometheus. A nil *Collector is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	operations           *prometheus.CounterVec
	partialReferrals     prometheus.Counter
	collaboratorFailures *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	dailyResets          prometheus.Counter
	outboxDepth          prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "checkin"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and result",
		},
		[]string{"operation", "result"},
	)
	c.partialReferrals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "partial_referrals_total",
		Help:      "Referrals where the downline moved but the point credit failed",
	})
	c.collaboratorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "failures_total",
			Help:      "Failed calls to membership lookup or notification delivery",
		},
		[]string{"collaborator"},
	)
	c.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Admin notifications by delivery result",
		},
		[]string{"result"},
	)
	c.dailyResets = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "daily_reset_accounts_total",
		Help:      "Accounts whose daily bonus flag was cleared",
	})
	c.outboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "outbox_depth",
		Help:      "Notifications waiting for redelivery",
	})

	c.registry.MustRegister(
		c.operations,
		c.partialReferrals,
		c.collaboratorFailures,
		c.notifications,
		c.dailyResets,
		c.outboxDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one call of operation; err decides the result label.
func (c *Collector) RecordOperation(operation string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordPartialReferral() {
	if c == nil {
		return
	}
	c.partialReferrals.Inc()
}

func (c *Collector) RecordCollaboratorFailure(collaborator string) {
	if c == nil {
		return
	}
	c.collaboratorFailures.WithLabelValues(collaborator).Inc()
}

func (c *Collector) RecordNotification(err error) {
	if c == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "queued"
	}
	c.notifications.WithLabelValues(result).Inc()
}

func (c *Collector) RecordDailyReset(accounts int64) {
	if c == nil {
		return
	}
	c.dailyResets.Add(float64(accounts))
}

func (c *Collector) RecordOutboxDepth(depth int64) {
	if c == nil {
		return
	}
	c.outboxDepth.Set(float64(depth))
}
