package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the reconciler and dispatcher metrics. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	rounds        *prometheus.CounterVec
	roundDuration prometheus.Histogram
	transitions   *prometheus.CounterVec
	expired       prometheus.Counter
	deliveries    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stackpay",
			Name:      "reconcile_rounds_total",
			Help:      "Reconciliation rounds by outcome.",
		}, []string{"outcome"}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stackpay",
			Name:      "reconcile_round_duration_seconds",
			Help:      "Wall time of one reconciliation round.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stackpay",
			Name:      "invoice_transitions_total",
			Help:      "Invoice lifecycle transitions by target status.",
		}, []string{"status"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stackpay",
			Name:      "invoices_expired_total",
			Help:      "Invoices moved to expired by the sweep.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stackpay",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.rounds, c.roundDuration, c.transitions, c.expired, c.deliveries)
	return c
}

func (c *Collectors) ObserveRound(start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.rounds.WithLabelValues(outcome).Inc()
	c.roundDuration.Observe(time.Since(start).Seconds())
}

func (c *Collectors) Transition(status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status).Inc()
}

func (c *Collectors) Expired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.expired.Add(float64(n))
}

// Delivery records one webhook attempt outcome: delivered, failed,
// dropped or abandoned.
func (c *Collectors) Delivery(outcome string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(outcome).Inc()
}
