package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveRound(time.Now(), nil)
	c.ObserveRound(time.Now(), errors.New("boom"))
	c.Transition("confirmed")
	c.Expired(2)
	c.Expired(0)
	c.Delivery("abandoned")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.rounds.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rounds.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transitions.WithLabelValues("confirmed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.expired))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveries.WithLabelValues("abandoned")))
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveRound(time.Now(), nil)
		c.Transition("confirmed")
		c.Expired(1)
		c.Delivery("delivered")
	})
}
