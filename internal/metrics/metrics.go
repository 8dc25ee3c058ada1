// Package metrics exposes settlement activity to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chitfund/internal/model"
)

const namespace = "chitfund"

// Collector implements fund.EventSink and fund.OperationObserver.
type Collector struct {
	operations *prometheus.CounterVec
	events     *prometheus.CounterVec
	defaults   *prometheus.CounterVec
	pool       *prometheus.GaugeVec
	collateral *prometheus.GaugeVec
	paidOut    *prometheus.CounterVec
	lastCycle  *prometheus.GaugeVec
}

// NewCollector registers the settlement metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "operations handled by the settlement engine, by result code",
		}, []string{"op", "result"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "committed fund events by type",
		}, []string{"type"}),
		defaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "defaults_total",
			Help:      "missed contributions flagged per fund",
		}, []string{"fund"}),
		pool: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "pool_balance",
			Help:      "pool balance in smallest currency units",
		}, []string{"fund"}),
		collateral: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "collateral_held",
			Help:      "collateral held in smallest currency units",
		}, []string{"fund"}),
		paidOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "paid_out_total",
			Help:      "pool payouts in smallest currency units",
		}, []string{"fund"}),
		lastCycle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fund",
			Name:      "last_event_cycle",
			Help:      "cycle index of the most recent cycle-bound event",
		}, []string{"fund"}),
	}
}

// ObserveOperation counts an operation outcome.
func (c *Collector) ObserveOperation(_ string, op string, err error) {
	result := "ok"
	if err != nil {
		var e *model.Error
		if errors.As(err, &e) {
			result = string(e.Code)
		} else {
			result = "error"
		}
	}
	c.operations.WithLabelValues(op, result).Inc()
}

// RecordEvent updates balances from a committed event.
func (c *Collector) RecordEvent(evt *model.Event) error {
	c.events.WithLabelValues(string(evt.Type)).Inc()
	c.pool.WithLabelValues(evt.FundID).Set(float64(evt.PoolAfter))
	c.collateral.WithLabelValues(evt.FundID).Set(float64(evt.CollateralHeld))
	if evt.Cycle >= 0 {
		c.lastCycle.WithLabelValues(evt.FundID).Set(float64(evt.Cycle))
	}
	switch evt.Type {
	case model.EventDefault:
		c.defaults.WithLabelValues(evt.FundID).Inc()
	case model.EventClaim:
		c.paidOut.WithLabelValues(evt.FundID).Add(float64(evt.Amount))
	}
	return nil
}

// SetBalances sets the balance gauges of a fund, e.g. from its stored state at startup.
func (c *Collector) SetBalances(fundID string, pool, collateral int64) {
	c.pool.WithLabelValues(fundID).Set(float64(pool))
	c.collateral.WithLabelValues(fundID).Set(float64(collateral))
}
