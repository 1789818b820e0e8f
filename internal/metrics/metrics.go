// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GateDecisions counts admission gate outcomes by reason.
var GateDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arb_gate_decisions_total",
		Help: "Admission gate outcomes by reason",
	},
	[]string{"reason"},
)

// OrdersSent counts order submissions by side and trading mode.
var OrdersSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arb_orders_sent_total",
		Help: "Orders submitted by side and trading mode",
	},
	[]string{"side", "mode"},
)

// OrderSendFailures counts submissions the session did not accept.
var OrderSendFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arb_order_send_failures_total",
		Help: "Order submissions rejected by the session layer",
	},
	[]string{"side"},
)

// Queue metrics
var (
	QueueOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_queue_overflow_total",
			Help: "Offers dropped because the queue was full",
		},
		[]string{"queue"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arb_queue_depth",
			Help: "Messages drained per dispatch iteration",
		},
		[]string{"queue"},
	)
)

// Loop and ledger health
var (
	LoopPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arb_loop_panics_total",
			Help: "Panics caught at the dispatch loop boundary",
		},
	)

	ExecReportsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arb_exec_reports_dropped_total",
			Help: "Execution reports that could not be applied to a ledger",
		},
		[]string{"instrument"},
	)

	BreakersTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arb_circuit_breakers_tripped",
			Help: "Instruments with a tripped circuit breaker",
		},
	)
)

// NetPnl is the realized net PnL per instrument.
var NetPnl = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "arb_net_pnl",
		Help: "Realized net PnL in quote currency",
	},
	[]string{"instrument"},
)

func init() {
	prometheus.MustRegister(GateDecisions, OrdersSent, OrderSendFailures)
	prometheus.MustRegister(QueueOverflows, QueueDepth)
	prometheus.MustRegister(LoopPanics, ExecReportsDropped, BreakersTripped)
	prometheus.MustRegister(NetPnl)
}
