// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a prometheus registry with the Go and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler returns the HTTP handler serving reg.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the bus collectors.
type Metrics struct {
	Transactions *prometheus.CounterVec   // labels: instruction, outcome
	Attempts     prometheus.Counter       // every frame written
	Retries      prometheus.Counter       // attempts beyond the first
	RoundTrip    *prometheus.HistogramVec // labels: instruction
	ServoErrors  *prometheus.CounterVec   // labels: id
}

// NewMetrics registers and returns the bus collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "st3215_transactions_total",
			Help: "Bus transactions by instruction and terminal state.",
		}, []string{"instruction", "outcome"}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "st3215_attempts_total",
			Help: "Frames written to the bus, retries included.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "st3215_retries_total",
			Help: "Attempts beyond the first for a transaction.",
		}),
		RoundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "st3215_transaction_seconds",
			Help:    "Transaction duration including retries.",
			Buckets: []float64{.0005, .001, .002, .005, .01, .02, .05, .1, .25},
		}, []string{"instruction"}),
		ServoErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "st3215_servo_errors_total",
			Help: "Status frames with a non-zero error byte, by servo id.",
		}, []string{"id"}),
	}
	reg.MustRegister(m.Transactions, m.Attempts, m.Retries, m.RoundTrip, m.ServoErrors)
	return m
}

func (m *Metrics) observe(tx *Transaction) {
	if m == nil {
		return
	}
	inst := FormatInstruction(tx.Request.Instruction())
	m.Transactions.WithLabelValues(inst, tx.State.String()).Inc()
	m.Attempts.Add(float64(tx.Attempts))
	if tx.Attempts > 1 {
		m.Retries.Add(float64(tx.Attempts - 1))
	}
	m.RoundTrip.WithLabelValues(inst).Observe(tx.Elapsed.Seconds())
	if tx.Reply != nil && tx.Reply.Status() != 0 {
		m.ServoErrors.WithLabelValues(strconv.Itoa(int(tx.Reply.ID()))).Inc()
	}
}
