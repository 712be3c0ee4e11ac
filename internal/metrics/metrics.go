// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports Prometheus metrics for the reply pipeline.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcem/replyflow/internal/source"
)

// Metrics holds the pipeline's collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	BatchesTotal        *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	SourceFetchDuration *prometheus.HistogramVec
	SourceErrorsTotal   *prometheus.CounterVec
	MessagesTotal       *prometheus.CounterVec
	AutoRepliesTotal    *prometheus.CounterVec
	ClaimConflicts      prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_batches_total",
				Help: "Reply-check batches run, by result",
			},
			[]string{"result"},
		),
		BatchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replyflow_batch_duration_seconds",
				Help:    "Wall time of one reply-check batch",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		SourceFetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replyflow_source_fetch_duration_seconds",
				Help:    "Mailbox fetch latency per source",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		SourceErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_source_errors_total",
				Help: "Mailbox fetch failures per source and kind",
			},
			[]string{"source", "kind"},
		),
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_messages_total",
				Help: "Inbound messages by processing outcome",
			},
			[]string{"outcome"},
		),
		AutoRepliesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replyflow_auto_replies_total",
				Help: "Auto-reply attempts by result",
			},
			[]string{"result"},
		),
		ClaimConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "replyflow_claim_conflicts_total",
				Help: "Messages skipped because another run held the claim",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records one adapter fetch.
func (m *Metrics) ObserveFetch(sourceName string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(sourceName).Observe(d.Seconds())
	if err == nil {
		return
	}
	kind := "error"
	if source.IsAuthError(err) {
		kind = "auth"
	}
	m.SourceErrorsTotal.WithLabelValues(sourceName, kind).Inc()
}

// ObserveBatch records a finished batch.
func (m *Metrics) ObserveBatch(d time.Duration, errorCount int) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
	result := "ok"
	if errorCount > 0 {
		result = "partial"
	}
	m.BatchesTotal.WithLabelValues(result).Inc()
}

// IncOutcome counts one processed message.
func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// IncAutoReply counts one auto-reply attempt.
func (m *Metrics) IncAutoReply(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.AutoRepliesTotal.WithLabelValues(result).Inc()
}

// IncClaimConflict counts a message skipped because of a held claim.
func (m *Metrics) IncClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflicts.Inc()
}
