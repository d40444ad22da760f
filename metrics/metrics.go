// Package metrics provides the Prometheus implementation of transfer.Metrics.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bonnefoa/pgcachectl/status"
	"github.com/bonnefoa/pgcachectl/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "pgcachectl"

type transferMetrics struct {
	pages            *prometheus.CounterVec
	bytes            *prometheus.CounterVec
	transfers        *prometheus.CounterVec
	transferPages    *prometheus.HistogramVec
	transferDuration *prometheus.HistogramVec
}

// New registers the transfer metrics on reg. A nil registry disables
// metrics and returns nil.
func New(reg prometheus.Registerer) transfer.Metrics {
	if reg == nil {
		return nil
	}

	return &transferMetrics{
		pages: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_published_total",
				Help:      "Pages copied into the page cache and marked uptodate",
			},
			[]string{"mode"}, // "insert", "replace"
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_copied_total",
				Help:      "Bytes copied from caller memory into cache pages",
			},
			[]string{"mode"},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfers_total",
				Help:      "Transfer requests by mode and result",
			},
			[]string{"mode", "result"},
		),
		transferPages: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_pages",
				Help:      "Pages published per transfer",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1 page to 256Ki pages
			},
			[]string{"mode"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_milliseconds",
				Help:      "Duration of transfers in milliseconds",
				Buckets: []float64{
					0.01, // 10us - single page
					0.1,
					1,
					10,
					100,
					1000, // 1s - relation sized transfers
					10000,
				},
			},
			[]string{"mode"},
		),
	}
}

func (m *transferMetrics) ObservePage(mode string, bytes int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(mode).Inc()
	m.bytes.WithLabelValues(mode).Add(float64(bytes))
}

func (m *transferMetrics) ObserveTransfer(mode string, pages int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(mode, Result(err)).Inc()
	m.transferPages.WithLabelValues(mode).Observe(float64(pages))
	m.transferDuration.WithLabelValues(mode).Observe(duration.Seconds() * 1000)
}

// Result is the label value of a transfer outcome
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, status.ErrNotFound):
		return "not_found"
	case errors.Is(err, status.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, status.ErrFault):
		return "fault"
	case errors.Is(err, status.ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, status.ErrNotResident):
		return "not_resident"
	}
	return "error"
}

// Dump writes every metric family of g in the text exposition format
func Dump(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
