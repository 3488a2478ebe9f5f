package vsac

import (
	metrics "github.com/rcrowley/go-metrics"
)

const (
	metricRequests          = "vsac.requests"
	metricTransportFailures = "vsac.failures.transport"
	metricStatusFailures    = "vsac.failures.status"
	metricParseFailures     = "vsac.failures.parse"
	metricFetchTimer        = "vsac.fetch"
	metricExtracted         = "concepts.extracted"
	metricUpserted          = "concepts.upserted"
)

type runMetrics struct {
	registry          metrics.Registry
	requests          metrics.Counter
	transportFailures metrics.Counter
	statusFailures    metrics.Counter
	parseFailures     metrics.Counter
	extracted         metrics.Counter
	upserted          metrics.Counter
	fetch             metrics.Timer
}

func newRunMetrics() *runMetrics {
	registry := metrics.NewRegistry()
	return &runMetrics{
		registry:          registry,
		requests:          metrics.GetOrRegisterCounter(metricRequests, registry),
		transportFailures: metrics.GetOrRegisterCounter(metricTransportFailures, registry),
		statusFailures:    metrics.GetOrRegisterCounter(metricStatusFailures, registry),
		parseFailures:     metrics.GetOrRegisterCounter(metricParseFailures, registry),
		extracted:         metrics.GetOrRegisterCounter(metricExtracted, registry),
		upserted:          metrics.GetOrRegisterCounter(metricUpserted, registry),
		fetch:             metrics.GetOrRegisterTimer(metricFetchTimer, registry),
	}
}

func (m *runMetrics) recordFailure(kind FailureKind) {
	switch kind {
	case TransportFailure:
		m.transportFailures.Inc(1)
	case UnexpectedStatus:
		m.statusFailures.Inc(1)
	case MalformedXML:
		m.parseFailures.Inc(1)
	}
}

func (m *runMetrics) summary() map[string]interface{} {
	return map[string]interface{}{
		metricRequests:          m.requests.Count(),
		metricTransportFailures: m.transportFailures.Count(),
		metricStatusFailures:    m.statusFailures.Count(),
		metricParseFailures:     m.parseFailures.Count(),
		metricExtracted:         m.extracted.Count(),
		metricUpserted:          m.upserted.Count(),
		"vsac.fetch.mean_ms":    m.fetch.Mean() / 1e6,
	}
}
