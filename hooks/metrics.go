package hooks

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// MetricsHooks records Prometheus metrics for the assembly lifecycle.
type MetricsHooks struct {
	assemblies       *prometheus.CounterVec
	assembleDuration prometheus.Histogram
	contextRatio     prometheus.Histogram
	estimatedTokens  prometheus.Histogram
	prunedResults    prometheus.Counter
	truncated        prometheus.Counter
	summarized       prometheus.Counter
	cachedSummaries  prometheus.Counter
	refreshes        prometheus.Counter
	fallbacks        *prometheus.CounterVec
	handoffRequired  prometheus.Counter
	handoffConsumed  prometheus.Counter
	persistFailures  *prometheus.CounterVec
}

// NewMetricsHooks creates the collectors and registers them with reg.
func NewMetricsHooks(reg prometheus.Registerer) (*MetricsHooks, error) {
	h := &MetricsHooks{
		assemblies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentctx_assemblies_total",
				Help: "Total number of context assemblies by compression level",
			},
			[]string{"level"},
		),
		assembleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentctx_assemble_duration_seconds",
				Help:    "Context assembly duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		contextRatio: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentctx_context_ratio",
				Help:    "Estimated tokens relative to the usable budget after assembly",
				Buckets: []float64{0.25, 0.5, 0.7, 0.85, 0.95, 1, 1.5},
			},
		),
		estimatedTokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentctx_estimated_tokens",
				Help:    "Estimated tokens of the assembled context",
				Buckets: prometheus.ExponentialBuckets(1000, 2, 9),
			},
		),
		prunedResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_pruned_tool_results_total",
			Help: "Total number of tool results cleared by pruning",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_truncated_messages_total",
			Help: "Total number of message bodies truncated",
		}),
		summarized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_summarized_messages_total",
			Help: "Total number of messages replaced by a summary",
		}),
		cachedSummaries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_cached_summaries_total",
			Help: "Total number of level 3 assemblies that reused a stored summary",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_summary_refreshes_total",
			Help: "Total number of background summary refreshes stored",
		}),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentctx_summary_fallbacks_total",
				Help: "Total number of model summaries that fell back to rules",
			},
			[]string{"mode"},
		),
		handoffRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_handoffs_required_total",
			Help: "Total number of threads that reached level 4",
		}),
		handoffConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentctx_handoffs_consumed_total",
			Help: "Total number of handoff documents consumed",
		}),
		persistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentctx_persist_failures_total",
				Help: "Total number of failed store writes by operation",
			},
			[]string{"op"},
		),
	}

	for _, c := range []prometheus.Collector{
		h.assemblies, h.assembleDuration, h.contextRatio, h.estimatedTokens,
		h.prunedResults, h.truncated, h.summarized, h.cachedSummaries,
		h.refreshes, h.fallbacks, h.handoffRequired, h.handoffConsumed,
		h.persistFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Register adds every metrics hook to r.
func (h *MetricsHooks) Register(r *Registry) {
	r.OnAfterAssemble(h.AfterAssemble)
	r.OnSummaryRefreshed(h.SummaryRefreshed)
	r.OnSummaryFallback(h.SummaryFallback)
	r.OnHandoffRequired(h.HandoffRequired)
	r.OnHandoffConsumed(h.HandoffConsumed)
	r.OnPersistFailure(h.PersistFailure)
}

// AfterAssemble records assembly metrics
func (h *MetricsHooks) AfterAssemble(ctx context.Context, event *AssembleEvent) error {
	h.assemblies.WithLabelValues(strconv.Itoa(int(event.Level))).Inc()
	h.assembleDuration.Observe(event.Duration.Seconds())
	h.contextRatio.Observe(event.Ratio)
	h.estimatedTokens.Observe(float64(event.EstimatedTokens))
	h.prunedResults.Add(float64(event.PrunedResults))
	h.truncated.Add(float64(event.Truncated))
	h.summarized.Add(float64(event.Dropped))
	if event.SummaryFromCache {
		h.cachedSummaries.Inc()
	}
	return nil
}

// SummaryRefreshed counts stored background refreshes
func (h *MetricsHooks) SummaryRefreshed(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	h.refreshes.Inc()
	return nil
}

// SummaryFallback counts fallbacks by mode
func (h *MetricsHooks) SummaryFallback(ctx context.Context, threadID string, mode compaction.SummaryMode, err error) error {
	h.fallbacks.WithLabelValues(string(mode)).Inc()
	return nil
}

// HandoffRequired counts threads reaching level 4
func (h *MetricsHooks) HandoffRequired(ctx context.Context, threadID string, summary *types.StructuredSummary) error {
	h.handoffRequired.Inc()
	return nil
}

// HandoffConsumed counts consumed handoffs
func (h *MetricsHooks) HandoffConsumed(ctx context.Context, doc *types.HandoffDocument, newThreadID string) error {
	h.handoffConsumed.Inc()
	return nil
}

// PersistFailure counts failed writes by operation
func (h *MetricsHooks) PersistFailure(ctx context.Context, threadID, op string, err error) error {
	h.persistFailures.WithLabelValues(op).Inc()
	return nil
}
