// Package metrics instruments the Block Scheduler with Prometheus metrics.
// It is purely additive observability and has no bearing on rendering
// semantics, wired the way github.com/prometheus/client_golang instruments
// any other background worker pool.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/df07/render-scheduler/pkg/scheduler"
)

// Recorder implements scheduler.MetricsSink by feeding a fixed set of
// Prometheus collectors from the Event stream.
type Recorder struct {
	queued       prometheus.Counter
	unqueued     prometheus.Counter
	staleResults prometheus.Counter
	doneBlocks   prometheus.Counter
	frameSeconds prometheus.Histogram
	blocks       *prometheus.GaugeVec

	mu       sync.Mutex
	inFlight int
	done     int
	total    int
}

// NewRecorder creates a Recorder and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderd_scheduler_queued_total",
			Help: "Blocks dispatched to a worker slot.",
		}),
		unqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderd_scheduler_unqueued_total",
			Help: "Blocks reclaimed back onto the pending queue.",
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderd_scheduler_stale_results_total",
			Help: "Render results discarded because their slot or frame buffer was superseded.",
		}),
		doneBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderd_scheduler_done_blocks_total",
			Help: "Blocks composited into a frame buffer.",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "renderd_scheduler_frame_duration_seconds",
			Help:    "Wall-clock duration of a completed frame, start() to done event.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		blocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "renderd_scheduler_blocks_total",
			Help: "Blocks in the current frame by state.",
		}, []string{"state"}),
	}

	reg.MustRegister(r.queued, r.unqueued, r.staleResults, r.doneBlocks, r.frameSeconds, r.blocks)
	return r
}

// Observe implements scheduler.MetricsSink.
func (r *Recorder) Observe(ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.EventQueued:
		r.queued.Inc()
		r.adjustInFlight(1)
	case scheduler.EventUnqueued:
		r.unqueued.Inc()
		r.adjustInFlight(-1)
	case scheduler.EventProgress:
		r.doneBlocks.Inc()
		r.adjustInFlight(-1)
		r.setDoneTotal(ev.Done, ev.Total)
	case scheduler.EventDone:
		r.frameSeconds.Observe(float64(ev.DurationMS) / 1000)
	default:
		// Negative/unknown kinds are the internal stale-result marker
		// (scheduler.staleResultEventKind is unexported; any kind outside
		// the four public ones is treated as "stale").
		r.staleResults.Inc()
	}
}

// adjustInFlight updates the in-flight block count and republishes all
// three block-state gauges (pending is derived, never tracked directly).
func (r *Recorder) adjustInFlight(delta int) {
	r.mu.Lock()
	r.inFlight += delta
	r.publishBlockGauges()
	r.mu.Unlock()
}

func (r *Recorder) setDoneTotal(done, total int) {
	r.mu.Lock()
	r.done, r.total = done, total
	r.publishBlockGauges()
	r.mu.Unlock()
}

// publishBlockGauges must be called with r.mu held.
func (r *Recorder) publishBlockGauges() {
	pending := r.total - r.done - r.inFlight
	if pending < 0 {
		pending = 0
	}
	r.blocks.WithLabelValues("pending").Set(float64(pending))
	r.blocks.WithLabelValues("in_flight").Set(float64(r.inFlight))
	r.blocks.WithLabelValues("done").Set(float64(r.done))
}
