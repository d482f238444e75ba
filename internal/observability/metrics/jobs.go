package metrics

import (
	"time"

	obserrors "github.com/pressroom/pressroom/internal/observability/errors"
	"github.com/pressroom/pressroom/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobKind    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.JobKind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitWebhookDelivery emits metrics for a webhook delivery attempt.
func EmitWebhookDelivery(sink statsd.Sink, succeeded bool, attempt int, duration time.Duration) {
	if sink == nil {
		return
	}

	result := ResultError
	if succeeded {
		result = ResultSuccess
	}
	tags := map[string]string{"result": result}

	sink.Count("webhook.delivery", 1, tags)
	if duration > 0 {
		sink.Timing("webhook.duration", duration, CloneTags(tags))
	}
	if succeeded && attempt > 1 {
		sink.Count("webhook.recovered", 1, nil)
	}
}

// EmitQueueDepth reports the current queue depth gauge.
func EmitQueueDepth(sink statsd.Sink, depth int) {
	if sink == nil {
		return
	}
	sink.Gauge("queue.depth", float64(depth), nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
