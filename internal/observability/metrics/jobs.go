package metrics

import (
	"time"

	obserrors "github.com/tracorch/jobcore/internal/observability/errors"
	"github.com/tracorch/jobcore/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// OperationMetric captures details about a single dispatched operation (spec.md §4.6) for
// metric emission: one cacheStatus transition, attempted by one worker.
type OperationMetric struct {
	JobType     string
	FromStatus  string
	ToStatus    string
	Result      string
	Duration    time.Duration
	Err         error
}

// EmitOperation emits standardised operation-dispatch metrics.
func EmitOperation(sink statsd.Sink, in OperationMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":    in.JobType,
		"from_status": in.FromStatus,
		"to_status":   in.ToStatus,
		"result":      in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("jobcore.operation", 1, tags)

	if in.Duration > 0 {
		sink.Timing("jobcore.operation.duration", in.Duration, CloneTags(tags))
	}
}

// EmitPollTick emits a summary metric for one cache or executor poll cycle.
func EmitPollTick(sink statsd.Sink, pollerName string, dispatched int, errCount int) {
	if sink == nil {
		return
	}
	tags := map[string]string{"poller": pollerName}
	sink.Gauge("jobcore.poll.dispatched", float64(dispatched), tags)
	if errCount > 0 {
		sink.Count("jobcore.poll.errors", int64(errCount), tags)
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
