package metrics

import "time"

// ResultLabel enumerates generator and run result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// WriteLabel distinguishes written artifacts from those skipped as unchanged.
type WriteLabel string

const (
	WriteWritten   WriteLabel = "written"
	WriteUnchanged WriteLabel = "unchanged"
)

// PoolEvent enumerates isolation pool outcomes.
type PoolEvent string

const (
	PoolHit         PoolEvent = "hit"
	PoolMiss        PoolEvent = "miss"
	PoolInvalidated PoolEvent = "invalidated"
	PoolEvicted     PoolEvent = "evicted"
)

// Recorder defines observability hooks for the build server and the engine.
// Implementations may forward to Prometheus; NoopRecorder is the default.
type Recorder interface {
	IncConnectionOutcome(reason string)
	ObserveConnectionDuration(d time.Duration)
	SetActiveConnections(n int)
	ObserveRunDuration(d time.Duration, result ResultLabel)
	ObserveGroupDuration(group int, d time.Duration)
	IncGeneratorResult(generator string, result ResultLabel)
	IncArtifact(result WriteLabel)
	IncPoolEvent(event PoolEvent)
	IncProjectCache(hit bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncConnectionOutcome(string) {}
func (NoopRecorder) ObserveConnectionDuration(time.Duration) {}
func (NoopRecorder) SetActiveConnections(int) {}
func (NoopRecorder) ObserveRunDuration(time.Duration, ResultLabel) {}
func (NoopRecorder) ObserveGroupDuration(int, time.Duration) {}
func (NoopRecorder) IncGeneratorResult(string, ResultLabel) {}
func (NoopRecorder) IncArtifact(WriteLabel) {}
func (NoopRecorder) IncPoolEvent(PoolEvent) {}
func (NoopRecorder) IncProjectCache(bool) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
