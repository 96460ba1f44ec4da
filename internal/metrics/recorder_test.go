package metrics

import (
	"testing"
	"time"
)

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncConnectionOutcome("completed")
	r.ObserveConnectionDuration(time.Millisecond)
	r.SetActiveConnections(1)
	r.ObserveRunDuration(time.Second, ResultSuccess)
	r.ObserveGroupDuration(0, time.Millisecond)
	r.IncGeneratorResult("GenA", ResultFailed)
	r.IncArtifact(WriteUnchanged)
	r.IncPoolEvent(PoolHit)
	r.IncProjectCache(true)
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Fatal("expected NoopRecorder for nil input")
	}
	pr := &PrometheusRecorder{}
	if OrNoop(pr) != Recorder(pr) {
		t.Fatal("expected recorder to be passed through")
	}
}
