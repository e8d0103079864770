package pipeline

import (
	"time"
)

// Outcomes reported to a Recorder besides error kinds.
const (
	OutcomeOK = "ok"
)

// Recorder receives operational signals from the pipeline.
type Recorder interface {
	// OperationCompleted is called once per operation with OutcomeOK or the
	// error kind.
	OperationCompleted(op, outcome string, elapsed time.Duration)
	// CacheLookup reports a read-through hit or miss.
	CacheLookup(op string, hit bool)
	// EventPublished reports a publish attempt.
	EventPublished(eventType string, err error)
	// InvalidationFailed reports a best effort tag invalidation that failed.
	InvalidationFailed(tag string)
}

type nopRecorder struct{}

func (nopRecorder) OperationCompleted(string, string, time.Duration) {}
func (nopRecorder) CacheLookup(string, bool)                         {}
func (nopRecorder) EventPublished(string, error)                     {}
func (nopRecorder) InvalidationFailed(string)                        {}
