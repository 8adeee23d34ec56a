// Package metrics records store and resolver outcomes. Callers depend on the
// Metrics interface; Nop is used when no registry is configured.
package metrics

import "time"

// Append outcomes.
const (
	ResultOK          = "ok"
	ResultConflict    = "conflict"
	ResultUnavailable = "unavailable"
	ResultInvalid     = "invalid"
)

// Metrics is the instrumentation surface of the service layer.
type Metrics interface {
	// EventAppended counts one append attempt by aggregate type and result.
	EventAppended(aggregateType, result string, took time.Duration)
	// AggregateResolved counts one resolution by aggregate type and status.
	AggregateResolved(aggregateType, status string)
	// AppendRetried counts a retry after a lost version race.
	AppendRetried(aggregateType string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) EventAppended(string, string, time.Duration) {}
func (Nop) AggregateResolved(string, string)            {}
func (Nop) AppendRetried(string)                        {}

var _ Metrics = Nop{}
