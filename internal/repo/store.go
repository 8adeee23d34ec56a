package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/richardliu001/account-events/internal/model"
)

var (
	// ErrConflict is returned when an append loses the optimistic version check.
	ErrConflict = errors.New("version conflict")
	// ErrStoreUnavailable wraps storage I/O failures.
	ErrStoreUnavailable = errors.New("event store unavailable")
	// ErrInvalidEvent is returned for events missing identity, type or version.
	ErrInvalidEvent = errors.New("invalid event")
)

// Ack confirms a stored event.
type Ack struct {
	AggregateID      string
	AggregateVersion uint32
}

// Predicate filters events. Empty fields match everything.
type Predicate struct {
	AggregateID   string
	AggregateType string
	// NameContains is a substring filter on event_name, meant for diagnostics.
	NameContains string
}

// Match reports whether evt satisfies p.
func (p Predicate) Match(evt model.Event) bool {
	if p.AggregateID != "" && evt.AggregateID != p.AggregateID {
		return false
	}
	if p.AggregateType != "" && evt.AggregateType != p.AggregateType {
		return false
	}
	if p.NameContains != "" && !strings.Contains(evt.EventName, p.NameContains) {
		return false
	}
	return true
}

// EventStore is append-only event persistence.
//
// Append must accept an event only when its version is exactly one greater
// than the highest stored version for its aggregate id (1 for a new id), and
// the check-and-append must be atomic per aggregate id. Query returns matches
// in no particular order.
type EventStore interface {
	Append(ctx context.Context, evt model.Event) (Ack, error)
	Query(ctx context.Context, p Predicate) ([]model.Event, error)
}

func validate(evt model.Event) error {
	switch {
	case evt.AggregateID == "":
		return fmt.Errorf("%w: empty aggregate id", ErrInvalidEvent)
	case evt.AggregateType == "":
		return fmt.Errorf("%w: empty aggregate type", ErrInvalidEvent)
	case evt.AggregateVersion == 0:
		return fmt.Errorf("%w: version must start at 1", ErrInvalidEvent)
	case evt.EventName == "":
		return fmt.Errorf("%w: empty event name", ErrInvalidEvent)
	}
	return nil
}

// checkNext validates evt against the head of its stream. headVersion is 0
// for an aggregate with no events.
func checkNext(evt model.Event, headType string, headVersion uint32) error {
	if headVersion > 0 && headType != evt.AggregateType {
		return fmt.Errorf("%w: aggregate %s is %s, not %s",
			ErrConflict, evt.AggregateID, headType, evt.AggregateType)
	}
	if evt.AggregateVersion != headVersion+1 {
		return fmt.Errorf("%w: aggregate %s at version %d, got %d",
			ErrConflict, evt.AggregateID, headVersion, evt.AggregateVersion)
	}
	return nil
}
