package model

import (
	"time"

	"github.com/google/uuid"
)

// TimestampLayout renders UTC instants at a fixed width of 30 characters.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Factory builds events. It never touches a store.
type Factory struct {
	now   func() time.Time
	newID func() string
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// WithIDGenerator overrides aggregate id allocation.
func WithIDGenerator(gen func() string) FactoryOption {
	return func(f *Factory) { f.newID = gen }
}

// NewFactory returns a Factory using UUIDv4 ids and the wall clock.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFactory = NewFactory()

// NewEvent creates the first event of a new aggregate with the default factory.
func NewEvent(metadata, deltas Fields, aggregateType string) Event {
	return defaultFactory.New(metadata, deltas, aggregateType)
}

// DeriveEvent derives the successor of prior with the default factory.
func DeriveEvent(prior Event, changes, metadata Fields, eventName string) Event {
	return defaultFactory.Derive(prior, changes, metadata, eventName)
}

// New allocates a fresh aggregate id and returns its version 1 "new" event.
func (f *Factory) New(metadata, deltas Fields, aggregateType string) Event {
	return Event{
		AggregateID:      f.newID(),
		AggregateVersion: 1,
		EventName:        EventNameNew,
		Timestamp:        f.timestamp(),
		Metadata:         metadata.Clone(),
		Deltas:           deltas.Clone(),
		AggregateType:    aggregateType,
	}
}

// Derive returns the event that follows prior. Identity and type are copied
// from prior; deltas and metadata are replaced wholesale, never merged.
func (f *Factory) Derive(prior Event, changes, metadata Fields, eventName string) Event {
	return Event{
		AggregateID:      prior.AggregateID,
		AggregateVersion: prior.AggregateVersion + 1,
		EventName:        eventName,
		Timestamp:        f.timestamp(),
		Metadata:         metadata.Clone(),
		Deltas:           changes.Clone(),
		AggregateType:    prior.AggregateType,
	}
}

func (f *Factory) timestamp() string {
	return f.now().UTC().Format(TimestampLayout)
}
