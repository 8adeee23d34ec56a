// Package resolver finds the current event of an aggregate.
//
// The store returns events in no particular order, so the head of a stream is
// always picked by comparing versions. A head whose name marks a delete makes
// the aggregate unresolvable for further mutation; its history stays readable.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/richardliu001/account-events/internal/metrics"
	"github.com/richardliu001/account-events/internal/model"
	"github.com/richardliu001/account-events/internal/repo"
	"go.uber.org/zap"
)

var (
	// ErrUnresolvable means no current event exists for the aggregate.
	ErrUnresolvable = errors.New("aggregate unresolvable")
	// ErrNotFound is an ErrUnresolvable for an aggregate with no events.
	ErrNotFound = fmt.Errorf("%w: not found", ErrUnresolvable)
	// ErrAlreadyDeleted is an ErrUnresolvable for a tombstoned aggregate.
	ErrAlreadyDeleted = fmt.Errorf("%w: already deleted", ErrUnresolvable)
)

// Status classifies a resolution.
type Status string

const (
	StatusLive     Status = "live"
	StatusNotFound Status = "not_found"
	StatusDeleted  Status = "deleted"
)

// Resolution is the outcome of Resolve. Head is the version-maximal event,
// tombstone included; it is nil only for StatusNotFound.
type Resolution struct {
	Status Status
	Head   *model.Event
}

// Err maps the status to ErrNotFound, ErrAlreadyDeleted or nil.
func (r Resolution) Err() error {
	switch r.Status {
	case StatusNotFound:
		return ErrNotFound
	case StatusDeleted:
		return ErrAlreadyDeleted
	}
	return nil
}

// TombstoneFunc reports whether evt marks its aggregate deleted.
type TombstoneFunc func(evt model.Event) bool

// Cache holds the head event per aggregate. repo.LatestCache implements it.
// SetLatest must not replace a cached event of equal or higher version.
type Cache interface {
	GetLatest(ctx context.Context, aggregateType, aggregateID string) (model.Event, error)
	SetLatest(ctx context.Context, evt model.Event) error
	Forget(ctx context.Context, aggregateType, aggregateID string) error
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache enables a write-through head cache. Heads are cached only after
// a successful append (see Remember); a miss falls back to the store and
// leaves the cache alone, since the store result may already be stale.
func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

// WithTombstone sets the delete-marker rule for one aggregate type.
func WithTombstone(aggregateType string, fn TombstoneFunc) Option {
	return func(r *Resolver) { r.tombstones[aggregateType] = fn }
}

// WithLogger sets the logger used for cache failures.
func WithLogger(log *zap.SugaredLogger) Option { return func(r *Resolver) { r.log = log } }

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// Resolver reads aggregates from an injected store.
type Resolver struct {
	store      repo.EventStore
	cache      Cache
	tombstones map[string]TombstoneFunc
	log        *zap.SugaredLogger
	metrics    metrics.Metrics
}

// New returns a Resolver over store.
func New(store repo.EventStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		tombstones: map[string]TombstoneFunc{},
		log:        zap.NewNop().Sugar(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Latest returns the current event of the aggregate, or nil when it was
// never created or has been deleted. Use Resolve to tell those apart.
func (r *Resolver) Latest(ctx context.Context, aggregateID, aggregateType string) (*model.Event, error) {
	res, err := r.Resolve(ctx, aggregateID, aggregateType)
	if err != nil || res.Status != StatusLive {
		return nil, err
	}
	return res.Head, nil
}

// Resolve finds the version-maximal event of the aggregate and classifies it.
func (r *Resolver) Resolve(ctx context.Context, aggregateID, aggregateType string) (Resolution, error) {
	head, ok, err := r.head(ctx, aggregateID, aggregateType)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Status: StatusNotFound}
	if ok {
		res.Head = &head
		res.Status = StatusLive
		if r.IsTombstone(head) {
			res.Status = StatusDeleted
		}
	}
	r.metrics.AggregateResolved(aggregateType, string(res.Status))
	return res, nil
}

// History returns every event of the aggregate ordered by version,
// tombstones included.
func (r *Resolver) History(ctx context.Context, aggregateID, aggregateType string) ([]model.Event, error) {
	evts, err := r.store.Query(ctx, repo.Predicate{AggregateID: aggregateID, AggregateType: aggregateType})
	if err != nil {
		return nil, err
	}
	sort.Slice(evts, func(i, j int) bool { return evts[i].AggregateVersion < evts[j].AggregateVersion })
	return evts, nil
}

// Search is the diagnostic lookup by event-name substring.
func (r *Resolver) Search(ctx context.Context, aggregateType, nameContains string) ([]model.Event, error) {
	return r.store.Query(ctx, repo.Predicate{AggregateType: aggregateType, NameContains: nameContains})
}

// Remember records evt as the new head after a successful append. When the
// write fails the cached head is dropped, as it is now older than the store.
func (r *Resolver) Remember(ctx context.Context, evt model.Event) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetLatest(ctx, evt); err != nil {
		r.log.Warnw("cache head", "aggregate_id", evt.AggregateID, "error", err)
		r.Forget(ctx, evt.AggregateID, evt.AggregateType)
	}
}

// Forget drops any cached head, forcing the next resolution to hit the store.
func (r *Resolver) Forget(ctx context.Context, aggregateID, aggregateType string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Forget(ctx, aggregateType, aggregateID); err != nil {
		r.log.Warnw("forget cached head", "aggregate_id", aggregateID, "error", err)
	}
}

func (r *Resolver) head(ctx context.Context, aggregateID, aggregateType string) (model.Event, bool, error) {
	if r.cache != nil {
		evt, err := r.cache.GetLatest(ctx, aggregateType, aggregateID)
		switch {
		case err == nil && evt.AggregateID == aggregateID && evt.AggregateType == aggregateType:
			return evt, true, nil
		case err != nil && !errors.Is(err, repo.ErrCacheMiss):
			r.log.Warnw("read cached head", "aggregate_id", aggregateID, "error", err)
		}
	}

	evts, err := r.store.Query(ctx, repo.Predicate{AggregateID: aggregateID, AggregateType: aggregateType})
	if err != nil {
		return model.Event{}, false, err
	}
	head, ok := Head(evts)
	return head, ok, nil
}

// IsTombstone applies the delete-marker rule registered for the event's
// aggregate type, or the default "delete_" prefix rule.
func (r *Resolver) IsTombstone(evt model.Event) bool {
	if fn, ok := r.tombstones[evt.AggregateType]; ok {
		return fn(evt)
	}
	return evt.IsTombstone()
}

// Head returns the event with the highest version. Input order is irrelevant.
func Head(evts []model.Event) (model.Event, bool) {
	if len(evts) == 0 {
		return model.Event{}, false
	}
	head := evts[0]
	for _, evt := range evts[1:] {
		if evt.AggregateVersion > head.AggregateVersion {
			head = evt
		}
	}
	return head, true
}
