package service

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/account-events/internal/config"
	"github.com/richardliu001/account-events/internal/metrics"
	"github.com/richardliu001/account-events/internal/model"
	"github.com/richardliu001/account-events/internal/projection"
	"github.com/richardliu001/account-events/internal/repo"
	"github.com/richardliu001/account-events/internal/resolver"
	"go.uber.org/zap"
)

// AccountHolderService glues the handlers to the event store. Each command
// is resolve, derive, then append; a lost version race is retried from the
// resolve step up to retry.MaxAttempts times.
type AccountHolderService struct {
	handler  *AccountHolderHandler
	resolver *resolver.Resolver
	store    repo.EventStore
	retry    config.RetryConfig
	metrics  metrics.Metrics
	log      *zap.SugaredLogger
}

// NewAccountHolderService returns AccountHolderService.
func NewAccountHolderService(
	store repo.EventStore,
	res *resolver.Resolver,
	retry config.RetryConfig,
	m metrics.Metrics,
	logger *zap.SugaredLogger,
) *AccountHolderService {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &AccountHolderService{
		handler:  NewAccountHolderHandler(res, nil),
		resolver: res,
		store:    store,
		retry:    retry,
		metrics:  m,
		log:      logger,
	}
}

// Create appends the first event of a new account holder.
func (s *AccountHolderService) Create(ctx context.Context, a AccountHolder, metadata model.Fields) (model.Event, error) {
	evt := s.handler.Create(a, metadata)
	if err := s.append(ctx, evt); err != nil {
		return model.Event{}, err
	}
	return evt, nil
}

// Update appends an update event carrying changes.
func (s *AccountHolderService) Update(ctx context.Context, id string, changes model.Fields, eventName string, metadata model.Fields) (model.Event, error) {
	return s.commit(ctx, id, func() (model.Event, error) {
		return s.handler.Update(ctx, id, changes, eventName, metadata)
	})
}

// Delete appends the tombstone of an account holder.
func (s *AccountHolderService) Delete(ctx context.Context, id string, metadata model.Fields) (model.Event, error) {
	return s.commit(ctx, id, func() (model.Event, error) {
		return s.handler.Delete(ctx, id, metadata)
	})
}

// Get folds the history into the current account holder. A deleted account
// holder, by the resolver's tombstone rule, is returned together with
// resolver.ErrAlreadyDeleted.
func (s *AccountHolderService) Get(ctx context.Context, id string) (projection.AccountHolder, error) {
	evts, err := s.History(ctx, id)
	if err != nil {
		return projection.AccountHolder{}, err
	}
	ah, _ := projection.Fold(evts, s.resolver.IsTombstone)
	if ah.Deleted {
		return ah, resolver.ErrAlreadyDeleted
	}
	return ah, nil
}

// History returns all events of the account holder in version order.
func (s *AccountHolderService) History(ctx context.Context, id string) ([]model.Event, error) {
	evts, err := s.resolver.History(ctx, id, AggregateTypeAccountHolder)
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return nil, resolver.ErrNotFound
	}
	return evts, nil
}

// Search lists account holder events whose name contains nameContains.
func (s *AccountHolderService) Search(ctx context.Context, nameContains string) ([]model.Event, error) {
	return s.resolver.Search(ctx, AggregateTypeAccountHolder, nameContains)
}

func (s *AccountHolderService) commit(ctx context.Context, id string, build func() (model.Event, error)) (model.Event, error) {
	for attempt := 1; ; attempt++ {
		evt, err := build()
		if err != nil {
			return model.Event{}, err
		}
		err = s.append(ctx, evt)
		if err == nil {
			return evt, nil
		}
		if !errors.Is(err, repo.ErrConflict) || attempt >= s.retry.MaxAttempts {
			return model.Event{}, err
		}

		s.log.Infow("version conflict, retrying",
			"aggregate_id", id, "version", evt.AggregateVersion, "attempt", attempt)
		s.metrics.AppendRetried(AggregateTypeAccountHolder)
		s.resolver.Forget(ctx, id, AggregateTypeAccountHolder)
		if err := sleep(ctx, s.retry.Backoff*time.Duration(attempt)); err != nil {
			return model.Event{}, err
		}
	}
}

func (s *AccountHolderService) append(ctx context.Context, evt model.Event) error {
	start := time.Now()
	_, err := s.store.Append(ctx, evt)
	s.metrics.EventAppended(evt.AggregateType, appendResult(err), time.Since(start))
	if err != nil {
		return err
	}
	s.resolver.Remember(ctx, evt)
	s.log.Infow("event appended",
		"aggregate_id", evt.AggregateID,
		"aggregate_version", evt.AggregateVersion,
		"event_name", evt.EventName)
	return nil
}

func appendResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, repo.ErrConflict):
		return metrics.ResultConflict
	case errors.Is(err, repo.ErrInvalidEvent):
		return metrics.ResultInvalid
	}
	return metrics.ResultUnavailable
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
