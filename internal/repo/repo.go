package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/account-events/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the SQL event store. Every appended event also gets an
// outbox row in the same transaction.
type Repository struct {
	db     *gorm.DB
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. The gorm session should be opened with
// TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewRepository(db *gorm.DB, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Migrate creates the event and outbox tables.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.Event{}, &model.OutboxEvent{})
}

// Append inserts evt after checking it is the next version of its aggregate.
// Two writers racing past the check collide on the primary key; the loser
// gets ErrConflict.
func (r *Repository) Append(ctx context.Context, evt model.Event) (Ack, error) {
	if err := validate(evt); err != nil {
		return Ack{}, err
	}
	row := evt.Clone()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head model.Event
		res := tx.Select("aggregate_type", "aggregate_version").
			Where("aggregate_id = ?", row.AggregateID).
			Order("aggregate_version desc").
			Limit(1).
			Find(&head)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			head = model.Event{}
		}
		if err := checkNext(row, head.AggregateType, head.AggregateVersion); err != nil {
			return err
		}

		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: aggregate %s version %d already stored",
					ErrConflict, row.AggregateID, row.AggregateVersion)
			}
			return err
		}
		return r.createOutboxEvent(tx, row)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Ack{}, err
		}
		return Ack{}, fmt.Errorf("%w: append: %w", ErrStoreUnavailable, err)
	}

	r.log.Debugw("event appended",
		"aggregate_id", row.AggregateID,
		"aggregate_type", row.AggregateType,
		"aggregate_version", row.AggregateVersion,
		"event_name", row.EventName)
	return Ack{AggregateID: row.AggregateID, AggregateVersion: row.AggregateVersion}, nil
}

// Query selects matching events. Rows come back in storage order, which
// callers must not interpret.
func (r *Repository) Query(ctx context.Context, p Predicate) ([]model.Event, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{})
	if p.AggregateID != "" {
		q = q.Where("aggregate_id = ?", p.AggregateID)
	}
	if p.AggregateType != "" {
		q = q.Where("aggregate_type = ?", p.AggregateType)
	}
	if p.NameContains != "" {
		q = q.Where(r.containsClause("event_name"), p.NameContains)
	}

	evts := make([]model.Event, 0)
	if err := q.Find(&evts).Error; err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: query: %w", ErrStoreUnavailable, err)
	}
	return evts, nil
}

// containsClause is a case-sensitive substring match; LIKE folds case on SQLite.
func (r *Repository) containsClause(column string) string {
	if r.db.Dialector.Name() == "postgres" {
		return "strpos(" + column + ", ?) > 0"
	}
	return "instr(" + column + ", ?) > 0"
}

func (r *Repository) createOutboxEvent(tx *gorm.DB, evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return tx.Create(&model.OutboxEvent{
		AggregateType:    evt.AggregateType,
		AggregateID:      evt.AggregateID,
		AggregateVersion: evt.AggregateVersion,
		EventName:        evt.EventName,
		Payload:          string(payload),
	}).Error
}

// PollOutbox returns up to limit unpublished rows in insertion order, which
// keeps each aggregate's versions in sequence.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	pending := make([]model.OutboxEvent, 0, limit)
	err := r.db.WithContext(ctx).
		Where(map[string]interface{}{"processed": false}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("%w: poll outbox: %w", ErrStoreUnavailable, err)
	}
	return pending, nil
}

// MarkOutboxProcessed flags the given rows as published in one statement and
// reports how many were still pending.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, ids ...uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Where("processed = ?", false).
		Updates(model.OutboxEvent{Processed: true, ProcessedAt: &now})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: mark outbox: %w", ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// PublishEvent sends to Kafka, keyed by aggregate id so one aggregate's
// events land on one partition in version order.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "aggregate_type", Value: []byte(evt.AggregateType)},
			{Key: "event_name", Value: []byte(evt.EventName)},
			{Key: "aggregate_version", Value: []byte(fmt.Sprintf("%d", evt.AggregateVersion))},
		},
	}
	return r.writer.WriteMessages(ctx, msg)
}

var _ EventStore = (*Repository)(nil)
