package model

import "strings"

// Fields maps field names to values. Keys are unique by construction.
type Fields map[string]string

// Event names shared by every aggregate type.
const (
	EventNameNew   = "new"
	UpdatePrefix   = "update_"
	DeletePrefix   = "delete_"
	DeletedField   = "deleted"
)

// Event is one immutable fact in an aggregate's history.
// The composite primary key (aggregate_id, aggregate_version) makes a
// duplicate version impossible to persist.
type Event struct {
	AggregateID      string `gorm:"primaryKey;size:36;column:aggregate_id" json:"aggregate_id"`
	AggregateVersion uint32 `gorm:"primaryKey;autoIncrement:false;column:aggregate_version" json:"aggregate_version"`
	EventName        string `gorm:"size:128;not null;index" json:"event_name"`
	Timestamp        string `gorm:"size:30;not null" json:"timestamp"`
	Metadata         Fields `gorm:"serializer:json;type:text;not null" json:"metadata"`
	Deltas           Fields `gorm:"serializer:json;type:text;not null" json:"deltas"`
	AggregateType    string `gorm:"size:64;not null;index" json:"aggregate_type"`
}

func (Event) TableName() string { return "event" }

// IsTombstone reports whether the event follows the default delete-marker
// convention ("delete_<subject>").
func (e Event) IsTombstone() bool { return IsDeleteName(e.EventName) }

// IsDeleteName reports whether name is a delete event name.
func IsDeleteName(name string) bool { return strings.HasPrefix(name, DeletePrefix) }

// Clone returns a deep copy so callers can hand out events without sharing maps.
func (e Event) Clone() Event {
	e.Metadata = e.Metadata.Clone()
	e.Deltas = e.Deltas.Clone()
	return e
}

// Clone copies f; a nil map clones to an empty one.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
