package projection

import (
	"testing"

	"github.com/richardliu001/account-events/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	created := model.NewEvent(nil, model.Fields{
		"full_name":              "Jane Doe",
		"social_security_number": "SSN1",
		"date_of_birth":          "1990-01-01",
		"phone_number":           "555-1234",
		"home_address":           "1 Main St",
	}, "AccountHolder")
	renamed := model.DeriveEvent(created, model.Fields{"full_name": "Jane Smith"}, nil, "update_full_name")
	moved := model.DeriveEvent(renamed, model.Fields{"home_address": "2 Side St"}, nil, "update_home_address")

	// out of order on purpose
	ah, ok := Fold([]model.Event{moved, created, renamed}, nil)
	require.True(t, ok)
	assert.Equal(t, created.AggregateID, ah.ID)
	assert.EqualValues(t, 3, ah.Version)
	assert.Equal(t, "Jane Smith", ah.FullName)
	assert.Equal(t, "SSN1", ah.SocialSecurityNumber)
	assert.Equal(t, "1990-01-01", ah.DateOfBirth)
	assert.Equal(t, "555-1234", ah.PhoneNumber)
	assert.Equal(t, "2 Side St", ah.HomeAddress)
	assert.Equal(t, created.Timestamp, ah.CreatedAt)
	assert.Equal(t, moved.Timestamp, ah.UpdatedAt)
	assert.False(t, ah.Deleted)
}

func TestFold_Tombstone(t *testing.T) {
	created := model.NewEvent(nil, model.Fields{"full_name": "Jane Doe"}, "AccountHolder")
	deleted := model.DeriveEvent(created, model.Fields{model.DeletedField: "true"}, nil, "delete_account_holder")

	ah, ok := Fold([]model.Event{deleted, created}, nil)
	require.True(t, ok)
	assert.True(t, ah.Deleted)
	assert.Equal(t, "Jane Doe", ah.FullName)
	assert.EqualValues(t, 2, ah.Version)
}

func TestFold_Empty(t *testing.T) {
	_, ok := Fold(nil, nil)
	assert.False(t, ok)
}

func TestFold_CustomTombstoneRule(t *testing.T) {
	created := model.NewEvent(nil, model.Fields{"full_name": "Jane Doe"}, "AccountHolder")
	closed := model.DeriveEvent(created, nil, nil, "account_closed")
	closedRule := func(evt model.Event) bool { return evt.EventName == "account_closed" }

	ah, ok := Fold([]model.Event{created, closed}, nil)
	require.True(t, ok)
	assert.False(t, ah.Deleted)

	ah, ok = Fold([]model.Event{created, closed}, closedRule)
	require.True(t, ok)
	assert.True(t, ah.Deleted)
	assert.Equal(t, "Jane Doe", ah.FullName)
}
