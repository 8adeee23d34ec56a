package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/richardliu001/account-events/internal/model"
	"github.com/richardliu001/account-events/internal/resolver"
)

// AggregateTypeAccountHolder is the aggregate_type of every account holder event.
const AggregateTypeAccountHolder = "AccountHolder"

// Event names written by the account holder handlers.
const (
	EventUpdateAccountHolder = model.UpdatePrefix + "account_holder"
	EventDeleteAccountHolder = model.DeletePrefix + "account_holder"
)

// Account holder delta keys.
const (
	FieldFullName             = "full_name"
	FieldSocialSecurityNumber = "social_security_number"
	FieldDateOfBirth          = "date_of_birth"
	FieldPhoneNumber          = "phone_number"
	FieldHomeAddress          = "home_address"
)

var accountHolderFields = map[string]struct{}{
	FieldFullName:             {},
	FieldSocialSecurityNumber: {},
	FieldDateOfBirth:          {},
	FieldPhoneNumber:          {},
	FieldHomeAddress:          {},
}

var (
	// ErrNoChanges means an update carried no fields.
	ErrNoChanges = errors.New("no changes supplied")
	// ErrInvalidField means an update named a field the aggregate does not have.
	ErrInvalidField = errors.New("unknown field")
	// ErrInvalidEventName means an update used a name outside the update_ family.
	ErrInvalidEventName = errors.New("invalid event name")
)

// AccountHolder carries the fields of a new account holder.
type AccountHolder struct {
	FullName             string `json:"full_name" binding:"required"`
	SocialSecurityNumber string `json:"social_security_number" binding:"required"`
	DateOfBirth          string `json:"date_of_birth" binding:"required"`
	PhoneNumber          string `json:"phone_number"`
	HomeAddress          string `json:"home_address"`
}

// Deltas returns the initial delta set.
func (a AccountHolder) Deltas() model.Fields {
	return model.Fields{
		FieldFullName:             a.FullName,
		FieldSocialSecurityNumber: a.SocialSecurityNumber,
		FieldDateOfBirth:          a.DateOfBirth,
		FieldPhoneNumber:          a.PhoneNumber,
		FieldHomeAddress:          a.HomeAddress,
	}
}

// AccountHolderHandler turns account holder commands into events. It reads
// through the resolver but never appends; see AccountHolderService for that.
type AccountHolderHandler struct {
	resolver *resolver.Resolver
	factory  *model.Factory
}

// NewAccountHolderHandler returns a handler. A nil factory uses the default one.
func NewAccountHolderHandler(r *resolver.Resolver, f *model.Factory) *AccountHolderHandler {
	if f == nil {
		f = model.NewFactory()
	}
	return &AccountHolderHandler{resolver: r, factory: f}
}

// Create builds the first event of a new account holder.
func (h *AccountHolderHandler) Create(a AccountHolder, metadata model.Fields) model.Event {
	return h.factory.New(metadata, a.Deltas(), AggregateTypeAccountHolder)
}

// Update derives an event carrying only changes from the current event.
// An empty eventName defaults to EventUpdateAccountHolder.
func (h *AccountHolderHandler) Update(ctx context.Context, id string, changes model.Fields, eventName string, metadata model.Fields) (model.Event, error) {
	if eventName == "" {
		eventName = EventUpdateAccountHolder
	}
	if err := validateChanges(changes, eventName); err != nil {
		return model.Event{}, err
	}
	prior, err := h.current(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	return h.factory.Derive(prior, changes, metadata, eventName), nil
}

// Delete derives the tombstone event of the account holder.
func (h *AccountHolderHandler) Delete(ctx context.Context, id string, metadata model.Fields) (model.Event, error) {
	prior, err := h.current(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	return h.factory.Derive(prior, model.Fields{model.DeletedField: "true"}, metadata, EventDeleteAccountHolder), nil
}

func (h *AccountHolderHandler) current(ctx context.Context, id string) (model.Event, error) {
	res, err := h.resolver.Resolve(ctx, id, AggregateTypeAccountHolder)
	if err != nil {
		return model.Event{}, err
	}
	if err := res.Err(); err != nil {
		return model.Event{}, fmt.Errorf("account holder %s: %w", id, err)
	}
	return *res.Head, nil
}

func validateChanges(changes model.Fields, eventName string) error {
	if !strings.HasPrefix(eventName, model.UpdatePrefix) || len(eventName) == len(model.UpdatePrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, eventName)
	}
	if len(changes) == 0 {
		return ErrNoChanges
	}
	var unknown []string
	for k := range changes {
		if _, ok := accountHolderFields[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrInvalidField, strings.Join(unknown, ", "))
	}
	return nil
}
