// Package projection folds event histories into read models.
package projection

import (
	"sort"

	"github.com/richardliu001/account-events/internal/model"
)

// AccountHolder is the merged state of an AccountHolder aggregate.
type AccountHolder struct {
	ID                   string `json:"id"`
	Version              uint32 `json:"version"`
	FullName             string `json:"full_name"`
	SocialSecurityNumber string `json:"social_security_number"`
	DateOfBirth          string `json:"date_of_birth"`
	PhoneNumber          string `json:"phone_number"`
	HomeAddress          string `json:"home_address"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
	Deleted              bool   `json:"deleted"`
}

// Fold replays evts in version order, letting later deltas overwrite earlier
// ones. The input may be in any order and is not modified. isTombstone
// decides which events mark the aggregate deleted; nil means the default
// "delete_" prefix rule.
func Fold(evts []model.Event, isTombstone func(model.Event) bool) (AccountHolder, bool) {
	if len(evts) == 0 {
		return AccountHolder{}, false
	}
	if isTombstone == nil {
		isTombstone = model.Event.IsTombstone
	}
	ordered := make([]model.Event, len(evts))
	copy(ordered, evts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AggregateVersion < ordered[j].AggregateVersion })

	state := map[string]string{}
	var ah AccountHolder
	for _, evt := range ordered {
		if isTombstone(evt) {
			ah.Deleted = true
		} else {
			for k, v := range evt.Deltas {
				state[k] = v
			}
		}
		if evt.AggregateVersion == 1 {
			ah.CreatedAt = evt.Timestamp
		}
		ah.ID = evt.AggregateID
		ah.Version = evt.AggregateVersion
		ah.UpdatedAt = evt.Timestamp
	}

	ah.FullName = state["full_name"]
	ah.SocialSecurityNumber = state["social_security_number"]
	ah.DateOfBirth = state["date_of_birth"]
	ah.PhoneNumber = state["phone_number"]
	ah.HomeAddress = state["home_address"]
	return ah, true
}
