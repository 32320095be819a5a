package models

import "time"

// StateType identifies where a contact currently sits in the funnel.
type StateType string

const (
	// StateNone means the contact is not inside any funnel step.
	StateNone StateType = "none"
	// StateMemberOptionSelection means the contact was sent a plan's numbered
	// options and a reply of 1..N is expected. ContactState.PlanID carries the plan.
	StateMemberOptionSelection StateType = "member_option_selection"
	// StatePaymentMethodSelection means the contact was sent a payment method
	// list and a method choice is expected. ContactState.ResponseID carries the
	// option response the methods belong to.
	StatePaymentMethodSelection StateType = "payment_method_selection"
	// StateFoundationModalitySelection means the campaign presentation was sent
	// and a modality choice is expected.
	StateFoundationModalitySelection StateType = "foundation_modality_selection"
	// StateFoundationPaymentSelection means the campaign payment prompt was sent
	// and a payment method choice is expected.
	StateFoundationPaymentSelection StateType = "foundation_payment_selection"
)

// IsValidStateType checks if the given state type is supported.
func IsValidStateType(st StateType) bool {
	switch st {
	case StateNone, StateMemberOptionSelection, StatePaymentMethodSelection,
		StateFoundationModalitySelection, StateFoundationPaymentSelection:
		return true
	default:
		return false
	}
}

// ContactState is the persisted funnel position of one contact. The referenced
// catalog ids are typed fields rather than a parsed composite tag; only the
// field matching the state is meaningful (PlanID for member option selection,
// ResponseID for payment method selection).
type ContactState struct {
	Contact    string    `json:"contact"`
	State      StateType `json:"state"`
	PlanID     int64     `json:"plan_id,omitempty"`
	ResponseID int64     `json:"response_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleSince reports how long the contact has been in the current state.
func (cs *ContactState) IdleSince(now time.Time) time.Duration {
	return now.Sub(cs.UpdatedAt)
}
