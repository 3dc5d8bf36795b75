package procurement

import "fmt"

// Event is a lifecycle trigger applied to a GRN.
type Event string

const (
	EventSubmit  Event = "submit"
	EventVerify  Event = "verify"
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventCommit  Event = "commit"
)

var transitions = map[GRNStatus]map[Event]GRNStatus{
	GRNStatusDraft: {
		EventSubmit: GRNStatusReceived,
	},
	GRNStatusReceived: {
		EventVerify:  GRNStatusVerified,
		EventApprove: GRNStatusApproved,
		EventReject:  GRNStatusRejected,
	},
	GRNStatusVerified: {
		EventCommit: GRNStatusVerified,
	},
	GRNStatusApproved: {
		EventCommit: GRNStatusApproved,
	},
}

// Transition returns the status reached by applying event to from.
// Guards that depend on line data (override, notes, resolution) are
// enforced by the service before calling it.
func Transition(from GRNStatus, event Event) (GRNStatus, error) {
	if next, ok := transitions[from][event]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s grn", ErrInvalidTransition, event, from)
}

// CanTransition reports whether event is accepted from the status.
func CanTransition(from GRNStatus, event Event) bool {
	_, ok := transitions[from][event]
	return ok
}

// VerifyDecision is the reviewer's outcome for a received GRN.
type VerifyDecision string

const (
	DecisionVerify  VerifyDecision = "verify"
	DecisionApprove VerifyDecision = "approve"
	DecisionReject  VerifyDecision = "reject"
)

func (d VerifyDecision) event() (Event, bool) {
	switch d {
	case DecisionVerify:
		return EventVerify, true
	case DecisionApprove:
		return EventApprove, true
	case DecisionReject:
		return EventReject, true
	}
	return "", false
}
