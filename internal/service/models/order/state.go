package order

import (
	"errors"
	"strings"
)

// State is the single lifecycle enumeration of an order. Capacity occupancy and the legal
// transitions are both derived from it.
type State string

const (
	StatePendingPaymentGateway  State = "pending_payment_gateway"
	StatePendingPaymentTransfer State = "pending_payment_transfer"
	StateTransferProofSubmitted State = "transfer_proof_submitted"
	StateConfirmed              State = "confirmed"
	StateInProduction           State = "in_production"
	StateReadyForDispatch       State = "ready_for_dispatch"
	StateDispatched             State = "dispatched"
	StateDelivered              State = "delivered"
	StateCancelled              State = "cancelled"
	StateExpired                State = "expired"
)

var ErrInvalidState = errors.New("invalid order state")

var allStates = []State{
	StatePendingPaymentGateway,
	StatePendingPaymentTransfer,
	StateTransferProofSubmitted,
	StateConfirmed,
	StateInProduction,
	StateReadyForDispatch,
	StateDispatched,
	StateDelivered,
	StateCancelled,
	StateExpired,
}

// fulfillmentChain is the administrative forward progression after payment.
var fulfillmentChain = []State{
	StateConfirmed,
	StateInProduction,
	StateReadyForDispatch,
	StateDispatched,
	StateDelivered,
}

func (s State) String() string {
	return string(s)
}

// ParseState parses a raw state name.
func ParseState(s string) (State, error) {
	normalized := State(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range allStates {
		if st == normalized {
			return st, nil
		}
	}

	return "", ErrInvalidState
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateDelivered, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// IsPreConfirmation reports whether the order still awaits payment confirmation.
func (s State) IsPreConfirmation() bool {
	switch s {
	case StatePendingPaymentGateway, StatePendingPaymentTransfer, StateTransferProofSubmitted:
		return true
	default:
		return false
	}
}

// OccupiesCapacity reports whether an order in this state still holds a production slot.
func (s State) OccupiesCapacity() bool {
	return s.IsPreConfirmation() || s == StateConfirmed || s == StateInProduction
}

// chainRank returns the position of s in the fulfillment chain, or -1.
func (s State) chainRank() int {
	for i, st := range fulfillmentChain {
		if st == s {
			return i
		}
	}

	return -1
}

// IsForwardTarget reports whether s is reachable by administrative forward progression.
func (s State) IsForwardTarget() bool {
	return s.chainRank() > 0
}

// AllStates lists every state.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)

	return out
}

// PreConfirmationStates lists the states a payment confirmation may leave.
func PreConfirmationStates() []State {
	return []State{StatePendingPaymentGateway, StatePendingPaymentTransfer, StateTransferProofSubmitted}
}

// OccupyingStates lists the states counted against weekly production capacity.
func OccupyingStates() []State {
	out := make([]State, 0, len(allStates))
	for _, st := range allStates {
		if st.OccupiesCapacity() {
			out = append(out, st)
		}
	}

	return out
}

// NonTerminalStates lists the states an administrator may cancel from.
func NonTerminalStates() []State {
	out := make([]State, 0, len(allStates))
	for _, st := range allStates {
		if !st.IsTerminal() {
			out = append(out, st)
		}
	}

	return out
}

// ForwardSources lists the chain states ranked before target.
func ForwardSources(target State) []State {
	rank := target.chainRank()
	if rank <= 0 {
		return nil
	}
	out := make([]State, rank)
	copy(out, fulfillmentChain[:rank])

	return out
}

// CustomerStatus is the coarse status shown to customers.
func (s State) CustomerStatus() string {
	switch s {
	case StatePendingPaymentGateway, StatePendingPaymentTransfer:
		return "awaiting_payment"
	case StateTransferProofSubmitted:
		return "payment_under_review"
	case StateConfirmed:
		return "confirmed"
	case StateInProduction:
		return "in_production"
	case StateReadyForDispatch, StateDispatched:
		return "on_its_way"
	case StateDelivered:
		return "delivered"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// StateStrings converts states to their raw names for storage predicates.
func StateStrings(states []State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.String()
	}

	return out
}
