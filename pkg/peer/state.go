package peer

// NegotiationState is the SDP exchange state of the session. It is distinct
// from the transport-level signaling state of the underlying connection: ICE
// trickling is orthogonal and keeps flowing in every state but closed.
type NegotiationState int

const (
	// No negotiation has happened yet.
	StateIdle NegotiationState = iota
	// The initial local offer has been sent, awaiting the answer.
	StateOfferSent
	// A remote offer is being answered.
	StateAnswerPending
	// Offer/answer exchange completed.
	StateStable
	// A local renegotiation offer has been sent, awaiting the answer.
	StateRenegotiating
	// The session is torn down; no further transitions.
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerPending:
		return "answer-pending"
	case StateStable:
		return "stable"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
