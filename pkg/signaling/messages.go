package signaling

import (
	"encoding/json"
	"fmt"
)

// Message is the closed set of payloads that travel over the signaling
// channel, in both directions. The wire format is a flat JSON object with a
// "type" discriminator, e.g. {"type":"offer","sdp":"..."}.
type Message interface {
	messageType() string
}

// A single ICE candidate as exchanged over signaling.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Roster entry as the relay reports it.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client -> relay: request to join the meeting.
type Join struct {
	Name string `json:"name"`
}

// Relay -> client: join accepted; carries the assigned id and the roster
// snapshot at the time of joining.
type Joined struct {
	ParticipantID string            `json:"participantId"`
	Participants  []ParticipantInfo `json:"participants"`
}

// Relay -> client: roster delta.
type ParticipantJoined struct {
	Participant ParticipantInfo `json:"participant"`
}

// Relay -> client: roster delta.
type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
}

// Client -> relay: local SDP offer.
type Offer struct {
	SDP string `json:"sdp"`
}

// Both directions: SDP answer.
type Answer struct {
	SDP string `json:"sdp"`
}

// Relay -> client: a fresh remote offer that the client must answer
// (mid-call renegotiation initiated by the relay).
type Renegotiate struct {
	SDP string `json:"sdp"`
}

// Relay -> client: ask the client to produce a new offer.
type RequestOffer struct {
	Reason string `json:"reason"`
}

// Both directions: trickled ICE candidate.
type ICECandidate struct {
	Candidate Candidate `json:"candidate"`
}

// Client -> relay: attention announcement for a target participant.
// Relay -> client: the same shape, delivered to the target with FromName set.
type AttentionFocus struct {
	TargetID string `json:"targetId,omitempty"`
	Active   bool   `json:"active"`
	FromName string `json:"fromName,omitempty"`
}

// Client -> relay: about to close the connection.
type Leave struct{}

func (Join) messageType() string              { return "join" }
func (Joined) messageType() string            { return "joined" }
func (ParticipantJoined) messageType() string { return "participant_joined" }
func (ParticipantLeft) messageType() string   { return "participant_left" }
func (Offer) messageType() string             { return "offer" }
func (Answer) messageType() string            { return "answer" }
func (Renegotiate) messageType() string       { return "renegotiate" }
func (RequestOffer) messageType() string      { return "request_offer" }
func (ICECandidate) messageType() string      { return "ice_candidate" }
func (AttentionFocus) messageType() string    { return "attention_focus" }
func (Leave) messageType() string             { return "leave" }

// Marshal encodes a message into its wire envelope.
func Marshal(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q payload: %w", m.messageType(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %q payload: %w", m.messageType(), err)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", m.messageType()))

	return json.Marshal(fields)
}

// Unmarshal decodes a wire envelope into the corresponding message variant.
// An unknown or missing type tag is an error; the protocol set is closed.
func Unmarshal(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed signaling message: %w", err)
	}

	var message Message
	switch envelope.Type {
	case "join":
		message = &Join{}
	case "joined":
		message = &Joined{}
	case "participant_joined":
		message = &ParticipantJoined{}
	case "participant_left":
		message = &ParticipantLeft{}
	case "offer":
		message = &Offer{}
	case "answer":
		message = &Answer{}
	case "renegotiate":
		message = &Renegotiate{}
	case "request_offer":
		message = &RequestOffer{}
	case "ice_candidate":
		message = &ICECandidate{}
	case "attention_focus":
		message = &AttentionFocus{}
	case "leave":
		message = &Leave{}
	default:
		return nil, fmt.Errorf("unknown signaling message type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("malformed %q message: %w", envelope.Type, err)
	}

	return dereference(message), nil
}

// Messages are passed around by value; the pointer was only needed for unmarshaling.
func dereference(m Message) Message {
	switch v := m.(type) {
	case *Join:
		return *v
	case *Joined:
		return *v
	case *ParticipantJoined:
		return *v
	case *ParticipantLeft:
		return *v
	case *Offer:
		return *v
	case *Answer:
		return *v
	case *Renegotiate:
		return *v
	case *RequestOffer:
		return *v
	case *ICECandidate:
		return *v
	case *AttentionFocus:
		return *v
	case *Leave:
		return *v
	default:
		return m
	}
}
