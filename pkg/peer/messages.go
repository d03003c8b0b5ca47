package peer

import (
	"github.com/pion/webrtc/v3"
)

// Due to the limitation of Go, we're using the `interface{}` to be able to
// switch on the actual type of the message at runtime.
type MessageContent = interface{}

// A local SDP offer is ready and must be transmitted over signaling.
type OfferReady struct {
	SDP string
}

// An answer to a remote offer is ready and must be transmitted over signaling.
type AnswerReady struct {
	SDP string
}

// A local ICE candidate has been gathered and must be transmitted over
// signaling, regardless of what the negotiation state machine is doing.
type NewICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

type ICEGatheringComplete struct{}

// An inbound media track arrived. Attribution to a participant is the
// responsibility of the receiver of this message.
type NewRemoteTrack struct {
	Info TrackInfo
	// The raw track handle, passed through for the rendering layer.
	// Nil when the event was synthesized in tests.
	Track *webrtc.TrackRemote
}

// The media transport is up.
type ConnectionEstablished struct{}

// The media transport went away for good.
type ConnectionFailed struct {
	State webrtc.PeerConnectionState
}
