package peer

import (
	"github.com/pion/webrtc/v3"
)

// Connection is the contract the negotiation state machine consumes from the
// underlying peer-connection object. It is the subset of *webrtc.PeerConnection
// that the state machine is allowed to touch; *webrtc.PeerConnection satisfies
// it directly, and tests substitute an in-memory fake.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	SignalingState() webrtc.SignalingState
	Close() error
}

// The kind of a media track. Each participant contributes at most one track
// per kind, which is what the attribution heuristic leans on.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Basic information about an inbound track. Track metadata carries no
// participant id, so attribution happens one level up, in the session.
type TrackInfo struct {
	ID       string
	StreamID string
	Kind     TrackKind
}

func trackInfoFromRemote(track *webrtc.TrackRemote) TrackInfo {
	kind := TrackKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = TrackKindVideo
	}

	return TrackInfo{
		ID:       track.ID(),
		StreamID: track.StreamID(),
		Kind:     kind,
	}
}
