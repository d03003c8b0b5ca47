package session

import (
	"github.com/meetworks/sightline/pkg/peer"
	"github.com/pion/webrtc/v3"
)

// Event is the set of notifications the session posts to its owner (the UI
// layer). Like the peer messages, the variants are matched with a type
// switch.
type Event = interface{}

// The relay accepted our join. Carries the id the relay assigned to us.
type JoinedCall struct {
	SelfID string
}

// Roster membership or track attribution changed; re-read Participants.
type RosterChanged struct{}

// An inbound track was attributed to a participant. Track carries the live
// media; Info is its metadata.
type TrackAttached struct {
	ParticipantID string
	Info          peer.TrackInfo
	Track         *webrtc.TrackRemote
}

// Another participant announced (or withdrew) attention directed at us.
type AttentionReceived struct {
	FromName string
	Active   bool
}

// The session is over. Err is nil after a local Leave and non-nil when the
// signaling transport failed.
type Ended struct {
	Err error
}
