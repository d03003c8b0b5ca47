package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/meetworks/sightline/pkg/webrtc_ext"
	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// How long after answering an offer the new publisher's tracks are fanned
// out to everyone else. Gives the media path a moment to come up first.
const fanOutDelay = time.Second

// Meeting is the single meeting room the relay hosts. It owns the roster and
// wires every participant's published tracks into everyone else's peer
// connection, renegotiating as the membership changes.
type Meeting struct {
	logger  *logrus.Entry
	factory *webrtc_ext.PeerConnectionFactory

	mutex        sync.Mutex
	participants []*Participant
}

func NewMeeting(factory *webrtc_ext.PeerConnectionFactory, logger *logrus.Entry) *Meeting {
	return &Meeting{logger: logger, factory: factory}
}

// Join adds a participant, confirms the join with the current roster and
// tells everyone else.
func (m *Meeting) Join(name string, conn *connection) *Participant {
	id := uuid.NewString()[:8]
	logger := m.logger.WithFields(logrus.Fields{"participant_id": id, "name": name})
	participant := newParticipant(id, name, conn, logger)

	m.mutex.Lock()
	m.participants = append(m.participants, participant)
	roster := lo.Map(m.participants, func(p *Participant, _ int) signaling.ParticipantInfo {
		return signaling.ParticipantInfo{ID: p.ID, Name: p.Name}
	})
	others := m.othersLocked(id)
	m.mutex.Unlock()

	logger.Info("participant joined")

	conn.send(signaling.Joined{ParticipantID: id, Participants: roster})
	info := signaling.ParticipantInfo{ID: id, Name: name}
	for _, other := range others {
		other.conn.send(signaling.ParticipantJoined{Participant: info})
	}

	return participant
}

// Remove drops a participant, closes its media and tells everyone else.
// Safe to call twice; only the first call does anything.
func (m *Meeting) Remove(id string) {
	m.mutex.Lock()
	participant, found := lo.Find(m.participants, func(p *Participant) bool { return p.ID == id })
	if !found {
		m.mutex.Unlock()
		return
	}
	m.participants = lo.Reject(m.participants, func(p *Participant, _ int) bool { return p.ID == id })
	others := m.othersLocked(id)
	m.mutex.Unlock()

	participant.logger.Info("participant left")
	participant.closeMedia()

	for _, other := range others {
		other.conn.send(signaling.ParticipantLeft{ParticipantID: id})
	}
}

// HandleOffer answers an SDP offer from a participant, wiring everyone
// else's published tracks into the answer. Handles both the initial offer
// and client-initiated renegotiation. The answer carries the full candidate
// set, so the relay never trickles candidates back.
func (m *Meeting) HandleOffer(participant *Participant, sdp string) {
	pc, err := m.ensurePeerConnection(participant)
	if err != nil {
		participant.logger.WithError(err).Error("failed to create peer connection")
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		participant.logger.WithError(err).Error("failed to apply offer")
		return
	}

	// Everything the rest of the room publishes goes into this answer.
	for _, other := range m.others(participant.ID) {
		for _, track := range other.publishedTracks() {
			if _, err := participant.subscribe(track); err != nil {
				participant.logger.WithError(err).Error("failed to attach fan-out track")
			}
		}
	}

	answer, err := m.finishNegotiation(pc, webrtc.SDPTypeAnswer)
	if err != nil {
		participant.logger.WithError(err).Error("failed to answer offer")
		return
	}
	participant.conn.send(signaling.Answer{SDP: answer})

	// The publisher's own tracks arrive shortly after the answer; fan them
	// out to the rest of the room once they had a moment to land.
	time.AfterFunc(fanOutDelay, func() { m.fanOut(participant) })
}

// HandleCandidate applies a trickled remote candidate.
func (m *Meeting) HandleCandidate(participant *Participant, candidate signaling.Candidate) {
	participant.mutex.Lock()
	pc := participant.pc
	participant.mutex.Unlock()

	if pc == nil {
		participant.logger.Warn("candidate before any offer, ignoring")
		return
	}

	mid := candidate.SDPMid
	index := candidate.SDPMLineIndex
	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate, SDPMid: &mid, SDPMLineIndex: &index}
	if err := pc.AddICECandidate(init); err != nil {
		participant.logger.WithError(err).Warn("failed to add remote candidate")
	}
}

// RouteAttention delivers an attention announcement to its target, stamped
// with the sender's display name.
func (m *Meeting) RouteAttention(from *Participant, focus signaling.AttentionFocus) {
	m.mutex.Lock()
	target, found := lo.Find(m.participants, func(p *Participant) bool { return p.ID == focus.TargetID })
	m.mutex.Unlock()

	if !found {
		from.logger.WithField("target_id", focus.TargetID).Warn("attention target unknown, dropping")
		return
	}

	target.conn.send(signaling.AttentionFocus{Active: focus.Active, FromName: from.Name})
}

// fanOut pushes the source participant's published tracks to everyone else,
// renegotiating each subscriber that gained a track.
func (m *Meeting) fanOut(source *Participant) {
	tracks := source.publishedTracks()
	if len(tracks) == 0 {
		return
	}

	for _, other := range m.others(source.ID) {
		other.mutex.Lock()
		pc := other.pc
		other.mutex.Unlock()

		if pc == nil {
			continue
		}
		if pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
			// Not ready to take a relay-side offer; ask the client to
			// re-establish the media session instead.
			other.conn.send(signaling.RequestOffer{Reason: "media session not established"})
			continue
		}

		added := false
		for _, track := range tracks {
			subscribed, err := other.subscribe(track)
			if err != nil {
				other.logger.WithError(err).Error("failed to attach fan-out track")
				continue
			}
			added = added || subscribed
		}
		if !added {
			continue
		}

		offer, err := m.finishNegotiation(pc, webrtc.SDPTypeOffer)
		if err != nil {
			other.logger.WithError(err).Error("failed to create renegotiation offer")
			continue
		}
		other.logger.Info("renegotiating to deliver new tracks")
		other.conn.send(signaling.Renegotiate{SDP: offer})
	}
}

// finishNegotiation creates the local description of the given type, waits
// for ICE gathering to complete and returns the final SDP.
func (m *Meeting) finishNegotiation(pc *webrtc.PeerConnection, sdpType webrtc.SDPType) (string, error) {
	var description webrtc.SessionDescription
	var err error
	if sdpType == webrtc.SDPTypeOffer {
		description, err = pc.CreateOffer(nil)
	} else {
		description, err = pc.CreateAnswer(nil)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", sdpType, err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gathered

	return pc.LocalDescription().SDP, nil
}

func (m *Meeting) ensurePeerConnection(participant *Participant) (*webrtc.PeerConnection, error) {
	participant.mutex.Lock()
	defer participant.mutex.Unlock()

	if participant.pc != nil {
		return participant.pc, nil
	}

	pc, err := m.factory.CreatePeerConnection()
	if err != nil {
		return nil, err
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		participant.onInboundTrack(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			participant.logger.WithField("state", state).Warn("media connection lost")
			go m.Remove(participant.ID)
		default:
		}
	})

	participant.pc = pc
	return pc, nil
}

func (m *Meeting) others(excludeID string) []*Participant {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.othersLocked(excludeID)
}

func (m *Meeting) othersLocked(excludeID string) []*Participant {
	return lo.Filter(m.participants, func(p *Participant, _ int) bool { return p.ID != excludeID })
}
