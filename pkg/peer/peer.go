package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/meetworks/sightline/pkg/common"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrPeerClosed               = errors.New("peer is closed")
	ErrInvalidNegotiationState  = errors.New("operation not allowed in the current negotiation state")
	ErrCantAddTrack             = errors.New("can't add local track")
	ErrCantCreateOffer          = errors.New("can't create offer")
	ErrCantCreateAnswer         = errors.New("can't create answer")
	ErrCantSetLocalDescription  = errors.New("can't set local description")
	ErrCantSetRemoteDescription = errors.New("can't set remote description")
)

// How long a remote offer is deferred when it collides with a local
// negotiation that is still in flight. One fusion tick, roughly.
const DefaultGlareDelay = 100 * time.Millisecond

// Peer owns the peer-connection and drives the offer/answer exchange for one
// call membership. It learns about the outside world through its public
// methods and reports everything that happens inside (offers, answers, ICE
// candidates, inbound tracks) by posting messages to the sink.
//
// The negotiation state is guarded by a mutex: offer/answer generation is a
// multi-step mutation of the connection and two of them must never interleave
// on the same session.
type Peer[ID comparable] struct {
	logger     *logrus.Entry
	connection Connection
	sink       *common.SinkWithSender[ID, MessageContent]

	mutex      sync.Mutex
	state      NegotiationState
	glareDelay time.Duration
}

// NewPeer wraps a connection, attaches the local tracks and registers all
// callbacks. The peer starts in the idle state; call StartNegotiation to kick
// off the initial offer.
func NewPeer[ID comparable](
	connection Connection,
	localTracks []webrtc.TrackLocal,
	sink *common.SinkWithSender[ID, MessageContent],
	logger *logrus.Entry,
) (*Peer[ID], error) {
	peer := &Peer[ID]{
		logger:     logger,
		connection: connection,
		sink:       sink,
		state:      StateIdle,
		glareDelay: DefaultGlareDelay,
	}

	for _, track := range localTracks {
		if _, err := connection.AddTrack(track); err != nil {
			logger.WithError(err).Error("failed to add local track")
			return nil, ErrCantAddTrack
		}
	}

	connection.OnTrack(peer.onTrackReceived)
	connection.OnICECandidate(peer.onICECandidateGathered)
	connection.OnConnectionStateChange(peer.onConnectionStateChanged)

	return peer, nil
}

// Current negotiation state.
func (p *Peer[ID]) State() NegotiationState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// StartNegotiation generates the initial offer and posts it to the sink for
// transmission. Only valid in the idle state.
func (p *Peer[ID]) StartNegotiation() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state != StateIdle {
		p.logger.WithField("state", p.state).Warn("start of negotiation rejected")
		return ErrInvalidNegotiationState
	}

	if err := p.createAndSendOffer(); err != nil {
		return err
	}

	p.state = StateOfferSent
	return nil
}

// ApplyAnswer applies the remote answer to our outstanding offer. Valid only
// while an offer of ours is in flight (initial or renegotiation).
func (p *Peer[ID]) ApplyAnswer(sdpAnswer string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state != StateOfferSent && p.state != StateRenegotiating {
		p.logger.WithField("state", p.state).Warn("unexpected answer, ignoring")
		return ErrInvalidNegotiationState
	}

	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		return ErrCantSetRemoteDescription
	}

	p.state = StateStable
	return nil
}

// ApplyRemoteOffer applies a renegotiation offer forwarded by the relay and
// posts the generated answer to the sink. If a local negotiation is still in
// flight, the offer is deferred once for a short, bounded interval instead of
// implementing full glare resolution; the small residual risk of an offer
// collision is accepted.
func (p *Peer[ID]) ApplyRemoteOffer(sdpOffer string) error {
	p.mutex.Lock()

	switch p.state {
	case StateClosed:
		p.mutex.Unlock()
		return ErrPeerClosed
	case StateOfferSent, StateRenegotiating, StateAnswerPending:
		delay := p.glareDelay
		p.mutex.Unlock()
		p.logger.WithField("delay", delay).Debug("remote offer during local negotiation, deferring")
		time.AfterFunc(delay, func() {
			if err := p.applyRemoteOfferNow(sdpOffer); err != nil && !errors.Is(err, ErrPeerClosed) {
				p.logger.WithError(err).Error("failed to apply deferred remote offer")
			}
		})
		return nil
	default:
		p.mutex.Unlock()
		return p.applyRemoteOfferNow(sdpOffer)
	}
}

func (p *Peer[ID]) applyRemoteOfferNow(sdpOffer string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state == StateClosed {
		return ErrPeerClosed
	}

	p.state = StateAnswerPending

	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		p.state = StateStable
		return ErrCantSetRemoteDescription
	}

	answer, err := p.connection.CreateAnswer(nil)
	if err != nil {
		p.logger.WithError(err).Error("failed to create answer")
		p.state = StateStable
		return ErrCantCreateAnswer
	}

	if err := p.connection.SetLocalDescription(answer); err != nil {
		p.logger.WithError(err).Error("failed to set local description")
		p.state = StateStable
		return ErrCantSetLocalDescription
	}

	p.state = StateStable
	p.sink.Send(AnswerReady{SDP: answer.SDP})
	return nil
}

// RequestNewOffer starts a local renegotiation (e.g. after the relay asked
// for a fresh offer). Acts only when the session is stable; in any other
// state the request is rejected and the caller is expected to drop it.
func (p *Peer[ID]) RequestNewOffer() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.state != StateStable {
		p.logger.WithField("state", p.state).Warn("renegotiation request rejected")
		return ErrInvalidNegotiationState
	}

	if err := p.createAndSendOffer(); err != nil {
		return err
	}

	p.state = StateRenegotiating
	return nil
}

// AddRemoteCandidate applies a trickled remote ICE candidate. Candidates are
// independent of the SDP exchange and are accepted in every state but closed.
func (p *Peer[ID]) AddRemoteCandidate(candidate webrtc.ICECandidateInit) {
	p.mutex.Lock()
	closed := p.state == StateClosed
	p.mutex.Unlock()

	if closed {
		return
	}

	if err := p.connection.AddICECandidate(candidate); err != nil {
		p.logger.WithError(err).Error("failed to add ICE candidate")
	}
}

// Terminate closes the connection and seals the sink. Safe to call from any
// state, any number of times; from this moment on no new messages will be
// posted by this peer.
func (p *Peer[ID]) Terminate() {
	p.mutex.Lock()
	alreadyClosed := p.state == StateClosed
	p.state = StateClosed
	p.mutex.Unlock()

	if alreadyClosed {
		return
	}

	if err := p.connection.Close(); err != nil {
		p.logger.WithError(err).Error("failed to close peer connection")
	}

	p.sink.Seal()
}

// Caller must hold the mutex.
func (p *Peer[ID]) createAndSendOffer() error {
	offer, err := p.connection.CreateOffer(nil)
	if err != nil {
		p.logger.WithError(err).Error("failed to create offer")
		return ErrCantCreateOffer
	}

	if err := p.connection.SetLocalDescription(offer); err != nil {
		p.logger.WithError(err).Error("failed to set local description")
		return ErrCantSetLocalDescription
	}

	p.sink.Send(OfferReady{SDP: offer.SDP})
	return nil
}
