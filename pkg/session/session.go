package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meetworks/sightline/pkg/attention"
	"github.com/meetworks/sightline/pkg/common"
	"github.com/meetworks/sightline/pkg/peer"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/meetworks/sightline/pkg/telemetry"
	"github.com/meetworks/sightline/pkg/worker"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrTransportFailed = errors.New("signaling transport failed")
	ErrCantJoin        = errors.New("can't join the call")
)

// Transport is the duplex signaling connection the session runs on.
// *signaling.Channel satisfies it; tests substitute an in-memory fake.
type Transport interface {
	Send(message signaling.Message) error
	Incoming() <-chan signaling.Message
	Done() <-chan struct{}
	Close()
}

// ConnectionFactory creates the peer-connection once the relay accepts us.
type ConnectionFactory func() (peer.Connection, error)

type Config struct {
	// Name announced to the relay on join.
	DisplayName string
	// Local tracks published into the call.
	LocalTracks []webrtc.TrackLocal
}

// Session owns one call membership end to end: the signaling transport, the
// negotiation state machine and the participant roster. All state is mutated
// from a single event loop that multiplexes the transport with the peer
// events, so handlers never race each other. Outbound attention
// announcements go through a worker so a slow write cannot stall the loop.
type Session struct {
	logger    *logrus.Entry
	config    Config
	transport Transport
	connect   ConnectionFactory
	telemetry *telemetry.Telemetry

	peerEvents chan common.Message[string, peer.MessageContent]
	events     common.Sender[Event]
	attention  *worker.Worker[attention.Announcement]
	leaving    atomic.Bool

	// Guards the roster and selfID, which the UI reads concurrently.
	mutex  sync.Mutex
	selfID string
	roster *Roster

	// Touched only by the event loop.
	peer    *peer.Peer[string]
	failure error
}

// NewSession joins the call over the given transport and starts the event
// loop. The session reports everything that happens through Events; the
// final event is always Ended.
func NewSession(
	config Config,
	transport Transport,
	connect ConnectionFactory,
	logger *logrus.Entry,
) (*Session, common.Receiver[Event]) {
	sender, receiver := common.NewChannel[Event]()

	s := &Session{
		logger:     logger,
		config:     config,
		transport:  transport,
		connect:    connect,
		telemetry:  telemetry.NewTelemetry(context.Background(), "call_session"),
		peerEvents: make(chan common.Message[string, peer.MessageContent], common.UnboundedChannelSize),
		events:     sender,
		roster:     NewRoster(logger),
	}

	s.attention = worker.StartWorker(worker.Config[attention.Announcement]{
		ChannelSize: common.UnboundedChannelSize,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      s.sendAttentionFocus,
	})

	go s.run()

	return s, receiver
}

// SelfID returns the id the relay assigned to us, or "" before the join is
// accepted.
func (s *Session) SelfID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.selfID
}

// Participants returns a snapshot of the roster in arrival order. The
// snapshot is detached from the live roster and safe to read from any
// goroutine.
func (s *Session) Participants() []Participant {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.roster.Participants()
}

// AnnounceAttention queues an attention announcement for transmission. This
// is the attention engine's announcer callback.
func (s *Session) AnnounceAttention(announcement attention.Announcement) {
	if err := s.attention.Send(announcement); err != nil {
		s.logger.WithError(err).Warn("dropping attention announcement")
	}
}

// Leave ends the session cleanly: tells the relay we are leaving and closes
// the transport. The event loop finishes the teardown.
func (s *Session) Leave() {
	s.leaving.Store(true)
	if err := s.transport.Send(signaling.Leave{}); err != nil {
		s.logger.WithError(err).Debug("could not send leave")
	}
	s.transport.Close()
}

// The main loop. Everything that mutates the session funnels through here.
func (s *Session) run() {
	if err := s.transport.Send(signaling.Join{Name: s.config.DisplayName}); err != nil {
		s.failure = errors.Join(ErrCantJoin, err)
		s.transport.Close()
	}

	for {
		select {
		case message, ok := <-s.transport.Incoming():
			if !ok {
				// A sealed inbound stream means the transport is gone,
				// whether or not Done fired first.
				s.finish()
				return
			}
			s.processSignalingMessage(message)
		case event := <-s.peerEvents:
			s.processPeerEvent(event.Content)
		case <-s.transport.Done():
			s.finish()
			return
		}
	}
}

// Picks the teardown reason once the transport is gone.
func (s *Session) finish() {
	switch {
	case s.failure != nil:
		s.end(s.failure)
	case s.leaving.Load():
		s.end(nil)
	default:
		s.end(ErrTransportFailed)
	}
}

// Tears down negotiation and media state. After this the session is inert
// and a fresh join needs a fresh Session.
func (s *Session) end(err error) {
	if s.peer != nil {
		s.peer.Terminate()
	}
	s.attention.Stop()
	s.transport.Close()

	if err != nil {
		s.logger.WithError(err).Error("session ended")
		s.telemetry.Fail(err)
	} else {
		s.logger.Info("session ended")
		s.telemetry.End()
	}

	s.emit(Ended{Err: err})
}

func (s *Session) emit(event Event) {
	if rejected := s.events.Send(event); rejected != nil {
		s.logger.Debugf("event dropped, receiver is gone: %T", *rejected)
	}
}

func (s *Session) processSignalingMessage(message signaling.Message) {
	switch msg := message.(type) {
	case signaling.Joined:
		s.onJoined(msg)

	case signaling.ParticipantJoined:
		s.logger.WithField("participant_id", msg.Participant.ID).Info("participant joined")
		s.withRoster(func() { s.roster.Add(msg.Participant.ID, msg.Participant.Name) })
		s.emit(RosterChanged{})

	case signaling.ParticipantLeft:
		s.logger.WithField("participant_id", msg.ParticipantID).Info("participant left")
		s.withRoster(func() { s.roster.Remove(msg.ParticipantID) })
		s.emit(RosterChanged{})

	case signaling.Answer:
		if s.peer == nil {
			s.logger.Warn("answer before join completed, ignoring")
			return
		}
		if err := s.peer.ApplyAnswer(msg.SDP); err != nil {
			s.logger.WithError(err).Error("failed to apply answer")
		}

	case signaling.Renegotiate:
		if s.peer == nil {
			s.logger.Warn("renegotiation offer before join completed, ignoring")
			return
		}
		if err := s.peer.ApplyRemoteOffer(msg.SDP); err != nil {
			s.logger.WithError(err).Error("failed to apply renegotiation offer")
		}

	case signaling.RequestOffer:
		if s.peer == nil {
			s.logger.Warn("offer request before join completed, ignoring")
			return
		}
		s.logger.WithField("reason", msg.Reason).Info("relay requested a new offer")
		if err := s.peer.RequestNewOffer(); err != nil {
			// Wrong-state requests are dropped, not fatal. The relay will
			// ask again if it still needs one.
			s.logger.WithError(err).Warn("ignoring offer request")
		}

	case signaling.ICECandidate:
		if s.peer == nil {
			s.logger.Warn("remote candidate before join completed, ignoring")
			return
		}
		s.peer.AddRemoteCandidate(candidateToInit(msg.Candidate))

	case signaling.AttentionFocus:
		s.emit(AttentionReceived{FromName: msg.FromName, Active: msg.Active})

	default:
		s.logger.Warnf("unexpected signaling message: %T", msg)
	}
}

// The relay accepted the join. Builds the peer-connection, publishes the
// local tracks and kicks off the initial offer.
func (s *Session) onJoined(msg signaling.Joined) {
	s.logger.WithField("self_id", msg.ParticipantID).Info("joined the call")
	s.telemetry.AddEvent("joined", attribute.Int("roster_size", len(msg.Participants)))

	s.withRoster(func() {
		s.selfID = msg.ParticipantID
		for _, info := range msg.Participants {
			s.roster.Add(info.ID, info.Name)
		}
	})

	connection, err := s.connect()
	if err != nil {
		s.failure = errors.Join(ErrCantJoin, err)
		s.transport.Close()
		return
	}

	sink := common.NewSink(msg.ParticipantID, s.peerEvents)
	s.peer, err = peer.NewPeer(connection, s.config.LocalTracks, sink, s.logger)
	if err != nil {
		s.failure = errors.Join(ErrCantJoin, err)
		s.transport.Close()
		return
	}

	s.emit(JoinedCall{SelfID: msg.ParticipantID})
	s.emit(RosterChanged{})

	if err := s.peer.StartNegotiation(); err != nil {
		s.logger.WithError(err).Error("failed to start negotiation")
	}
}

func (s *Session) processPeerEvent(content peer.MessageContent) {
	switch event := content.(type) {
	case peer.OfferReady:
		s.sendOrLog(signaling.Offer{SDP: event.SDP})

	case peer.AnswerReady:
		s.sendOrLog(signaling.Answer{SDP: event.SDP})

	case peer.NewICECandidate:
		s.sendOrLog(signaling.ICECandidate{Candidate: candidateFromInit(event.Candidate)})

	case peer.ICEGatheringComplete:
		s.logger.Debug("local ICE gathering completed")

	case peer.NewRemoteTrack:
		var attributed *Participant
		s.withRoster(func() { attributed = s.roster.Attribute(event.Info) })
		s.logger.WithFields(logrus.Fields{
			"track_id":       event.Info.ID,
			"kind":           event.Info.Kind,
			"participant_id": attributed.ID,
			"synthetic":      attributed.Synthetic,
		}).Info("attributed inbound track")
		s.telemetry.AddEvent("track_attributed", attribute.String("kind", string(event.Info.Kind)))
		s.emit(TrackAttached{ParticipantID: attributed.ID, Info: event.Info, Track: event.Track})
		s.emit(RosterChanged{})

	case peer.ConnectionEstablished:
		s.logger.Info("media connection established")
		s.telemetry.AddEvent("connected")

	case peer.ConnectionFailed:
		// Media failure is not a signaling failure. The call may still
		// recover through an ICE restart driven by the relay; we only
		// report it.
		s.logger.WithField("state", event.State).Error("media connection failed")
		s.telemetry.AddEvent("media_failed", attribute.String("state", event.State.String()))

	default:
		s.logger.Warnf("unexpected peer event: %T", event)
	}
}

func (s *Session) sendOrLog(message signaling.Message) {
	if err := s.transport.Send(message); err != nil {
		s.logger.WithError(err).Error("failed to send signaling message")
	}
}

func (s *Session) sendAttentionFocus(announcement attention.Announcement) {
	message := signaling.AttentionFocus{
		TargetID: announcement.TargetID,
		Active:   announcement.Active,
	}
	if err := s.transport.Send(message); err != nil {
		s.logger.WithError(err).Warn("failed to send attention announcement")
	}
}

func (s *Session) withRoster(f func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	f()
}

func candidateToInit(candidate signaling.Candidate) webrtc.ICECandidateInit {
	mid := candidate.SDPMid
	index := candidate.SDPMLineIndex
	return webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

func candidateFromInit(init webrtc.ICECandidateInit) signaling.Candidate {
	candidate := signaling.Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		candidate.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		candidate.SDPMLineIndex = *init.SDPMLineIndex
	}
	return candidate
}
