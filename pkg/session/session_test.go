package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meetworks/sightline/pkg/attention"
	"github.com/meetworks/sightline/pkg/common"
	"github.com/meetworks/sightline/pkg/peer"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	incoming chan signaling.Message
	sent     chan signaling.Message
	done     chan struct{}

	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan signaling.Message, 16),
		sent:     make(chan signaling.Message, 16),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) Send(message signaling.Message) error {
	select {
	case <-t.done:
		return signaling.ErrChannelClosed
	case t.sent <- message:
		return nil
	}
}

func (t *fakeTransport) Incoming() <-chan signaling.Message { return t.incoming }

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

type fakeConnection struct {
	mutex  sync.Mutex
	offers int
	closed bool
}

func (c *fakeConnection) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return nil, nil
}

func (c *fakeConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (c *fakeConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *fakeConnection) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConnection) SetRemoteDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConnection) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (c *fakeConnection) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConnection) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *fakeConnection) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (c *fakeConnection) SignalingState() webrtc.SignalingState { return webrtc.SignalingStateStable }

func (c *fakeConnection) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConnection) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

type sessionHarness struct {
	session    *Session
	transport  *fakeTransport
	connection *fakeConnection
	events     common.Receiver[Event]
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()

	transport := newFakeTransport()
	connection := &fakeConnection{}

	session, events := NewSession(
		Config{DisplayName: "carol"},
		transport,
		func() (peer.Connection, error) { return connection, nil },
		logrus.NewEntry(logrus.New()),
	)
	t.Cleanup(transport.Close)

	return &sessionHarness{
		session:    session,
		transport:  transport,
		connection: connection,
		events:     events,
	}
}

func (h *sessionHarness) nextSent(t *testing.T) signaling.Message {
	t.Helper()
	select {
	case message := <-h.transport.sent:
		return message
	case <-time.After(time.Second):
		t.Fatal("expected an outbound signaling message, got none")
		return nil
	}
}

func (h *sessionHarness) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case event := <-h.events.Channel:
		return event
	case <-time.After(time.Second):
		t.Fatal("expected a session event, got none")
		return nil
	}
}

// Drives the session through a successful join with the given initial roster
// and consumes the resulting join handshake messages and events.
func (h *sessionHarness) join(t *testing.T, roster ...signaling.ParticipantInfo) {
	t.Helper()

	join, ok := h.nextSent(t).(signaling.Join)
	require.True(t, ok)
	require.Equal(t, "carol", join.Name)

	h.transport.incoming <- signaling.Joined{ParticipantID: "self", Participants: roster}

	require.IsType(t, JoinedCall{}, h.nextEvent(t))
	require.IsType(t, RosterChanged{}, h.nextEvent(t))
	require.IsType(t, signaling.Offer{}, h.nextSent(t))
}

// Pushes an event into the session loop as if the peer had emitted it.
func (h *sessionHarness) pushPeerEvent(content peer.MessageContent) {
	h.session.peerEvents <- common.Message[string, peer.MessageContent]{
		Sender:  "self",
		Content: content,
	}
}

func audioTrack(id string) peer.TrackInfo {
	return peer.TrackInfo{ID: id, StreamID: "s-" + id, Kind: peer.TrackKindAudio}
}

func videoTrack(id string) peer.TrackInfo {
	return peer.TrackInfo{ID: id, StreamID: "s-" + id, Kind: peer.TrackKindVideo}
}

func TestRosterAttributesDistinctKindsToDistinctParticipants(t *testing.T) {
	roster := NewRoster(logrus.NewEntry(logrus.New()))

	// Alice already has audio and awaits video; bob has video and awaits
	// audio.
	alice := roster.Add("alice", "Alice")
	alice.tracks[peer.TrackKindAudio] = audioTrack("a0")
	bob := roster.Add("bob", "Bob")
	bob.tracks[peer.TrackKindVideo] = videoTrack("v0")

	assert.Same(t, alice, roster.Attribute(videoTrack("v1")))
	assert.Same(t, bob, roster.Attribute(audioTrack("a1")))

	// Nobody synthetic, no cross-attachment.
	assert.Equal(t, 2, roster.Size())
	assert.True(t, alice.hasTrack(peer.TrackKindVideo))
	assert.True(t, bob.hasTrack(peer.TrackKindAudio))
}

func TestRosterSynthesizesFallbackParticipant(t *testing.T) {
	roster := NewRoster(logrus.NewEntry(logrus.New()))
	alice := roster.Add("alice", "Alice")
	alice.tracks[peer.TrackKindAudio] = audioTrack("a0")

	attributed := roster.Attribute(audioTrack("a1"))

	assert.NotSame(t, alice, attributed)
	assert.True(t, attributed.Synthetic)
	assert.Equal(t, 2, roster.Size())
	assert.True(t, attributed.hasTrack(peer.TrackKindAudio))
}

func TestJoinAttachesUnhintedTracksToTheRealParticipant(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t, signaling.ParticipantInfo{ID: "alice", Name: "Alice"})

	// One audio and one video track arrive with no participant hint; both
	// belong to the only real participant, no synthetic fallback.
	h.pushPeerEvent(peer.NewRemoteTrack{Info: audioTrack("a0")})
	h.pushPeerEvent(peer.NewRemoteTrack{Info: videoTrack("v0")})

	for _, expected := range []peer.TrackInfo{audioTrack("a0"), videoTrack("v0")} {
		attached, ok := h.nextEvent(t).(TrackAttached)
		require.True(t, ok)
		assert.Equal(t, "alice", attached.ParticipantID)
		assert.Equal(t, expected, attached.Info)
		require.IsType(t, RosterChanged{}, h.nextEvent(t))
	}

	participants := h.session.Participants()
	require.Len(t, participants, 1)
	assert.Len(t, participants[0].Tracks(), 2)
}

func TestRosterSnapshotsAreDetached(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t, signaling.ParticipantInfo{ID: "alice", Name: "Alice"})

	h.pushPeerEvent(peer.NewRemoteTrack{Info: audioTrack("a0")})
	require.IsType(t, TrackAttached{}, h.nextEvent(t))
	require.IsType(t, RosterChanged{}, h.nextEvent(t))

	snapshot := h.session.Participants()
	require.Len(t, snapshot, 1)

	// Mutating the snapshot's bundle must not touch the live roster.
	tracks := snapshot[0].Tracks()
	delete(tracks, peer.TrackKindAudio)

	assert.Len(t, h.session.Participants()[0].Tracks(), 1)
}

func TestRosterReadsDoNotRaceWithAttribution(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t, signaling.ParticipantInfo{ID: "alice", Name: "Alice"})

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, participant := range h.session.Participants() {
				_ = participant.Tracks()
			}
		}
	}()

	const tracks = 64
	for i := 0; i < tracks; i++ {
		h.pushPeerEvent(peer.NewRemoteTrack{Info: audioTrack(fmt.Sprintf("a%d", i))})
	}

	attached := 0
	for attached < tracks {
		if _, ok := h.nextEvent(t).(TrackAttached); ok {
			attached++
		}
	}

	close(stop)
	readers.Wait()
}

func TestRosterDeltas(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.transport.incoming <- signaling.ParticipantJoined{
		Participant: signaling.ParticipantInfo{ID: "alice", Name: "Alice"},
	}
	require.IsType(t, RosterChanged{}, h.nextEvent(t))
	require.Len(t, h.session.Participants(), 1)

	h.transport.incoming <- signaling.ParticipantLeft{ParticipantID: "alice"}
	require.IsType(t, RosterChanged{}, h.nextEvent(t))
	require.Empty(t, h.session.Participants())
}

func TestRequestOfferIgnoredWhileRenegotiating(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.transport.incoming <- signaling.Answer{SDP: "answer"}

	// First request is honored: stable -> renegotiating, new offer out.
	h.transport.incoming <- signaling.RequestOffer{Reason: "new subscriber"}
	require.IsType(t, signaling.Offer{}, h.nextSent(t))

	// Second request arrives before our offer was answered; it is dropped.
	h.transport.incoming <- signaling.RequestOffer{Reason: "another subscriber"}
	assert.Never(t, func() bool {
		select {
		case <-h.transport.sent:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestRenegotiateOfferIsAnswered(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.transport.incoming <- signaling.Answer{SDP: "answer"}
	h.transport.incoming <- signaling.Renegotiate{SDP: "remote-offer"}

	answer, ok := h.nextSent(t).(signaling.Answer)
	require.True(t, ok)
	assert.Equal(t, "answer", answer.SDP)
}

func TestAttentionAnnouncementsAreForwarded(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.session.AnnounceAttention(attention.Announcement{TargetID: "alice", Active: true})

	focus, ok := h.nextSent(t).(signaling.AttentionFocus)
	require.True(t, ok)
	assert.Equal(t, signaling.AttentionFocus{TargetID: "alice", Active: true}, focus)
}

func TestIncomingAttentionIsSurfaced(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.transport.incoming <- signaling.AttentionFocus{Active: true, FromName: "Alice"}

	received, ok := h.nextEvent(t).(AttentionReceived)
	require.True(t, ok)
	assert.Equal(t, AttentionReceived{FromName: "Alice", Active: true}, received)
}

func TestClosedIncomingStreamEndsTheSession(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	// The transport seals the inbound stream without signaling Done first.
	close(h.transport.incoming)

	ended, ok := h.nextEvent(t).(Ended)
	require.True(t, ok)
	assert.ErrorIs(t, ended.Err, ErrTransportFailed)
}

func TestTransportFailureTearsDownTheSession(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.transport.Close()

	ended, ok := h.nextEvent(t).(Ended)
	require.True(t, ok)
	assert.ErrorIs(t, ended.Err, ErrTransportFailed)
	assert.Eventually(t, h.connection.isClosed, time.Second, 10*time.Millisecond)
}

func TestLeaveEndsCleanly(t *testing.T) {
	h := newSessionHarness(t)
	h.join(t)

	h.session.Leave()

	leave, ok := h.nextSent(t).(signaling.Leave)
	require.True(t, ok)
	assert.Equal(t, signaling.Leave{}, leave)

	ended, ok := h.nextEvent(t).(Ended)
	require.True(t, ok)
	assert.NoError(t, ended.Err)
}
