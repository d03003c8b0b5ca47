package relay

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/meetworks/sightline/pkg/peer"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// How often to ask a publisher for a keyframe while one of its video tracks
// is being forwarded.
const pliInterval = 500 * time.Millisecond

// Participant is one meeting member on the relay side: its signaling
// connection, its server-side peer connection and the fan-out copies of the
// tracks it publishes.
type Participant struct {
	ID   string
	Name string

	logger *logrus.Entry
	conn   *connection

	mutex sync.Mutex
	pc    *webrtc.PeerConnection
	// Fan-out copies of this participant's published tracks, by kind. Each
	// participant publishes at most one track per kind.
	published map[peer.TrackKind]*webrtc.TrackLocalStaticRTP
	// IDs of the fan-out tracks already attached to this participant's
	// peer connection.
	subscribed map[string]bool
}

func newParticipant(id, name string, conn *connection, logger *logrus.Entry) *Participant {
	return &Participant{
		ID:         id,
		Name:       name,
		logger:     logger,
		conn:       conn,
		published:  make(map[peer.TrackKind]*webrtc.TrackLocalStaticRTP),
		subscribed: make(map[string]bool),
	}
}

// publishedTracks returns a snapshot of the fan-out tracks this participant
// currently publishes.
func (p *Participant) publishedTracks() map[peer.TrackKind]*webrtc.TrackLocalStaticRTP {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return maps.Clone(p.published)
}

// subscribe attaches a fan-out track to this participant's peer connection
// unless it already carries it. Reports whether anything was added.
func (p *Participant) subscribe(track *webrtc.TrackLocalStaticRTP) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.pc == nil || p.subscribed[track.ID()] {
		return false, nil
	}

	if _, err := p.pc.AddTrack(track); err != nil {
		return false, err
	}
	p.subscribed[track.ID()] = true
	return true, nil
}

// onInboundTrack starts forwarding a track the participant just published.
// The fan-out copy is handed to the meeting when subscribers are wired up.
func (p *Participant) onInboundTrack(remote *webrtc.TrackRemote) {
	kind := peer.TrackKindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = peer.TrackKindVideo
	}

	logger := p.logger.WithFields(logrus.Fields{"track_id": remote.ID(), "kind": kind})

	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		logger.WithError(err).Error("failed to create fan-out track")
		return
	}

	p.mutex.Lock()
	p.published[kind] = local
	pc := p.pc
	p.mutex.Unlock()

	logger.Info("forwarding published track")

	if kind == peer.TrackKindVideo && pc != nil {
		go p.sendPLI(pc, remote)
	}
	go p.copyRTP(remote, local, logger)
}

// Periodically requests a keyframe from the publisher so late subscribers
// get a decodable stream quickly.
func (p *Participant) sendPLI(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.conn.closed():
			return
		case <-ticker.C:
			packets := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}}
			if err := pc.WriteRTCP(packets); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					p.logger.WithError(err).Warn("ending PLI loop for track")
				}
				return
			}
		}
	}
}

// Pumps RTP from the publisher into the fan-out track until either side
// goes away.
func (p *Participant) copyRTP(remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP, logger *logrus.Entry) {
	var packet *rtp.Packet
	for {
		var err error
		packet, _, err = remote.ReadRTP()
		if err != nil {
			logger.WithError(err).Debug("publisher track ended")
			return
		}

		if err := local.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			logger.WithError(err).Warn("failed to forward RTP packet")
			return
		}
	}
}

// closeMedia tears down the peer connection and the signaling connection.
func (p *Participant) closeMedia() {
	p.mutex.Lock()
	pc := p.pc
	p.pc = nil
	p.published = make(map[peer.TrackKind]*webrtc.TrackLocalStaticRTP)
	p.mutex.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			p.logger.WithError(err).Warn("failed to close peer connection")
		}
	}
	p.conn.close()
}
