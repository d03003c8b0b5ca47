package peer

import (
	"github.com/pion/webrtc/v3"
)

// A callback that is called each time a new inbound track starts receiving
// media. Runs on pion's goroutine; we only translate and forward.
func (p *Peer[ID]) onTrackReceived(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	info := trackInfoFromRemote(remoteTrack)
	p.logger.WithField("track_id", info.ID).WithField("kind", info.Kind).Info("remote track received")
	p.sink.Send(NewRemoteTrack{Info: info, Track: remoteTrack})
}

// A callback that is called once a local ICE candidate has been gathered.
// A nil candidate means gathering is complete.
func (p *Peer[ID]) onICECandidateGathered(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		p.logger.Debug("ICE candidate gathering finished")
		p.sink.Send(ICEGatheringComplete{})
		return
	}

	p.logger.WithField("candidate", candidate).Debug("ICE candidate gathered")
	p.sink.Send(NewICECandidate{Candidate: candidate.ToJSON()})
}

func (p *Peer[ID]) onConnectionStateChanged(state webrtc.PeerConnectionState) {
	p.logger.WithField("state", state).Debug("connection state changed")

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		p.sink.Send(ConnectionFailed{State: state})
	case webrtc.PeerConnectionStateConnected:
		p.sink.Send(ConnectionEstablished{})
	}
}
