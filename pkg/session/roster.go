package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/meetworks/sightline/pkg/peer"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// Participant is one remote member of the call, together with the inbound
// tracks attributed to it so far. Each real participant contributes at most
// one track per kind.
type Participant struct {
	ID        string
	Name      string
	Synthetic bool
	tracks    map[peer.TrackKind]peer.TrackInfo
}

// Tracks returns the media bundle attributed to this participant.
func (p Participant) Tracks() map[peer.TrackKind]peer.TrackInfo {
	return maps.Clone(p.tracks)
}

func (p *Participant) hasTrack(kind peer.TrackKind) bool {
	_, ok := p.tracks[kind]
	return ok
}

// Roster is the arrival-ordered set of remote participants. It is mutated
// only from the session loop; readers get snapshots.
type Roster struct {
	logger       *logrus.Entry
	participants []*Participant
}

func NewRoster(logger *logrus.Entry) *Roster {
	return &Roster{logger: logger}
}

// Add registers a participant at the end of the arrival order. Duplicate ids
// are ignored; the relay should never send them.
func (r *Roster) Add(id, name string) *Participant {
	if existing, ok := r.Get(id); ok {
		r.logger.WithField("participant_id", id).Warn("duplicate participant join")
		return existing
	}

	participant := &Participant{
		ID:     id,
		Name:   name,
		tracks: make(map[peer.TrackKind]peer.TrackInfo),
	}
	r.participants = append(r.participants, participant)
	return participant
}

// Remove drops a participant from the roster, returning it if it was known.
func (r *Roster) Remove(id string) (*Participant, bool) {
	participant, ok := r.Get(id)
	if !ok {
		return nil, false
	}

	r.participants = lo.Reject(r.participants, func(p *Participant, _ int) bool {
		return p.ID == id
	})
	return participant, true
}

func (r *Roster) Get(id string) (*Participant, bool) {
	return lo.Find(r.participants, func(p *Participant) bool { return p.ID == id })
}

// Participants returns a deep snapshot of the roster in arrival order. The
// entries own cloned track bundles, so a snapshot taken under the session
// lock stays safe to read while the loop keeps attributing tracks.
func (r *Roster) Participants() []Participant {
	return lo.Map(r.participants, func(p *Participant, _ int) Participant {
		snapshot := *p
		snapshot.tracks = maps.Clone(p.tracks)
		return snapshot
	})
}

func (r *Roster) Size() int {
	return len(r.participants)
}

// Attribute attaches an inbound track to a participant. Track metadata does
// not carry a participant id, so the first participant in arrival order whose
// bundle lacks a track of this kind gets it. When every participant already
// has one (an attribution race, or a track we never expected), a synthetic
// anonymous participant is created instead so the track is never dropped.
// A given track is attributed exactly once.
func (r *Roster) Attribute(info peer.TrackInfo) *Participant {
	participant, found := lo.Find(r.participants, func(p *Participant) bool {
		return !p.hasTrack(info.Kind)
	})

	if !found {
		participant = r.Add(syntheticID(), "")
		participant.Synthetic = true
		r.logger.WithFields(logrus.Fields{
			"track_id": info.ID,
			"kind":     info.Kind,
		}).Warn("no participant awaiting this track, attaching to a synthetic one")
	}

	participant.tracks[info.Kind] = info
	return participant
}

func syntheticID() string {
	return fmt.Sprintf("anon-%s", uuid.NewString()[:8])
}
