package signaling_test

import (
	"testing"

	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	messages := []signaling.Message{
		signaling.Join{Name: "alice"},
		signaling.Joined{
			ParticipantID: "a1",
			Participants:  []signaling.ParticipantInfo{{ID: "b2", Name: "bob"}},
		},
		signaling.ParticipantJoined{Participant: signaling.ParticipantInfo{ID: "c3", Name: "carol"}},
		signaling.ParticipantLeft{ParticipantID: "b2"},
		signaling.Offer{SDP: "v=0 offer"},
		signaling.Answer{SDP: "v=0 answer"},
		signaling.Renegotiate{SDP: "v=0 renegotiate"},
		signaling.RequestOffer{Reason: "new tracks available"},
		signaling.ICECandidate{Candidate: signaling.Candidate{
			Candidate:     "candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host",
			SDPMid:        "0",
			SDPMLineIndex: 0,
		}},
		signaling.AttentionFocus{TargetID: "b2", Active: true},
		signaling.AttentionFocus{Active: false, FromName: "alice"},
		signaling.Leave{},
	}

	for _, message := range messages {
		data, err := signaling.Marshal(message)
		require.NoError(t, err)

		decoded, err := signaling.Unmarshal(data)
		require.NoError(t, err, "failed on %s", data)
		assert.Equal(t, message, decoded)
	}
}

func TestEnvelopeCarriesTypeTag(t *testing.T) {
	data, err := signaling.Marshal(signaling.Offer{SDP: "v=0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(data))
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := signaling.Unmarshal([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)

	_, err = signaling.Unmarshal([]byte(`{"no":"type"}`))
	assert.Error(t, err)

	_, err = signaling.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
