package signaling_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Starts a websocket server that decodes every inbound frame into received.
func startRecordingServer(t *testing.T) (string, <-chan signaling.Message) {
	t.Helper()

	received := make(chan signaling.Message, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if message, err := signaling.Unmarshal(data); err == nil {
				received <- message
			}
		}
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http"), received
}

func connectChannel(t *testing.T, url string) *signaling.Channel {
	t.Helper()

	channel, err := signaling.Connect(signaling.Options{URL: url}, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(channel.Close)
	return channel
}

func TestCloseFlushesQueuedMessages(t *testing.T) {
	url, received := startRecordingServer(t)
	channel := connectChannel(t, url)

	require.NoError(t, channel.Send(signaling.Join{Name: "alice"}))
	require.NoError(t, channel.Send(signaling.Leave{}))
	channel.Close()

	for _, expected := range []signaling.Message{signaling.Join{Name: "alice"}, signaling.Leave{}} {
		select {
		case message := <-received:
			assert.Equal(t, expected, message)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %T queued before Close never reached the relay", expected)
		}
	}
}

func TestSendAfterCloseIsRejected(t *testing.T) {
	url, _ := startRecordingServer(t)
	channel := connectChannel(t, url)

	channel.Close()

	assert.ErrorIs(t, channel.Send(signaling.Leave{}), signaling.ErrChannelClosed)
	select {
	case <-channel.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
}
