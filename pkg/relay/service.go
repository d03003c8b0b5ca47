package relay

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/meetworks/sightline/pkg/config"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/meetworks/sightline/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Service is the relay process: an HTTP server exposing the signaling
// WebSocket (and optionally the static client assets) in front of a single
// meeting room.
type Service struct {
	logger  *logrus.Entry
	config  config.Relay
	meeting *Meeting
}

func NewService(cfg config.Relay, logger *logrus.Entry) (*Service, error) {
	factory, err := webrtc_ext.NewPeerConnectionFactory(webrtc_ext.Config{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	return &Service{
		logger:  logger,
		config:  cfg,
		meeting: NewMeeting(factory, logger),
	}, nil
}

// Router builds the HTTP surface: the signaling WebSocket and, when
// configured, the static client assets.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", s.handleSignaling)

	if s.config.StaticDir != "" {
		router.StaticFS("/static", http.Dir(s.config.StaticDir))
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(s.config.StaticDir, "index.html"))
		})
	}

	return router
}

// Run serves until the listener fails.
func (s *Service) Run() error {
	s.logger.WithField("addr", s.config.ListenAddr).Info("relay listening")
	return s.Router().Run(s.config.ListenAddr)
}

// handleSignaling upgrades the connection and serves it until it dies. The
// participant is removed from the meeting no matter how the connection ends.
func (s *Service) handleSignaling(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	logger := s.logger.WithField("remote", ws.RemoteAddr().String())
	logger.Info("new signaling connection")

	conn := newConnection(ws, s.config.ClientTimeoutDuration(), logger)
	s.serve(conn)
}

func (s *Service) serve(conn *connection) {
	var participant *Participant

	conn.readLoop(func(message signaling.Message) {
		switch msg := message.(type) {
		case signaling.Join:
			if participant != nil {
				participant.logger.Warn("duplicate join, ignoring")
				return
			}
			participant = s.meeting.Join(msg.Name, conn)

		case signaling.Offer:
			if participant == nil {
				return
			}
			s.meeting.HandleOffer(participant, msg.SDP)

		case signaling.ICECandidate:
			if participant == nil {
				return
			}
			s.meeting.HandleCandidate(participant, msg.Candidate)

		case signaling.AttentionFocus:
			if participant == nil {
				return
			}
			s.meeting.RouteAttention(participant, msg)

		case signaling.Leave:
			conn.close()

		default:
			s.logger.Warnf("unexpected signaling message: %T", msg)
		}
	})

	if participant != nil {
		s.meeting.Remove(participant.ID)
	}
}
