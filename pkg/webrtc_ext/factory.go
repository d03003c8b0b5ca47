package webrtc_ext

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Configuration of the WebRTC API.
type Config struct {
	// STUN/TURN servers handed to the peer connection.
	ICEServers []string `yaml:"iceServers"`
}

// Peer connection factory is used to construct new (pre-configured) peer
// connections sharing a single API instance. The client wraps the result in
// the negotiation state machine; the relay drives it directly.
type PeerConnectionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPeerConnectionFactory(config Config) (*PeerConnectionFactory, error) {
	api, err := createWebRTCAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC API: %w", err)
	}

	var iceServers []webrtc.ICEServer
	for _, url := range config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &PeerConnectionFactory{
		api:    api,
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// Creates a peer connection with the shared, pre-configured API.
func (f *PeerConnectionFactory) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.config)
}

// Creates Pion's WebRTC API with the default codecs and the default RTP/RTCP
// interceptor pipeline (NACKs, RTCP reports etc).
func createWebRTCAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to set default interceptors: %w", err)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry)), nil
}
