package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/meetworks/sightline/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Client configuration.
type Config struct {
	// Signaling relay connection.
	Signaling Signaling `yaml:"signaling"`
	// Attention fusion tuning.
	Attention Attention `yaml:"attention"`
	// Relay server settings, used by the relay binary only.
	Relay Relay `yaml:"relay"`
	// Telemetry (tracing) configuration.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
}

type Signaling struct {
	// WebSocket URL of the relay, e.g. ws://localhost:8080/ws.
	URL string `yaml:"url"`
	// Display name announced on join.
	DisplayName string `yaml:"displayName"`
	// How often to ping the relay (seconds).
	PingInterval int `yaml:"pingInterval"`
	// After which time without a pong the connection is considered dead (seconds).
	PingTimeout int `yaml:"pingTimeout"`
	// STUN/TURN servers handed to the peer connection.
	ICEServers []string `yaml:"iceServers"`
}

type Attention struct {
	// Fixed fusion tick interval (milliseconds).
	TickInterval int `yaml:"tickInterval"`
	// How long a gaze target must be held before it is announced (milliseconds).
	DwellThreshold int `yaml:"dwellThreshold"`
	// Mean amplitude (0-255) above which the user counts as speaking.
	VoiceThreshold float64 `yaml:"voiceThreshold"`
	// How long the signal must stay below the threshold before the
	// speaking state is released (milliseconds).
	SilenceGrace int `yaml:"silenceGrace"`
	// Clicks required on each calibration point.
	CalibrationClicks int `yaml:"calibrationClicks"`
}

type Relay struct {
	// Address the relay listens on, e.g. ":8080".
	ListenAddr string `yaml:"listenAddr"`
	// Directory with the static client assets. Empty disables serving them.
	StaticDir string `yaml:"staticDir"`
	// STUN/TURN servers handed to the relay-side peer connections.
	ICEServers []string `yaml:"iceServers"`
	// After how long without any inbound frame a client connection is
	// considered dead (seconds).
	ClientTimeout int `yaml:"clientTimeout"`
}

func (r Relay) ClientTimeoutDuration() time.Duration {
	return time.Duration(r.ClientTimeout) * time.Second
}

func (s Signaling) PingIntervalDuration() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

func (s Signaling) PingTimeoutDuration() time.Duration {
	return time.Duration(s.PingTimeout) * time.Second
}

func (a Attention) TickIntervalDuration() time.Duration {
	return time.Duration(a.TickInterval) * time.Millisecond
}

func (a Attention) DwellThresholdDuration() time.Duration {
	return time.Duration(a.DwellThreshold) * time.Millisecond
}

func (a Attention) SilenceGraceDuration() time.Duration {
	return time.Duration(a.SilenceGrace) * time.Millisecond
}

// Values used wherever the configuration leaves a field unset.
func Default() Config {
	return Config{
		Signaling: Signaling{
			URL:          "ws://localhost:8080/ws",
			DisplayName:  "Anonymous",
			PingInterval: 30,
			PingTimeout:  10,
		},
		Attention: Attention{
			TickInterval:      100,
			DwellThreshold:    2000,
			VoiceThreshold:    15,
			SilenceGrace:      300,
			CalibrationClicks: 5,
		},
		Relay: Relay{
			ListenAddr:    ":8080",
			ClientTimeout: 60,
		},
		LogLevel: "info",
	}
}

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config
// could not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string. Unset fields fall back to defaults;
// nonsensical values are rejected.
func LoadConfigFromString(configString string) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if config.Signaling.URL == "" ||
		config.Attention.TickInterval <= 0 ||
		config.Attention.DwellThreshold <= 0 ||
		config.Attention.VoiceThreshold <= 0 ||
		config.Attention.SilenceGrace < 0 ||
		config.Attention.CalibrationClicks <= 0 ||
		config.Relay.ListenAddr == "" ||
		config.Relay.ClientTimeout <= 0 {
		return nil, errors.New("invalid config values")
	}

	return &config, nil
}
