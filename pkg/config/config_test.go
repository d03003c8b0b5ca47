package config_test

import (
	"testing"
	"time"

	"github.com/meetworks/sightline/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfigFromString("signaling:\n  url: ws://relay:8080/ws\n")
	require.NoError(t, err)

	assert.Equal(t, "ws://relay:8080/ws", cfg.Signaling.URL)

	// Untouched sections keep their defaults.
	defaults := config.Default()
	assert.Equal(t, defaults.Attention, cfg.Attention)
	assert.Equal(t, defaults.LogLevel, cfg.LogLevel)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := config.LoadConfigFromString(
		"attention:\n  dwellThreshold: 1000\n  calibrationClicks: 3\nlog: debug\n")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Attention.DwellThresholdDuration())
	assert.Equal(t, 3, cfg.Attention.CalibrationClicks)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []string{
		"signaling:\n  url: \"\"\n",
		"attention:\n  tickInterval: -1\n",
		"attention:\n  calibrationClicks: 0\n",
		"not: [valid yaml",
	}

	for _, c := range cases {
		_, err := config.LoadConfigFromString(c)
		assert.Error(t, err, "config %q should be rejected", c)
	}
}
