package locate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: tcp://broker:1883
  publishPrefix: drone
detector:
  url: http://yolo:8000/detect
  minConfidence: 0.8
locate:
  fingerprintSamples: 6
  numDrop: 1
  solver:
    initialRange: 10
    cameraFov: 70
    heights:
      min: 50
      max: 400
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "drone", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "skyfix", cfg.MQTT.ClientID, "defaults survive partial files")
	assert.Equal(t, 0.8, cfg.Detector.MinConfidence)
	assert.Equal(t, DefaultOverpassURL, cfg.Map.OverpassURL)
	assert.Equal(t, 6, cfg.Locate.FingerprintSamples)
	assert.Equal(t, 1, cfg.Locate.NumDrop)
	assert.Equal(t, 10, cfg.Locate.Solver.InitialRange)
	assert.Equal(t, 6.0, cfg.Locate.Solver.AcceptQuality)
	assert.Equal(t, 70.0, cfg.Locate.Solver.CameraFOV)
	assert.Equal(t, HeightRange{Min: 50, Max: 400}, cfg.Locate.Solver.Heights)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"))

	_, err = LoadConfig(writeConfig(t, "detector: [unclosed"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "map:\n  overpassUrl: http://x\n"))
	assert.Error(t, err, "a detector is required")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"min confidence", func(c *Config) { c.Detector.MinConfidence = 1.5 }, nil},
		{"samples", func(c *Config) { c.Locate.FingerprintSamples = 0 }, nil},
		{"num drop", func(c *Config) { c.Locate.NumDrop = 99 }, nil},
		{"outlier keep", func(c *Config) { c.Locate.Solver.OutlierKeep = 1.1 }, ErrInvalidThreshold},
		{"fov", func(c *Config) { c.Locate.Solver.CameraFOV = 180 }, nil},
		{"heights", func(c *Config) { c.Locate.Solver.Heights = HeightRange{Min: 300, Max: 100} }, nil},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Detector.URL = "http://detector"
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("SKYFIX_TRACING_ENABLED", "true")
	t.Setenv("SKYFIX_TRACING_EXPORTER", "otlp")

	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "skyfix", cfg.MQTT.PublishPrefix)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.File = "boxes.json"
	cfg.Locate.Solver.Heights = HeightRange{Min: 10, Max: 500}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Detector, loaded.Detector)
	assert.Equal(t, cfg.Locate, loaded.Locate)
}
