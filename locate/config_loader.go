package locate

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the unified service configuration
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty" json:"mqtt"`
	Detector DetectorConfig `yaml:"detector" json:"detector"`
	Map      MapConfig      `yaml:"map" json:"map"`
	Locate   ResolverConfig `yaml:"locate" json:"locate"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty" json:"tracing"`
	Render   RenderConfig   `yaml:"render,omitempty" json:"render"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// DetectorConfig selects and configures the building detector
type DetectorConfig struct {
	URL           string  `yaml:"url" json:"url"`                       // inference endpoint
	File          string  `yaml:"file,omitempty" json:"file,omitempty"` // precomputed detections, overrides URL
	MinConfidence float64 `yaml:"minConfidence" json:"minConfidence"`
	TimeoutSec    int     `yaml:"timeoutSec,omitempty" json:"timeoutSec,omitempty"`
	MaxRetries    int     `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// MapConfig configures the map-data provider
type MapConfig struct {
	OverpassURL string `yaml:"overpassUrl" json:"overpassUrl"`
	TimeoutSec  int    `yaml:"timeoutSec,omitempty" json:"timeoutSec,omitempty"`
	MaxRetries  int    `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// RenderConfig holds overlay rendering settings
type RenderConfig struct {
	Resolution float64 `yaml:"resolution,omitempty" json:"resolution,omitempty"` // PNG DPI
	MapColor   string  `yaml:"mapColor,omitempty" json:"mapColor,omitempty"`
	PhotoColor string  `yaml:"photoColor,omitempty" json:"photoColor,omitempty"`
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	locate := DefaultResolverConfig()
	locate.Solver.CameraFOV = 84
	return &Config{
		MQTT: MQTTConfig{PublishPrefix: "skyfix", ClientID: "skyfix"},
		Detector: DetectorConfig{
			MinConfidence: DefaultMinConfidence,
			MaxRetries:    DefaultMaxRetries,
		},
		Map: MapConfig{
			OverpassURL: DefaultOverpassURL,
			MaxRetries:  DefaultMaxRetries,
		},
		Locate:  locate,
		Tracing: TracingConfig{Exporter: "stdout", ServiceName: "skyfix", SampleRatio: 1},
		Render:  RenderConfig{Resolution: 150},
	}
}

// LoadConfig loads the configuration from a YAML file. Values missing from
// the file keep their defaults; MQTT settings may be overridden from the
// environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	ApplyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if c.Detector.URL == "" && c.Detector.File == "" {
		return fmt.Errorf("detector.url or detector.file is required")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.minConfidence must be between 0 and 1, got %v", c.Detector.MinConfidence)
	}
	if c.Locate.FingerprintSamples < 1 {
		return fmt.Errorf("locate.fingerprintSamples must be positive, got %d", c.Locate.FingerprintSamples)
	}
	if c.Locate.NumDrop < 0 || c.Locate.NumDrop > c.Locate.FingerprintSamples {
		return fmt.Errorf("locate.numDrop must be between 0 and fingerprintSamples, got %d", c.Locate.NumDrop)
	}
	s := c.Locate.Solver
	if s.OutlierKeep < 0 || s.OutlierKeep > 1 {
		return fmt.Errorf("locate.solver.outlierKeep: %w", ErrInvalidThreshold)
	}
	if s.CameraFOV < 0 || s.CameraFOV >= 180 {
		return fmt.Errorf("locate.solver.cameraFov must be in [0, 180), got %v", s.CameraFOV)
	}
	if s.Heights.Max > 0 && s.Heights.Min > s.Heights.Max {
		return fmt.Errorf("locate.solver.heights: min %v above max %v", s.Heights.Min, s.Heights.Max)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// ApplyEnvOverrides replaces MQTT and tracing settings with any of
// MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD,
// MQTT_PUBLISH_PREFIX, SKYFIX_TRACING_ENABLED and SKYFIX_TRACING_EXPORTER
// that are set.
func ApplyEnvOverrides(c *Config) {
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envString("MQTT_BROKER", &c.MQTT.Broker)
	envString("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	envString("MQTT_USERNAME", &c.MQTT.Username)
	envString("MQTT_PASSWORD", &c.MQTT.Password)
	envString("MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix)
	envString("SKYFIX_TRACING_EXPORTER", &c.Tracing.Exporter)
	if v := os.Getenv("SKYFIX_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Tracing.Enabled = b
		}
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
