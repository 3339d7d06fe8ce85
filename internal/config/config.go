package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Ingest      IngestConfig      `yaml:"ingest"`
	HTTP        HTTPConfig        `yaml:"http"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Audio       AudioConfig       `yaml:"audio"`
	Queue       QueueConfig       `yaml:"queue"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// IngestConfig contains the device-facing listeners
type IngestConfig struct {
	Datagram DatagramConfig `yaml:"datagram"`
	Session  SessionConfig  `yaml:"session"`
}

// DatagramConfig contains UDP (streaming mode) listener configuration
type DatagramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BindAddress   string `yaml:"bind_address"`
	Port          int    `yaml:"port"`
	BufferSize    int    `yaml:"buffer_size"`    // socket read buffer, bytes
	MaxDatagram   int    `yaml:"max_datagram"`   // largest datagram accepted, bytes
	StreamTimeout int    `yaml:"stream_timeout"` // seconds of silence before a device stream expires
}

// SessionConfig contains TCP (push-to-talk session mode) listener configuration
type SessionConfig struct {
	Enabled               bool   `yaml:"enabled"`
	BindAddress           string `yaml:"bind_address"`
	Port                  int    `yaml:"port"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
	IdleTimeout           int    `yaml:"idle_timeout"` // seconds without bytes before a session is cut
}

// HTTPConfig contains the HTTP listener hosting the API and the viewer gateway
type HTTPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// GatewayConfig contains viewer WebSocket gateway behaviour
type GatewayConfig struct {
	OutboxSize     int   `yaml:"outbox_size"`     // queued outbound frames per viewer
	ReadLimit      int64 `yaml:"read_limit"`      // bytes per inbound frame
	StatusMessages bool  `yaml:"status_messages"` // send status strings to the individual viewer
	Echo           bool  `yaml:"echo"`            // relay unrecognized frames to subscribers
}

// AudioConfig contains the fixed device audio format and segmenting parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	BitDepth        int     `yaml:"bit_depth"`
	SegmentDuration float64 `yaml:"segment_duration"`  // seconds, streaming mode
	MaxSegmentBytes int     `yaml:"max_segment_bytes"` // session mode cap
}

// QueueConfig contains segment queue and bridge sizing
type QueueConfig struct {
	Size       int `yaml:"size"`
	BridgeSize int `yaml:"bridge_size"`
}

// RecognitionConfig contains speech recognition backend configuration
type RecognitionConfig struct {
	Provider      string `yaml:"provider"` // "http", "openai" or "static"
	Language      string `yaml:"language"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	StaticText    string `yaml:"static_text"`
}

// PlaybackConfig contains local monitoring of received audio
type PlaybackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ShutdownConfig contains lifecycle timing
type ShutdownConfig struct {
	JoinTimeout int `yaml:"join_timeout"` // seconds per component
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a key is absent from the file.
// Ports and audio format match the push-to-talk firmware and the viewer page.
func Default() Config {
	return Config{
		Ingest: IngestConfig{
			Datagram: DatagramConfig{
				Enabled:       true,
				BindAddress:   "0.0.0.0",
				Port:          12345,
				BufferSize:    65536,
				MaxDatagram:   8192,
				StreamTimeout: 60,
			},
			Session: SessionConfig{
				Enabled:               true,
				BindAddress:           "0.0.0.0",
				Port:                  12345,
				MaxConcurrentSessions: 16,
				IdleTimeout:           15,
			},
		},
		HTTP: HTTPConfig{
			Address: "0.0.0.0",
			Port:    8765,
		},
		Gateway: GatewayConfig{
			OutboxSize: 64,
			ReadLimit:  4096,
		},
		Audio: AudioConfig{
			SampleRate:      8000,
			Channels:        1,
			BitDepth:        8,
			SegmentDuration: 3.0,
			MaxSegmentBytes: 80000,
		},
		Queue: QueueConfig{
			Size:       64,
			BridgeSize: 256,
		},
		Recognition: RecognitionConfig{
			Provider:      "http",
			Language:      "pt-BR",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 1,
			Model:         "whisper-1",
		},
		Shutdown: ShutdownConfig{
			JoinTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv lets secrets stay out of the YAML file
func (c *Config) applyEnv() {
	if key := os.Getenv("VOZ_RECOGNITION_API_KEY"); key != "" {
		c.Recognition.APIKey = key
	}
	if c.Recognition.Provider == "openai" && c.Recognition.APIKey == "" {
		c.Recognition.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if c.Shutdown.JoinTimeout < 1 {
		return fmt.Errorf("shutdown config: join_timeout must be at least 1 second, got %d", c.Shutdown.JoinTimeout)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates ingest configuration
func (i *IngestConfig) Validate() error {
	if !i.Datagram.Enabled && !i.Session.Enabled {
		return fmt.Errorf("at least one of datagram or session ingest must be enabled")
	}

	if i.Datagram.Enabled {
		d := i.Datagram
		if err := validatePort("datagram port", d.Port); err != nil {
			return err
		}
		if d.BindAddress == "" {
			return fmt.Errorf("datagram bind_address cannot be empty")
		}
		if d.BufferSize < 1024 {
			return fmt.Errorf("datagram buffer_size must be at least 1024 bytes, got %d", d.BufferSize)
		}
		if d.MaxDatagram < 1 || d.MaxDatagram > 65507 {
			return fmt.Errorf("datagram max_datagram must be between 1 and 65507 bytes, got %d", d.MaxDatagram)
		}
		if d.StreamTimeout < 1 {
			return fmt.Errorf("datagram stream_timeout must be at least 1 second, got %d", d.StreamTimeout)
		}
	}

	if i.Session.Enabled {
		s := i.Session
		if err := validatePort("session port", s.Port); err != nil {
			return err
		}
		if s.BindAddress == "" {
			return fmt.Errorf("session bind_address cannot be empty")
		}
		if s.MaxConcurrentSessions < 1 {
			return fmt.Errorf("session max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
		}
		if s.IdleTimeout < 1 {
			return fmt.Errorf("session idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
		}
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if err := validatePort("http port", h.Port); err != nil {
		return err
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	return nil
}

// Validate validates gateway configuration
func (g *GatewayConfig) Validate() error {
	if g.OutboxSize < 1 {
		return fmt.Errorf("outbox_size must be at least 1, got %d", g.OutboxSize)
	}

	if g.ReadLimit < 64 {
		return fmt.Errorf("read_limit must be at least 64 bytes, got %d", g.ReadLimit)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 1000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 1000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 8 && a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 8 or 16, got %d", a.BitDepth)
	}

	if a.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration must be positive, got %f", a.SegmentDuration)
	}

	if a.MaxSegmentBytes < a.SegmentThreshold() {
		return fmt.Errorf("max_segment_bytes (%d) must be at least one streaming segment (%d bytes)",
			a.MaxSegmentBytes, a.SegmentThreshold())
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.Size < 1 {
		return fmt.Errorf("size must be at least 1, got %d", q.Size)
	}

	if q.BridgeSize < 1 {
		return fmt.Errorf("bridge_size must be at least 1, got %d", q.BridgeSize)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	if r.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	switch r.Provider {
	case "http":
		if r.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
		if r.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
		}
	case "openai":
		if r.APIKey == "" {
			return fmt.Errorf("api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
		if r.Model == "" {
			return fmt.Errorf("model cannot be empty for the openai provider")
		}
	case "static":
	default:
		return fmt.Errorf("provider must be one of [http, openai, static], got '%s'", r.Provider)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.Enabled && p.Path == "" {
		return fmt.Errorf("path cannot be empty when playback is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json', 'text' or 'console', got '%s'", l.Format)
	}

	return nil
}

func validatePort(name string, port int) error {
	// 0 asks the kernel for an ephemeral port
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, port)
	}
	return nil
}

// SegmentThreshold returns the streaming segment size in bytes
func (a *AudioConfig) SegmentThreshold() int {
	bytesPerSecond := float64(a.SampleRate * a.Channels * (a.BitDepth / 8))
	return int(bytesPerSecond * a.SegmentDuration)
}

// GetStreamTimeoutDuration returns the datagram stream expiry as a time.Duration
func (d *DatagramConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(d.StreamTimeout) * time.Second
}

// GetIdleTimeoutDuration returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the recognition timeout as a time.Duration
func (r *RecognitionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetJoinTimeoutDuration returns the per-component join timeout as a time.Duration
func (s *ShutdownConfig) GetJoinTimeoutDuration() time.Duration {
	return time.Duration(s.JoinTimeout) * time.Second
}

// ListenAddress returns the HTTP listen address
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
