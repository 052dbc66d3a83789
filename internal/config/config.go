package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slaclab/bldDecode/internal/protocol"
	"github.com/slaclab/bldDecode/internal/schema"
)

// Config represents the complete decoder configuration
type Config struct {
	Receiver ReceiverConfig `yaml:"receiver"`
	Filter   FilterConfig   `yaml:"filter"`
	Schema   SchemaConfig   `yaml:"schema"`
	Display  DisplayConfig  `yaml:"display"`
	Report   ReportConfig   `yaml:"report"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ReceiverConfig contains UDP receiver configuration
type ReceiverConfig struct {
	Address      string `yaml:"address"` // multicast group, ignored when unicast
	Port         int    `yaml:"port"`
	Unicast      bool   `yaml:"unicast"`
	BufferSize   int    `yaml:"buffer_size"`   // socket receive buffer, bytes
	PollInterval int    `yaml:"poll_interval"` // read deadline granularity, milliseconds
	IdleTimeout  int    `yaml:"idle_timeout"`  // seconds without an accepted datagram, 0 disables
	MaxPackets   int64  `yaml:"max_packets"`   // datagrams to receive before exiting, 0 is unlimited
}

// FilterConfig selects which datagrams, events and channels are processed
type FilterConfig struct {
	Version      int64   `yaml:"version"`       // negative matches any version
	SeverityMask *uint64 `yaml:"severity_mask"` // nil disables the severity filter
	Channels     []int   `yaml:"channels"`      // external channel numbers to display
	Events       []int   `yaml:"events"`        // event indices to display, 0 is the primary frame
}

// Schema sources
const (
	SchemaSourceNone = "none"
	SchemaSourceFile = "file"
	SchemaSourceHTTP = "http"
)

// SchemaConfig describes where the channel schema comes from
type SchemaConfig struct {
	Source   string `yaml:"source"`
	Name     string `yaml:"name"`  // record name, such as the payload PV
	Field    string `yaml:"field"` // sub-structure listing the channels
	Path     string `yaml:"path"`
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"` // seconds
	Formats  string `yaml:"formats"` // "f,u,i" list, used when source is none
}

// DisplayConfig controls console output
type DisplayConfig struct {
	ShowData bool `yaml:"show_data"`
	Quiet    bool `yaml:"quiet"`
	Verbose  bool `yaml:"verbose"`
}

// ReportConfig controls error report generation
type ReportConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Output     string `yaml:"output"`
	Format     string `yaml:"format"`
	MaxEntries int    `yaml:"max_entries"` // 0 keeps every entry
}

// HTTPConfig contains HTTP status API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Receiver: ReceiverConfig{
			Address:      "224.0.0.0",
			Port:         protocol.DefaultPort,
			BufferSize:   1 << 20,
			PollInterval: 1000,
		},
		Filter: FilterConfig{
			Version: -1,
		},
		Schema: SchemaConfig{
			Source:  SchemaSourceNone,
			Field:   schema.DefaultField,
			Timeout: int(schema.DefaultLookupTimeout / time.Second),
		},
		Report: ReportConfig{
			Output: "report.json",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a configuration file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter config: %w", err)
	}

	if err := c.Schema.Validate(); err != nil {
		return fmt.Errorf("schema config: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates receiver configuration
func (r *ReceiverConfig) Validate() error {
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", r.Port)
	}

	if !r.Unicast {
		ip := net.ParseIP(r.Address)
		if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
			return fmt.Errorf("address must be an IPv4 multicast group, got '%s'", r.Address)
		}
	}

	if r.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", r.BufferSize)
	}

	if r.PollInterval < 10 {
		return fmt.Errorf("poll_interval must be at least 10 ms, got %d", r.PollInterval)
	}

	if r.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", r.IdleTimeout)
	}

	if r.MaxPackets < 0 {
		return fmt.Errorf("max_packets cannot be negative, got %d", r.MaxPackets)
	}

	return nil
}

// Validate validates filter configuration
func (f *FilterConfig) Validate() error {
	if f.Version > 0xFFFFFFFF {
		return fmt.Errorf("version must fit in 32 bits, got 0x%X", f.Version)
	}

	for _, ch := range f.Channels {
		if ch < 0 || ch >= protocol.MaxChannels {
			return fmt.Errorf("invalid channel index %d", ch)
		}
	}

	for _, ev := range f.Events {
		if ev < 0 {
			return fmt.Errorf("invalid event number %d", ev)
		}
	}

	return nil
}

// Validate validates schema configuration
func (s *SchemaConfig) Validate() error {
	switch s.Source {
	case SchemaSourceNone, "":
		if s.Name != "" {
			return fmt.Errorf("schema name '%s' needs a source, set --schema-file or --schema-url", s.Name)
		}
		if s.Formats != "" {
			if _, err := schema.FromFormats(s.Formats); err != nil {
				return err
			}
		}
		return nil
	case SchemaSourceFile:
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty when source is 'file'")
		}
	case SchemaSourceHTTP:
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty when source is 'http'")
		}
	default:
		return fmt.Errorf("source must be one of [none, file, http], got '%s'", s.Source)
	}

	if s.Name == "" {
		return fmt.Errorf("name cannot be empty when source is '%s'", s.Source)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates report configuration
func (r *ReportConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.Output == "" {
		return fmt.Errorf("output cannot be empty when the report is enabled")
	}

	validFormats := map[string]bool{"json": true, "cbor": true}
	if !validFormats[r.Format] {
		return fmt.Errorf("format must be 'json' or 'cbor', got '%s'", r.Format)
	}

	if r.MaxEntries < 0 {
		return fmt.Errorf("max_entries cannot be negative, got %d", r.MaxEntries)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration. Output may be stdout, stderr or a file path.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ListenAddress returns the host:port the receiver binds
func (r *ReceiverConfig) ListenAddress() string {
	if r.Unicast {
		return fmt.Sprintf(":%d", r.Port)
	}
	return net.JoinHostPort(r.Address, fmt.Sprint(r.Port))
}

// GetPollInterval returns the read deadline granularity as a time.Duration
func (r *ReceiverConfig) GetPollInterval() time.Duration {
	return time.Duration(r.PollInterval) * time.Millisecond
}

// GetIdleTimeout returns the idle timeout as a time.Duration, zero when disabled
func (r *ReceiverConfig) GetIdleTimeout() time.Duration {
	return time.Duration(r.IdleTimeout) * time.Second
}

// GetTimeoutDuration returns the schema lookup timeout as a time.Duration
func (s *SchemaConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
