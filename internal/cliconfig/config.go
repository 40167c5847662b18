package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/pkg/log"
)

// DefaultServiceURL is the default backend endpoint.
const DefaultServiceURL = "https://api.edgeship.io"

// Source kinds.
const (
	SourceSerial = "serial"
	SourceSpool  = "spool"
)

// Line delimiter names accepted by LineDelimiter.
const (
	DelimiterCRLF = "crlf"
	DelimiterLF   = "lf"
	DelimiterCR   = "cr"
)

// Config holds CLI configuration for edgeship.
type Config struct {
	DataDir string

	ServiceURL string
	HubID      string
	Token      string
	TokenFile  string

	SerialPort  string
	SerialBaud  int
	PrinterPort string

	Source            string
	SpoolPath         string
	SpoolPositionPath string
	SpoolMaxBytes     int64
	SpoolPollInterval time.Duration

	DBPath     string
	MaxRecords int
	Retention  time.Duration

	SyncInterval     time.Duration
	SyncInitialDelay time.Duration
	SyncBatchSize    int
	MaxAttempts      int
	CleanupInterval  time.Duration

	HeartbeatInterval time.Duration
	HTTPTimeout       time.Duration

	AssemblyTimeout time.Duration
	LineDelimiter   string

	InferMissingMachine bool
	BootstrapMachine    int

	MetricsAddr string

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DataDir:             DefaultDataDir(),
		ServiceURL:          DefaultServiceURL,
		Token:               os.Getenv("EDGESHIP_TOKEN"),
		SerialBaud:          9600,
		Source:              SourceSerial,
		SpoolMaxBytes:       100 << 20, // 100MB
		SpoolPollInterval:   5 * time.Second,
		MaxRecords:          10000,
		Retention:           7 * 24 * time.Hour,
		SyncInterval:        30 * time.Second,
		SyncInitialDelay:    5 * time.Second,
		SyncBatchSize:       10,
		MaxAttempts:         5,
		CleanupInterval:     24 * time.Hour,
		HeartbeatInterval:   30 * time.Second,
		HTTPTimeout:         10 * time.Second,
		AssemblyTimeout:     2 * time.Second,
		LineDelimiter:       DelimiterCRLF,
		InferMissingMachine: true,
		BootstrapMachine:    29,
		MetricsAddr:         "127.0.0.1:9464",
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// DefaultDataDir returns ~/.edgeship, or .edgeship when the home
// directory is unknown.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".edgeship")
	}
	return ".edgeship"
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "outbox.db")
	}
	if c.SpoolPath == "" {
		c.SpoolPath = filepath.Join(c.DataDir, "spool", "serial.raw")
	}
	if c.SpoolPositionPath == "" {
		c.SpoolPositionPath = c.SpoolPath + ".pos.json"
	}
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(c.DataDir, "credentials.env")
	}

	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	switch c.Source {
	case SourceSerial:
		if c.SerialPort == "" {
			return invalid("serial-port is required for the serial source")
		}
	case SourceSpool:
	default:
		return invalid("unknown source %q (want %s or %s)", c.Source, SourceSerial, SourceSpool)
	}
	if _, err := c.Delimiter(); err != nil {
		return err
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"spool-poll-interval", c.SpoolPollInterval},
		{"retention", c.Retention},
		{"sync-interval", c.SyncInterval},
		{"cleanup-interval", c.CleanupInterval},
		{"heartbeat-interval", c.HeartbeatInterval},
		{"http-timeout", c.HTTPTimeout},
		{"assembly-timeout", c.AssemblyTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return invalid("%s must be positive", p.name)
		}
	}
	if c.SyncInitialDelay < 0 {
		return invalid("sync-initial-delay must not be negative")
	}
	if c.SyncBatchSize <= 0 {
		return invalid("sync-batch-size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return invalid("max-attempts must be positive")
	}
	if c.MaxRecords <= 0 {
		return invalid("max-records must be positive")
	}
	if c.SerialBaud <= 0 {
		return invalid("serial-baud must be positive")
	}
	if c.SpoolMaxBytes <= 0 {
		return invalid("spool-max-bytes must be positive")
	}
	if c.BootstrapMachine < 0 {
		return invalid("bootstrap-machine must not be negative")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level: %v", err)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return invalid("log-format must be console or json")
	}
	return nil
}

// Delimiter returns the line delimiter bytes.
func (c *Config) Delimiter() ([]byte, error) {
	switch strings.ToLower(c.LineDelimiter) {
	case "", DelimiterCRLF:
		return []byte("\r\n"), nil
	case DelimiterLF:
		return []byte("\n"), nil
	case DelimiterCR:
		return []byte("\r"), nil
	default:
		return nil, invalid("unknown line-delimiter %q", c.LineDelimiter)
	}
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	if c.Token != "" {
		c.Token = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value, zero included, if not nil and flag not changed.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return nil
	}
	*dst = i
	return nil
}

// setInt64FromString is setIntFromString for int64 destinations.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
