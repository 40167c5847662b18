package edgeship

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/edgeship/internal/decoder"
	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
)

// DefaultServiceURL is the production edge API.
const DefaultServiceURL = "https://api.edgeship.io"

// Source kinds.
const (
	SourceSerial = "serial"
	SourceSpool  = "spool"
)

// Config configures an Agent.
type Config struct {
	ServiceURL string
	HubID      string

	// Token is a static bearer token. When empty, TokenFile is read and
	// watched for rewrites.
	Token     string
	TokenFile string

	Source      string
	SerialPort  string
	SerialBaud  int
	PrinterPort string

	SpoolPath         string
	SpoolPositionPath string
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
	LineDelimiter   []byte

	InferMissingMachine bool
	BootstrapMachine    int

	// MetricsAddr is the listen address of the /metrics, /status and
	// /healthz server. Empty disables it.
	MetricsAddr string

	// Version is reported in heartbeats.
	Version string
}

// DefaultConfig returns a Config with default values. DBPath, the source
// and the credentials must still be set.
func DefaultConfig() Config {
	return Config{
		ServiceURL:          DefaultServiceURL,
		Source:              SourceSerial,
		SerialBaud:          9600,
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
		AssemblyTimeout:     framer.DefaultAssemblyTimeout,
		InferMissingMachine: true,
		BootstrapMachine:    decoder.DefaultBootstrapMachine,
		Version:             "dev",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")
	if c.ServiceURL == "" {
		return invalid("service URL is required")
	}
	if c.Token == "" && c.TokenFile == "" {
		return invalid("token or token file is required")
	}
	if c.HubID == "" && c.TokenFile == "" {
		return invalid("hub ID is required without a token file")
	}
	if c.DBPath == "" {
		return invalid("database path is required")
	}
	switch c.Source {
	case SourceSerial:
		if c.SerialPort == "" {
			return invalid("serial port is required")
		}
	case SourceSpool:
		if c.SpoolPath == "" {
			return invalid("spool path is required")
		}
		if c.SpoolPositionPath == "" {
			c.SpoolPositionPath = c.SpoolPath + ".pos.json"
		}
	default:
		return invalid("unknown source %q", c.Source)
	}
	if c.SyncInterval <= 0 || c.HeartbeatInterval <= 0 || c.HTTPTimeout <= 0 {
		return invalid("intervals must be positive")
	}
	if c.SyncBatchSize <= 0 || c.MaxAttempts <= 0 {
		return invalid("batch size and max attempts must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c Config) framerConfig() framer.Config {
	cfg := framer.DefaultConfig()
	cfg.AssemblyTimeout = c.AssemblyTimeout
	if len(c.LineDelimiter) > 0 {
		cfg.Delimiter = c.LineDelimiter
	}
	return cfg
}

func (c Config) policy() decoder.Policy {
	return decoder.Policy{
		InferMissingMachine: c.InferMissingMachine,
		BootstrapMachine:    c.BootstrapMachine,
	}
}
