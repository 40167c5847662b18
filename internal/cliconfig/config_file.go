package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir string `toml:"data_dir"`

	ServiceURL string `toml:"service_url"`
	HubID      string `toml:"hub_id"`
	Token      string `toml:"token"`
	TokenFile  string `toml:"token_file"`

	SerialPort  string `toml:"serial_port"`
	SerialBaud  int    `toml:"serial_baud"`
	PrinterPort string `toml:"printer_port"`

	Source            string `toml:"source"`
	SpoolPath         string `toml:"spool_path"`
	SpoolPositionPath string `toml:"spool_position_path"`
	SpoolMaxBytes     int64  `toml:"spool_max_bytes"`
	SpoolPollInterval string `toml:"spool_poll_interval"`

	DBPath     string `toml:"db_path"`
	MaxRecords int    `toml:"max_records"`
	Retention  string `toml:"retention"`

	SyncInterval     string `toml:"sync_interval"`
	SyncInitialDelay string `toml:"sync_initial_delay"`
	SyncBatchSize    int    `toml:"sync_batch_size"`
	MaxAttempts      int    `toml:"max_attempts"`
	CleanupInterval  string `toml:"cleanup_interval"`

	HeartbeatInterval string `toml:"heartbeat_interval"`
	HTTPTimeout       string `toml:"http_timeout"`

	AssemblyTimeout string `toml:"assembly_timeout"`
	LineDelimiter   string `toml:"line_delimiter"`

	InferMissingMachine *bool `toml:"infer_missing_machine"`
	BootstrapMachine    *int  `toml:"bootstrap_machine"`

	MetricsAddr string `toml:"metrics_addr"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.edgeship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".edgeship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("hub-id", fc.HubID, &cfg.HubID)
	s.setString("token", fc.Token, &cfg.Token)
	s.setString("token-file", fc.TokenFile, &cfg.TokenFile)
	s.setString("serial-port", fc.SerialPort, &cfg.SerialPort)
	s.setString("printer-port", fc.PrinterPort, &cfg.PrinterPort)
	s.setString("source", fc.Source, &cfg.Source)
	s.setString("spool-path", fc.SpoolPath, &cfg.SpoolPath)
	s.setString("spool-position-path", fc.SpoolPositionPath, &cfg.SpoolPositionPath)
	s.setString("db-path", fc.DBPath, &cfg.DBPath)
	s.setString("line-delimiter", fc.LineDelimiter, &cfg.LineDelimiter)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"spool-poll-interval", fc.SpoolPollInterval, &cfg.SpoolPollInterval},
		{"retention", fc.Retention, &cfg.Retention},
		{"sync-interval", fc.SyncInterval, &cfg.SyncInterval},
		{"sync-initial-delay", fc.SyncInitialDelay, &cfg.SyncInitialDelay},
		{"cleanup-interval", fc.CleanupInterval, &cfg.CleanupInterval},
		{"heartbeat-interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
		{"assembly-timeout", fc.AssemblyTimeout, &cfg.AssemblyTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("serial-baud", fc.SerialBaud, &cfg.SerialBaud)
	s.setInt("max-records", fc.MaxRecords, &cfg.MaxRecords)
	s.setInt("sync-batch-size", fc.SyncBatchSize, &cfg.SyncBatchSize)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)
	s.setInt64("spool-max-bytes", fc.SpoolMaxBytes, &cfg.SpoolMaxBytes)
	s.setIntPtr("bootstrap-machine", fc.BootstrapMachine, &cfg.BootstrapMachine)

	s.setBool("infer-missing-machine", fc.InferMissingMachine, &cfg.InferMissingMachine)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
