package cliconfig

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (EDGESHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("EDGESHIP_DATA_DIR"), &cfg.DataDir)
	s.setString("service-url", os.Getenv("EDGESHIP_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("hub-id", os.Getenv("EDGESHIP_HUB_ID"), &cfg.HubID)
	s.setString("token", os.Getenv("EDGESHIP_TOKEN"), &cfg.Token)
	s.setString("token-file", os.Getenv("EDGESHIP_TOKEN_FILE"), &cfg.TokenFile)
	s.setString("serial-port", os.Getenv("EDGESHIP_SERIAL_PORT"), &cfg.SerialPort)
	s.setString("printer-port", os.Getenv("EDGESHIP_PRINTER_PORT"), &cfg.PrinterPort)
	s.setString("source", os.Getenv("EDGESHIP_SOURCE"), &cfg.Source)
	s.setString("spool-path", os.Getenv("EDGESHIP_SPOOL_PATH"), &cfg.SpoolPath)
	s.setString("spool-position-path", os.Getenv("EDGESHIP_SPOOL_POSITION_PATH"), &cfg.SpoolPositionPath)
	s.setString("db-path", os.Getenv("EDGESHIP_DB_PATH"), &cfg.DBPath)
	s.setString("line-delimiter", os.Getenv("EDGESHIP_LINE_DELIMITER"), &cfg.LineDelimiter)
	s.setString("metrics-addr", os.Getenv("EDGESHIP_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", os.Getenv("EDGESHIP_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("EDGESHIP_LOG_FORMAT"), &cfg.LogFormat)

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"spool-poll-interval", "EDGESHIP_SPOOL_POLL_INTERVAL", &cfg.SpoolPollInterval},
		{"retention", "EDGESHIP_RETENTION", &cfg.Retention},
		{"sync-interval", "EDGESHIP_SYNC_INTERVAL", &cfg.SyncInterval},
		{"sync-initial-delay", "EDGESHIP_SYNC_INITIAL_DELAY", &cfg.SyncInitialDelay},
		{"cleanup-interval", "EDGESHIP_CLEANUP_INTERVAL", &cfg.CleanupInterval},
		{"heartbeat-interval", "EDGESHIP_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"http-timeout", "EDGESHIP_HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"assembly-timeout", "EDGESHIP_ASSEMBLY_TIMEOUT", &cfg.AssemblyTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"serial-baud", "EDGESHIP_SERIAL_BAUD", &cfg.SerialBaud},
		{"max-records", "EDGESHIP_MAX_RECORDS", &cfg.MaxRecords},
		{"sync-batch-size", "EDGESHIP_SYNC_BATCH_SIZE", &cfg.SyncBatchSize},
		{"max-attempts", "EDGESHIP_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"bootstrap-machine", "EDGESHIP_BOOTSTRAP_MACHINE", &cfg.BootstrapMachine},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}
	if err := s.setInt64FromString("spool-max-bytes", os.Getenv("EDGESHIP_SPOOL_MAX_BYTES"), &cfg.SpoolMaxBytes); err != nil {
		return err
	}

	s.setBoolFromString("infer-missing-machine", os.Getenv("EDGESHIP_INFER_MISSING_MACHINE"), &cfg.InferMissingMachine)

	return nil
}
