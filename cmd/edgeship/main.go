package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/edgeship/internal/cliconfig"
	"github.com/bft-labs/edgeship/pkg/edgeship"
	"github.com/bft-labs/edgeship/pkg/log"
)

const helpDescription = `
Capture a gaming-machine controller's printer stream and ship it to the edge API.

Highlights:
  - Decodes daily summaries, vouchers and session markers into typed events.
  - Stores every event in a local SQLite outbox before delivery, so nothing
    is lost while the network is down.
  - Reconnects to the serial port with backoff and can mirror the stream
    to a real printer.
  - Configure via file, env (EDGESHIP_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  edgeship --serial-port /dev/ttyUSB0 --hub-id hub-1 --token <token>
  edgeship capture --serial-port /dev/ttyUSB0
  edgeship run --source spool
  edgeship replay ~/.edgeship/spool/serial.raw.20260101T000000Z.zst
  edgeship status
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// cli holds state shared by every subcommand.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	logger  *log.ZerologAdapter
}

// load applies the config file, then EDGESHIP_* variables, then flags,
// validates the result and builds the logger.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	logger, err := log.NewZerologAdapterFor(os.Stderr, c.cfg.LogFormat, c.cfg.LogLevel)
	if err != nil {
		return err
	}
	c.logger = logger
	zl := logger.Logger()
	zl.Debug().Interface("config", c.cfg.Masked()).Msg("configuration")
	return nil
}

// loadLocal is load for commands that never open the serial port.
func (c *cli) loadLocal(cmd *cobra.Command) error {
	if c.cfg.Source == cliconfig.SourceSerial && c.cfg.SerialPort == "" {
		c.cfg.Source = cliconfig.SourceSpool
	}
	return c.load(cmd)
}

// agentConfig converts the CLI configuration to the library's.
func agentConfig(cfg cliconfig.Config) (edgeship.Config, error) {
	delim, err := cfg.Delimiter()
	if err != nil {
		return edgeship.Config{}, err
	}
	out := edgeship.Config{
		ServiceURL:          cfg.ServiceURL,
		HubID:               cfg.HubID,
		Token:               cfg.Token,
		TokenFile:           cfg.TokenFile,
		Source:              cfg.Source,
		SerialPort:          cfg.SerialPort,
		SerialBaud:          cfg.SerialBaud,
		PrinterPort:         cfg.PrinterPort,
		SpoolPath:           cfg.SpoolPath,
		SpoolPositionPath:   cfg.SpoolPositionPath,
		SpoolPollInterval:   cfg.SpoolPollInterval,
		DBPath:              cfg.DBPath,
		MaxRecords:          cfg.MaxRecords,
		Retention:           cfg.Retention,
		SyncInterval:        cfg.SyncInterval,
		SyncInitialDelay:    cfg.SyncInitialDelay,
		SyncBatchSize:       cfg.SyncBatchSize,
		MaxAttempts:         cfg.MaxAttempts,
		CleanupInterval:     cfg.CleanupInterval,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		HTTPTimeout:         cfg.HTTPTimeout,
		AssemblyTimeout:     cfg.AssemblyTimeout,
		LineDelimiter:       delim,
		InferMissingMachine: cfg.InferMissingMachine,
		BootstrapMachine:    cfg.BootstrapMachine,
		MetricsAddr:         cfg.MetricsAddr,
		Version:             getVersion(),
	}
	return out, nil
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: cliconfig.DefaultConfig()}

	root := &cobra.Command{
		Use:           "edgeship",
		Short:         "Capture a gaming-machine controller's printer stream and ship it to the edge API",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root.PersistentFlags(), c)

	run := newRunCmd(c)
	root.RunE = run.RunE
	root.AddCommand(
		run,
		newCaptureCmd(c),
		newReplayCmd(c),
		newStatusCmd(c),
		newSyncCmd(c),
		newCleanupCmd(c),
		newPortsCmd(),
	)
	return root
}

func bindFlags(fs *pflag.FlagSet, c *cli) {
	cfg := &c.cfg
	fs.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.edgeship/config.toml)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the outbox, spool and credentials")

	fs.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, fmt.Sprintf("edge API base URL (defaults to %s)", cliconfig.DefaultServiceURL))
	fs.StringVar(&cfg.HubID, "hub-id", cfg.HubID, "hub identifier (default: MACHINE_ID from the token file)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "static bearer token")
	fs.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "credentials file with MACHINE_TOKEN, watched for rewrites")

	fs.StringVar(&cfg.Source, "source", cfg.Source, "byte source: serial or spool")
	fs.StringVar(&cfg.SerialPort, "serial-port", cfg.SerialPort, "controller serial port")
	fs.IntVar(&cfg.SerialBaud, "serial-baud", cfg.SerialBaud, "serial baud rate")
	fs.StringVar(&cfg.PrinterPort, "printer-port", cfg.PrinterPort, "mirror raw bytes to this printer port (optional)")

	fs.StringVar(&cfg.SpoolPath, "spool-path", cfg.SpoolPath, "spool file written by capture (default: <data-dir>/spool/serial.raw)")
	fs.StringVar(&cfg.SpoolPositionPath, "spool-position-path", cfg.SpoolPositionPath, "spool read position file")
	fs.Int64Var(&cfg.SpoolMaxBytes, "spool-max-bytes", cfg.SpoolMaxBytes, "rotate the spool past this size")
	fs.DurationVar(&cfg.SpoolPollInterval, "spool-poll-interval", cfg.SpoolPollInterval, "spool poll interval")

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "outbox database (default: <data-dir>/outbox.db)")
	fs.IntVar(&cfg.MaxRecords, "max-records", cfg.MaxRecords, "outbox row cap")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "how long synced records are kept")

	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "sync tick interval")
	fs.DurationVar(&cfg.SyncInitialDelay, "sync-initial-delay", cfg.SyncInitialDelay, "delay before the first sync")
	fs.IntVar(&cfg.SyncBatchSize, "sync-batch-size", cfg.SyncBatchSize, "records per class per tick")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "delivery attempts before a record is left for inspection")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "outbox sweep interval")

	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "heartbeat interval")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout")

	fs.DurationVar(&cfg.AssemblyTimeout, "assembly-timeout", cfg.AssemblyTimeout, "voucher assembly deadline")
	fs.StringVar(&cfg.LineDelimiter, "line-delimiter", cfg.LineDelimiter, "line delimiter: crlf, lf or cr")
	fs.BoolVar(&cfg.InferMissingMachine, "infer-missing-machine", cfg.InferMissingMachine, "attribute unmarked summary lines to the last known machine")
	fs.IntVar(&cfg.BootstrapMachine, "bootstrap-machine", cfg.BootstrapMachine, "machine assumed before any marker (0 disables)")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address for /metrics and /status (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")

	_ = fs.MarkHidden("service-url")
	_ = fs.MarkHidden("spool-position-path")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		boot := log.NewZerolog(os.Stderr, log.FormatConsole, zerolog.InfoLevel)
		boot.Error().Err(err).Msg("edgeship")
		os.Exit(1)
	}
}
