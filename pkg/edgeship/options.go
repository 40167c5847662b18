package edgeship

import (
	"github.com/bft-labs/edgeship/internal/adapters/fs"
	"github.com/bft-labs/edgeship/internal/adapters/serial"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

type (
	// HTTPClient is the interface for making HTTP requests.
	// *http.Client satisfies this interface.
	HTTPClient = ports.HTTPClient

	// Logger is the interface for structured logging.
	Logger = log.Logger

	// LogField is a structured log field.
	LogField = log.Field

	// ArchiveCleanupConfig controls removal of rotated spool archives.
	ArchiveCleanupConfig = fs.ArchiveCleanupConfig

	// SerialOpener opens a serial port. Tests inject a fake.
	SerialOpener = serial.Opener
)

// Option configures optional behavior of an Agent.
type Option func(*options)

type options struct {
	httpClient    ports.HTTPClient
	logger        log.Logger
	eventHandler  EventHandler
	archiveConfig *fs.ArchiveCleanupConfig
	opener        serial.Opener
}

// WithHTTPClient sets a custom HTTP client for API communication.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for agent events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithArchiveCleanup enables removal of old spool archives next to
// Config.SpoolPath. It only applies to the spool source.
func WithArchiveCleanup(cfg ArchiveCleanupConfig) Option {
	return func(o *options) {
		o.archiveConfig = &cfg
	}
}

// WithSerialOpener replaces the function used to open serial ports for
// both the source and the printer pass-through.
func WithSerialOpener(open SerialOpener) Option {
	return func(o *options) {
		o.opener = open
	}
}
