// Package edgeship provides an embeddable edge agent for a serial-attached
// gaming-machine controller.
//
// The agent decodes the controller's printer stream into money, voucher and
// session events, stores them in a local SQLite outbox and delivers them to
// the backend whenever it is reachable.
//
// # Basic Usage
//
//	cfg := edgeship.DefaultConfig()
//	cfg.SerialPort = "/dev/ttyUSB0"
//	cfg.HubID = "hub-1"
//	cfg.Token = "machine-token"
//	cfg.DBPath = "/var/lib/edgeship/outbox.db"
//
//	agent, err := edgeship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := agent.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := agent.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Sources
//
// With SourceSerial the agent reads the port directly and reconnects with
// backoff when the device disappears. With SourceSpool it follows a spool
// file written by a separate capture process, resuming from a persisted
// offset after a restart.
//
// # Event Handling
//
// Implement [EventHandler] and pass it via [WithEventHandler] to observe
// lifecycle transitions, stored events and sync ticks. Handlers are called
// synchronously and should return quickly.
//
// # Lifecycle States
//
// An Agent is in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping] or [StateCrashed]. Use [Agent.Status] to
// query it.
package edgeship
