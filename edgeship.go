// Package edgeship provides a lightweight agent that ships a gaming-machine
// controller's printer stream to the edge API.
//
// Example usage:
//
//	cfg := edgeship.DefaultConfig()
//	cfg.HubID = "hub-1"
//	cfg.Token = "machine-token"
//	cfg.SerialPort = "/dev/ttyUSB0"
//	cfg.DBPath = "/var/lib/edgeship/outbox.db"
//	if err := edgeship.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// For control over the lifecycle use pkg/edgeship directly.
package edgeship

import (
	"context"
	"errors"

	agent "github.com/bft-labs/edgeship/pkg/edgeship"
)

// Config holds the configuration for the agent.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = agent.Config

// Option configures optional behavior of the agent.
type Option = agent.Option

// ErrCrashed is returned by Run when the agent stops on its own.
var ErrCrashed = errors.New("edgeship: agent crashed")

// DefaultConfig returns a Config with sensible default values.
// At minimum, set a token (with HubID) or a token file, the serial port
// and DBPath.
func DefaultConfig() Config {
	return agent.DefaultConfig()
}

// Run starts the agent and blocks until ctx is cancelled, then stops it
// gracefully. It returns ErrCrashed if the agent fails while running.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	// The agent gets its own context so Stop can send the final heartbeat.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	for {
		changed := a.Changed()
		if a.Status() == agent.StateCrashed {
			return ErrCrashed
		}
		select {
		case <-ctx.Done():
			return a.Stop()
		case <-changed:
		}
	}
}
