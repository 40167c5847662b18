package edgeship_test

import (
	"fmt"
	"net/http"

	"github.com/bft-labs/edgeship/pkg/edgeship"
)

// ExampleNew demonstrates how to embed the agent in your application.
func ExampleNew() {
	cfg := edgeship.DefaultConfig()
	cfg.HubID = "hub-1"
	cfg.Token = "machine-token"
	cfg.SerialPort = "/dev/ttyUSB0"
	cfg.DBPath = "/var/lib/edgeship/outbox.db"

	agent, err := edgeship.New(cfg)
	if err != nil {
		fmt.Printf("failed to create agent: %v\n", err)
		return
	}

	fmt.Printf("Initial state: %s\n", agent.Status())

	// Output: Initial state: Stopped
}

// Example_withEventHandler demonstrates how to receive agent events.
func Example_withEventHandler() {
	cfg := edgeship.DefaultConfig()
	cfg.HubID = "hub-1"
	cfg.TokenFile = "/etc/edgeship/credentials.env"
	cfg.Source = edgeship.SourceSpool
	cfg.SpoolPath = "/var/lib/edgeship/spool/serial.raw"
	cfg.DBPath = "/var/lib/edgeship/outbox.db"

	agent, err := edgeship.New(cfg, edgeship.WithEventHandler(&printingHandler{}))
	if err != nil {
		fmt.Printf("failed to create agent: %v\n", err)
		return
	}

	_ = agent
}

// printingHandler implements edgeship.EventHandler.
type printingHandler struct {
	edgeship.BaseEventHandler
}

func (h *printingHandler) OnStateChange(event edgeship.StateChangeEvent) {
	fmt.Printf("State changed: %s -> %s (reason: %s)\n",
		event.Previous, event.Current, event.Reason)
}

func (h *printingHandler) OnEventStored(event edgeship.StoredEvent) {
	fmt.Printf("Stored #%d: %s for %s\n", event.ID, event.Event.Type, event.Event.MachineID)
}

// Example_withHTTPClient demonstrates dependency injection of the HTTP client.
func Example_withHTTPClient() {
	cfg := edgeship.DefaultConfig()
	cfg.HubID = "hub-1"
	cfg.Token = "machine-token"
	cfg.SerialPort = "/dev/ttyUSB0"
	cfg.DBPath = "/var/lib/edgeship/outbox.db"

	agent, err := edgeship.New(cfg, edgeship.WithHTTPClient(&http.Client{}))
	if err != nil {
		fmt.Printf("failed to create agent: %v\n", err)
		return
	}

	_ = agent
}
