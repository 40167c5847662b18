package ports

import (
	"context"

	"github.com/bft-labs/edgeship/internal/domain"
)

// Backend is the remote edge API.
type Backend interface {
	// Probe checks that the backend is reachable and the token accepted.
	Probe(ctx context.Context) error

	// SubmitEvent delivers a record of the events class.
	SubmitEvent(ctx context.Context, ev domain.Event) error

	// SubmitSession delivers a record of the sessions class.
	SubmitSession(ctx context.Context, ev domain.Event) error

	// Heartbeat reports agent health.
	Heartbeat(ctx context.Context, hb domain.Heartbeat) error
}

// AgentMetadata identifies this agent to the backend.
// It is sent as request headers on every call.
type AgentMetadata struct {
	// HubID is the hub (machine) identifier issued at provisioning.
	HubID string

	// Hostname is the agent's hostname.
	Hostname string

	// OSArch is the operating system and architecture (e.g., "linux/arm64").
	OSArch string

	// ServiceURL is the base URL of the edge API.
	ServiceURL string
}
