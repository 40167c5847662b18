package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

const (
	configEndpoint    = "/api/edge/config"
	eventsEndpoint    = "/api/edge/events"
	sessionsEndpoint  = "/api/edge/sessions"
	heartbeatEndpoint = "/api/edge/heartbeat"

	maxErrorBody = 512
)

// Backend implements ports.Backend over the edge HTTP API.
type Backend struct {
	client ports.HTTPClient
	tokens ports.TokenSource
	meta   ports.AgentMetadata
	logger log.Logger
}

// NewBackend creates a new HTTP backend client.
func NewBackend(client ports.HTTPClient, tokens ports.TokenSource, meta ports.AgentMetadata, logger log.Logger) *Backend {
	if meta.OSArch == "" {
		meta.OSArch = runtime.GOOS + "/" + runtime.GOARCH
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Backend{
		client: client,
		tokens: tokens,
		meta:   meta,
		logger: logger,
	}
}

// hubIdentity is implemented by token sources that also carry the hub ID.
type hubIdentity interface {
	HubID() string
}

// hubID prefers the configured hub ID over the one from the token source.
func (b *Backend) hubID() string {
	if b.meta.HubID != "" {
		return b.meta.HubID
	}
	if h, ok := b.tokens.(hubIdentity); ok {
		return h.HubID()
	}
	return ""
}

// Probe fetches the edge config. Any failure is a ConnectivityError.
func (b *Backend) Probe(ctx context.Context) error {
	if err := b.do(ctx, "probe", http.MethodGet, configEndpoint, nil); err != nil {
		return &domain.ConnectivityError{Err: err}
	}
	return nil
}

type eventBody struct {
	EventType      domain.EventType  `json:"eventType"`
	Amount         *json.Number      `json:"amount,omitempty"`
	Timestamp      string            `json:"timestamp"`
	MachineID      string            `json:"machineId"`
	RawData        string            `json:"rawData"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SubmitEvent posts a money or voucher event.
func (b *Backend) SubmitEvent(ctx context.Context, ev domain.Event) error {
	body := eventBody{
		EventType:      ev.Type,
		Timestamp:      ev.Timestamp.UTC().Format(time.RFC3339Nano),
		MachineID:      ev.MachineID,
		RawData:        ev.RawPayload,
		IdempotencyKey: ev.IdempotencyKey,
		Metadata:       ev.Metadata,
	}
	if ev.Amount != nil {
		n := json.Number(ev.Amount.StringFixed(2))
		body.Amount = &n
	}
	return b.do(ctx, "submit event", http.MethodPost, eventsEndpoint, body)
}

type sessionBody struct {
	Action    string            `json:"action"`
	SessionID string            `json:"sessionId"`
	EventType domain.EventType  `json:"eventType"`
	Timestamp string            `json:"timestamp"`
	MachineID string            `json:"machineId"`
	RawData   string            `json:"rawData"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmitSession posts a session start or end.
func (b *Backend) SubmitSession(ctx context.Context, ev domain.Event) error {
	body := sessionBody{
		Action:    ev.Meta(domain.MetaAction),
		SessionID: ev.Meta(domain.MetaSessionID),
		EventType: ev.Type,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		MachineID: ev.MachineID,
		RawData:   ev.RawPayload,
		Metadata:  ev.Metadata,
	}
	return b.do(ctx, "submit session", http.MethodPost, sessionsEndpoint, body)
}

// Heartbeat posts a health report.
func (b *Backend) Heartbeat(ctx context.Context, hb domain.Heartbeat) error {
	return b.do(ctx, "heartbeat", http.MethodPost, heartbeatEndpoint, hb)
}

func (b *Backend) do(ctx context.Context, op, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &domain.DeliveryError{Op: op, Err: fmt.Errorf("marshal: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.meta.ServiceURL+path, body)
	if err != nil {
		return &domain.DeliveryError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}

	if token := b.tokens.CurrentAccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Agent-Hostname", b.meta.Hostname)
	req.Header.Set("X-Agent-OSArch", b.meta.OSArch)
	if hub := b.hubID(); hub != "" {
		req.Header.Set("X-Hub-Id", hub)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return &domain.DeliveryError{Op: op, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.logger.Debug("backend rejected request",
			log.String("op", op),
			log.Int("status", resp.StatusCode),
		)
		return &domain.DeliveryError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StaticToken is a TokenSource with a fixed token.
type StaticToken string

// CurrentAccessToken returns the token.
func (t StaticToken) CurrentAccessToken() string { return string(t) }
