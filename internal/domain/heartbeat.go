package domain

import "time"

// HeartbeatShuttingDown is the Status of the final heartbeat sent on stop.
const HeartbeatShuttingDown = "shutting_down"

// Heartbeat is the periodic health report sent to the backend.
type Heartbeat struct {
	PiVersion          string     `json:"piVersion"`
	Uptime             int64      `json:"uptime"`
	SerialConnected    bool       `json:"serialConnected"`
	LastDataReceived   *time.Time `json:"lastDataReceived"`
	QueueSize          int64      `json:"queueSize"`
	Online             bool       `json:"online"`
	LastSuccessfulSync *time.Time `json:"lastSuccessfulSync"`
	Status             string     `json:"status,omitempty"`
}
