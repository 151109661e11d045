package telemetry

import "time"

// EventPayload is the JSON payload forwarded to the backend and Kafka.
type EventPayload struct {
	Host          string    `json:"host"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason,omitempty"`
	State         string    `json:"state,omitempty"`
	Message       string    `json:"message,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}
