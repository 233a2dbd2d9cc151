package http

import "github.com/fyrsmithlabs/syspulse/internal/telemetry"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	PID           int                    `json:"pid,omitempty"`
	UptimeSeconds int64                  `json:"uptimeSeconds"`
	Telemetry     telemetry.HealthStatus `json:"telemetry"`
}

// LogRequest is the request body for POST /api/v1/logs.
type LogRequest struct {
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// TelemetryRequest is the request body for PUT /api/v1/telemetry.
type TelemetryRequest struct {
	Enabled    *bool    `json:"enabled"`
	SampleRate *float64 `json:"sampleRate"`
}

// ErrorResponse carries a failed operation's message.
type ErrorResponse struct {
	Error string `json:"error"`
}
