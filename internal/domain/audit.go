package domain

import "time"

// QueryAudit is one query's analytics entry, published after the response is
// built. It never carries the response payload, only routing facts.
type QueryAudit struct {
	RequestID    string    `json:"request_id"`
	Query        string    `json:"query"`
	ResponseType string    `json:"response_type"`
	WarningCount int       `json:"warning_count"`
	DurationMS   int64     `json:"duration_ms"`
	ReceivedAt   time.Time `json:"received_at"`
}
