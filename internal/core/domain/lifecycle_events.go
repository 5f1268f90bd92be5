package domain

import (
	"time"
)

// ResolutionEvent records the outcome of routing one request.
// Events are published to diagnostics sinks (logs, metrics, audit storage).
type ResolutionEvent struct {
	ID           string              `json:"id" db:"id"`
	Type         ResolutionEventType `json:"type" db:"type"`
	RequestID    string              `json:"request_id,omitempty" db:"request_id"`
	Host         string              `json:"host" db:"host"`
	ServiceID    string              `json:"service_id,omitempty" db:"service_id"`
	TenantID     string              `json:"tenant_id,omitempty" db:"tenant_id"`
	Destination  string              `json:"destination,omitempty" db:"destination"`
	OriginDomain string              `json:"origin_domain" db:"origin_domain"`
	Error        string              `json:"error,omitempty" db:"error"`
	Timestamp    time.Time           `json:"timestamp" db:"created_at"`
}

// ResolutionEventType identifies how a request was resolved.
type ResolutionEventType string

const (
	ResolutionEventResolved           ResolutionEventType = "resolution.resolved"
	ResolutionEventMalformedHost      ResolutionEventType = "resolution.malformed_host"
	ResolutionEventNotFound           ResolutionEventType = "resolution.not_found"
	ResolutionEventLookupFailed       ResolutionEventType = "resolution.lookup_failed"
	ResolutionEventInvalidDestination ResolutionEventType = "resolution.invalid_destination"
)

// IsFallback reports whether the event type ends on the fallback path.
func (t ResolutionEventType) IsFallback() bool {
	return t != ResolutionEventResolved
}

// Outcome returns the short label used for metrics.
func (t ResolutionEventType) Outcome() string {
	switch t {
	case ResolutionEventResolved:
		return "resolved"
	case ResolutionEventMalformedHost:
		return "malformed_host"
	case ResolutionEventNotFound:
		return "not_found"
	case ResolutionEventLookupFailed:
		return "lookup_failed"
	case ResolutionEventInvalidDestination:
		return "invalid_destination"
	}
	return "unknown"
}
