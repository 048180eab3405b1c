package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategorySecurity covers failed logins, credential mismatches and forced
	// session ends.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine session and token lifecycle events.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the broker to capture key actions. It never carries
// secrets: no passwords, application credentials, exchange tokens or
// assertions.
type Event struct {
	Category    EventCategory
	Timestamp   time.Time
	Action      string
	Subject     string // user email when known
	SessionID   string
	Application string
	Reason      string
	RequestID   string
}

type AuditEvent string

const (
	EventSessionCreated      AuditEvent = "session_created"
	EventSessionRevoked      AuditEvent = "session_revoked"
	EventAuthFailed          AuditEvent = "auth_failed"
	EventExchangeTokenIssued AuditEvent = "exchange_token_issued"
	EventTokenIssued         AuditEvent = "token_issued"
	EventExchangeRejected    AuditEvent = "exchange_rejected"
)

// CategoryFor returns the default category for an action.
func CategoryFor(action AuditEvent) EventCategory {
	switch action {
	case EventAuthFailed, EventExchangeRejected, EventSessionRevoked:
		return CategorySecurity
	default:
		return CategoryOperations
	}
}
