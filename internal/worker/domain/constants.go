package domain

// Job status constants. Transitions are one-directional:
// pending -> processing -> completed | failed.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Payment status constants
const (
	PaymentStatusNone       = "none"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
)

// Error categories recorded on failed jobs and mapped to user-facing
// messages by the status API.
const (
	CategoryTimeout     = "timeout"
	CategoryRateLimit   = "rate_limit"
	CategoryUnreachable = "unreachable"
	CategoryBlocked     = "blocked"
	CategoryNoResult    = "no_result"
	CategoryUnknown     = "unknown"
)
