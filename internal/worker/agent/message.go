package agent

import (
	"context"
	"time"
)

// Message kinds emitted by the agent runner stream
const (
	MessageAssistant = "assistant"
	MessageResult    = "result"
	MessageError     = "error"
)

// Result message subtypes
const (
	SubtypeSuccess = "success"
	SubtypeError   = "error"
)

// Message is one event from a streaming agent run. Messages are consumed
// transiently; later messages are the source of truth because the agent
// may self-correct.
type Message struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype,omitempty"`
	Text         string  `json:"text,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

// Budget bounds a single agent invocation
type Budget struct {
	WallClock  time.Duration
	MaxTurns   int
	MaxCostUSD float64
}

// Stream yields messages from a running agent invocation. Next returns
// io.EOF when the stream ends.
type Stream interface {
	Next() (*Message, error)
	Close() error
}

// Starter begins a streaming agent invocation for a composed directive
type Starter interface {
	Start(ctx context.Context, directive string, budget Budget) (Stream, error)
}
