package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Client talks to the external agent runner over HTTP. A run is started
// with a single POST; the response body is a line-delimited JSON stream
// of messages that stays open for the lifetime of the run.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a runner client. The http.Client carries no timeout;
// stream lifetime is governed by the caller's context.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type startRequest struct {
	Directive      string  `json:"directive"`
	MaxTurns       int     `json:"max_turns,omitempty"`
	MaxCostUSD     float64 `json:"max_cost_usd,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// Start begins a streaming run
func (c *Client) Start(ctx context.Context, directive string, budget Budget) (Stream, error) {
	reqBody := startRequest{
		Directive:      directive,
		MaxTurns:       budget.MaxTurns,
		MaxCostUSD:     budget.MaxCostUSD,
		TimeoutSeconds: int(budget.WallClock.Seconds()),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent runner connection failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("agent runner returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug("Agent run started",
		slog.Int("directive_len", len(directive)),
	)

	scanner := bufio.NewScanner(resp.Body)
	// Assistant messages can carry whole document fragments
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &httpStream{body: resp.Body, scanner: scanner}, nil
}

type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpStream) Next() (*Message, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode stream message: %w", err)
		}
		return &msg, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("agent stream read failed: %w", err)
	}

	return nil, io.EOF
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
