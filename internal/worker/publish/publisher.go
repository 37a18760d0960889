// Package publish uploads a located artifact to the static-hosting
// deployment API and returns its stable public URL.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Error carries the upstream HTTP status and body of a failed deploy
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish failed with status %d: %s", e.StatusCode, e.Body)
}

// Publisher deploys artifact content to the hosting platform. A publish
// failure never escapes the orchestrator uncaught; the caller isolates it
// and falls back to any URL already extracted from agent text.
type Publisher struct {
	endpoint   string
	token      string
	domain     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(endpoint, token, domain string, logger *slog.Logger) *Publisher {
	return &Publisher{
		endpoint:   endpoint,
		token:      token,
		domain:     domain,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

type deployFile struct {
	File string `json:"file"`
	Data string `json:"data"`
}

type deployRequest struct {
	Name  string       `json:"name"`
	Files []deployFile `json:"files"`
}

type deployResponse struct {
	ID string `json:"id"`
}

// Publish uploads the artifact HTML under the slug plus a routing rule so
// the extensionless slug resolves to it. Returns the public URL.
func (p *Publisher) Publish(ctx context.Context, content []byte, slug string) (string, error) {
	reqBody := deployRequest{
		Name: slug,
		Files: []deployFile{
			{File: slug + ".html", Data: string(content)},
			{File: "hosting.json", Data: routingConfig(slug)},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal deploy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deploy request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var deploy deployResponse
	if err := json.Unmarshal(body, &deploy); err != nil {
		p.logger.Warn("Deploy response was not valid JSON, proceeding with deterministic URL",
			slog.Any("error", err),
		)
	}

	url := fmt.Sprintf("https://%s/%s", p.domain, slug)

	p.logger.Info("Artifact published",
		slog.String("slug", slug),
		slog.String("deployment_id", deploy.ID),
		slog.String("url", url),
		slog.Int("bytes", len(content)),
	)

	return url, nil
}

func routingConfig(slug string) string {
	cfg := map[string]any{
		"rewrites": []map[string]string{
			{"source": "/" + slug, "destination": "/" + slug + ".html"},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}
