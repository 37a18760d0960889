package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
)

// Locator finds the generated deliverable on disk when text extraction
// comes up empty.
type Locator interface {
	Find(names []string) (string, error)
}

// Result is the outcome of one successful agent invocation. At least one
// of ArtifactURL (extracted from agent text) or ArtifactPath (located on
// disk) is set.
type Result struct {
	ArtifactURL  string
	ArtifactPath string
	DisplayName  string
	LastOutput   string
	Messages     int
	CostUSD      float64
}

// Runner drives one agent invocation to completion or failure. It
// enforces its own wall-clock ceiling on every received message rather
// than trusting the runner's timeout, because the external sandbox may
// neither terminate nor report reliably.
type Runner struct {
	starter Starter
	locator Locator
	budget  Budget
	logger  *slog.Logger
}

// NewRunner creates a Runner
func NewRunner(starter Starter, locator Locator, budget Budget, logger *slog.Logger) *Runner {
	return &Runner{
		starter: starter,
		locator: locator,
		budget:  budget,
		logger:  logger,
	}
}

// Run executes one unit of agent work for a target URL
func (r *Runner) Run(ctx context.Context, targetURL string) (*Result, error) {
	directive := composeDirective(targetURL)
	start := time.Now()

	// The context deadline gets a grace margin past the budget so a hung
	// stream still unblocks, but the per-message check below is the
	// authoritative timeout.
	runCtx, cancel := context.WithTimeout(ctx, r.budget.WallClock+30*time.Second)
	defer cancel()

	stream, err := r.starter.Start(runCtx, directive, r.budget)
	if err != nil {
		return nil, fmt.Errorf("failed to start agent run: %w", err)
	}
	defer stream.Close()

	extraction := Extraction{IgnoreHost: targetHost(targetURL)}
	var (
		messages      int
		lastOutput    string
		costUSD       float64
		resultSubtype string
		resultText    string
	)

	for {
		msg, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if time.Since(start) >= r.budget.WallClock {
				return nil, fmt.Errorf("%w after %s and %d messages",
					domain.ErrWallClockTimeout, time.Since(start).Round(time.Second), messages)
			}
			return nil, fmt.Errorf("agent stream failed after %d messages: %w", messages, err)
		}

		messages++

		if elapsed := time.Since(start); elapsed > r.budget.WallClock {
			return nil, fmt.Errorf("%w after %s and %d messages",
				domain.ErrWallClockTimeout, elapsed.Round(time.Second), messages)
		}

		switch msg.Type {
		case MessageAssistant:
			if msg.Text != "" {
				lastOutput = msg.Text
				extraction.Scan(msg.Text)
			}
		case MessageResult:
			resultSubtype = msg.Subtype
			resultText = msg.Text
			if msg.TotalCostUSD > 0 {
				costUSD = msg.TotalCostUSD
			}
			r.logger.Debug("Agent result message received",
				slog.String("subtype", msg.Subtype),
				slog.Int("num_turns", msg.NumTurns),
				slog.Float64("total_cost_usd", msg.TotalCostUSD),
			)
		case MessageError:
			resultSubtype = SubtypeError
			if msg.Text != "" {
				resultText = msg.Text
			}
		}
	}

	if messages == 0 {
		return nil, fmt.Errorf("%w: check runner credentials and configuration", domain.ErrNoMessages)
	}

	if resultSubtype == SubtypeError {
		text := resultText
		if text == "" {
			text = lastOutput
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentExecution, text)
	}

	path := r.locateArtifact(targetURL, &extraction)

	if path == "" && extraction.ArtifactURL == "" {
		return nil, fmt.Errorf("%w: %d messages received, last output: %q",
			domain.ErrNoResult, messages, snippet(lastOutput, 200))
	}

	r.logger.Info("Agent run finished",
		slog.Int("messages", messages),
		slog.Float64("cost_usd", costUSD),
		slog.String("artifact_path", path),
		slog.String("artifact_url", extraction.ArtifactURL),
	)

	return &Result{
		ArtifactURL:  extraction.ArtifactURL,
		ArtifactPath: path,
		DisplayName:  extraction.DisplayName,
		LastOutput:   lastOutput,
		Messages:     messages,
		CostUSD:      costUSD,
	}, nil
}

// locateArtifact resolves the on-disk deliverable, preferring any file
// reference the agent mentioned, then both historical filename
// conventions for the target.
func (r *Runner) locateArtifact(targetURL string, extraction *Extraction) string {
	if r.locator == nil {
		return ""
	}

	names := make([]string, 0, 4)
	if extraction.ArtifactFile != "" {
		names = append(names, extraction.ArtifactFile)
		if base := filepath.Base(extraction.ArtifactFile); base != extraction.ArtifactFile {
			names = append(names, base)
		}
	}
	names = append(names, domain.FilenameCandidates(targetURL)...)

	path, err := r.locator.Find(names)
	if err != nil {
		r.logger.Warn("Artifact locator found nothing",
			slog.String("target_url", targetURL),
			slog.Any("candidates", names),
			slog.Any("error", err),
		)
		return ""
	}

	return path
}

func composeDirective(targetURL string) string {
	return fmt.Sprintf(
		"Research the company at %s and generate its go-to-market playbook as a single HTML document. "+
			"Write the finished file into the playbooks directory using the blueprint-gtm-playbook naming convention, "+
			"then print PLAYBOOK_PATH: <path to the file> and COMPANY_NAME: <company display name> on their own lines.",
		targetURL,
	)
}

func targetHost(targetURL string) string {
	raw := targetURL
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so truncation never splits a UTF-8
	// sequence.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
