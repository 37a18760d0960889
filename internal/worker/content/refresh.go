// Package content keeps the methodology checkout fresh. The checkout is
// shared by every run on the host; a refresh that loses a race or hits
// the network is a warning, not a job failure, because stale-but-present
// instructions beat failing the run over an update conflict.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Refresher updates a git checkout of the instructional content
type Refresher struct {
	dir    string
	remote string
	logger *slog.Logger
}

// NewRefresher creates a Refresher
func NewRefresher(dir, remote string, logger *slog.Logger) *Refresher {
	return &Refresher{
		dir:    dir,
		remote: remote,
		logger: logger,
	}
}

// Refresh pulls the checkout, cloning it first if absent. Callers treat
// any returned error as best-effort and continue with the existing copy.
func (r *Refresher) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := os.Stat(filepath.Join(r.dir, ".git")); err != nil {
		if r.remote == "" {
			return fmt.Errorf("content checkout missing at %s and no remote configured", r.dir)
		}
		return r.clone(ctx)
	}

	// ff-only: concurrent runs must never leave the shared checkout in a
	// merge state.
	cmd := exec.CommandContext(ctx, "git", "-C", r.dir, "pull", "--ff-only")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("content refresh failed: %s: %w", strings.TrimSpace(string(out)), err)
	}

	r.logger.Debug("Content checkout refreshed",
		slog.String("dir", r.dir),
	)

	return nil
}

func (r *Refresher) clone(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", r.remote, r.dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("content clone failed: %s: %w", strings.TrimSpace(string(out)), err)
	}

	r.logger.Info("Content checkout cloned",
		slog.String("dir", r.dir),
	)

	return nil
}
