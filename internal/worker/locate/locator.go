// Package locate finds the generated deliverable file on disk. The agent
// sandbox and the worker do not necessarily share a working directory, so
// a relative path reported by the agent may resolve against any of
// several roots, or against none of them.
package locate

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
)

// Directories never worth descending into during the fallback scan
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".next":        true,
	"vendor":       true,
	".cache":       true,
}

// Locator composes two strategies in sequential fallback: direct probing
// of known roots, then a bounded recursive scan filtered by modification
// time.
type Locator struct {
	roots      []string
	scanRoot   string
	scanWindow time.Duration
	logger     *slog.Logger
}

// New creates a Locator. scanRoot may be empty to disable the fallback
// scan; scanWindow defaults to 30 minutes.
func New(roots []string, scanRoot string, scanWindow time.Duration, logger *slog.Logger) *Locator {
	if scanWindow <= 0 {
		scanWindow = 30 * time.Minute
	}
	return &Locator{
		roots:      roots,
		scanRoot:   scanRoot,
		scanWindow: scanWindow,
		logger:     logger,
	}
}

// Find returns the absolute path of the first expected filename that
// exists, probing every root for every name in order, then falling back
// to the recursive scan. Not-found carries the attempted paths so a miss
// can be debugged without re-running the job.
func (l *Locator) Find(names []string) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("%w: no candidate filenames", domain.ErrArtifactNotFound)
	}

	attempted := make([]string, 0, len(l.roots)*len(names))

	for _, name := range names {
		if filepath.IsAbs(name) {
			if isRegularFile(name) {
				l.logger.Debug("Artifact found at absolute path", slog.String("path", name))
				return name, nil
			}
			attempted = append(attempted, name)
			continue
		}

		for _, root := range l.roots {
			candidate := filepath.Join(root, name)
			if isRegularFile(candidate) {
				l.logger.Debug("Artifact found by direct probe", slog.String("path", candidate))
				return candidate, nil
			}
			attempted = append(attempted, candidate)
		}
	}

	if path := l.scan(names); path != "" {
		return path, nil
	}

	return "", fmt.Errorf("%w: probed %s", domain.ErrArtifactNotFound, strings.Join(attempted, ", "))
}

// scan walks the scan root looking for a recently modified file whose
// base name matches any candidate. The newest match wins, on the theory
// that the file produced by the current run is the freshest one.
func (l *Locator) scan(names []string) string {
	if l.scanRoot == "" {
		return ""
	}

	baseNames := make(map[string]bool, len(names))
	for _, name := range names {
		baseNames[filepath.Base(name)] = true
	}

	cutoff := time.Now().Add(-l.scanWindow)
	var newest string
	var newestMod time.Time

	err := filepath.WalkDir(l.scanRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !baseNames[d.Name()] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			return nil
		}
		if info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Artifact scan failed",
			slog.String("scan_root", l.scanRoot),
			slog.Any("error", err),
		)
		return ""
	}

	if newest != "" {
		l.logger.Info("Artifact found by filesystem scan",
			slog.String("path", newest),
			slog.Time("mod_time", newestMod),
		)
	}

	return newest
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
