package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that
	// another run already moved out of pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrWallClockTimeout is returned when an agent run exceeds the
	// orchestrator-enforced wall-clock budget, independent of any timeout
	// the runner itself enforces
	ErrWallClockTimeout = errors.New("agent run exceeded wall-clock budget")

	// ErrNoMessages is returned when the agent stream ends without emitting
	// a single message, which usually means a credential or config problem
	ErrNoMessages = errors.New("agent stream produced no messages")

	// ErrAgentExecution is returned when the agent stream reports a
	// terminal failure; the surfaced text is wrapped around it
	ErrAgentExecution = errors.New("agent execution failed")

	// ErrNoResult is returned when the agent reported success but no
	// artifact reference could be extracted or located on disk
	ErrNoResult = errors.New("agent run completed but no deliverable was located")

	// ErrArtifactNotFound is returned by the locator when no candidate
	// path or scan hit matched
	ErrArtifactNotFound = errors.New("artifact file not found")
)
