package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	messages []*Message
	finalErr error
	delay    time.Duration
	idx      int
	closed   bool
}

func (s *fakeStream) Next() (*Message, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.idx >= len(s.messages) {
		if s.finalErr != nil {
			return nil, s.finalErr
		}
		return nil, io.EOF
	}
	msg := s.messages[s.idx]
	s.idx++
	return msg, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeStarter struct {
	stream    *fakeStream
	err       error
	directive string
}

func (f *fakeStarter) Start(_ context.Context, directive string, _ Budget) (Stream, error) {
	f.directive = directive
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeLocator struct {
	path  string
	err   error
	names []string
}

func (f *fakeLocator) Find(names []string) (string, error) {
	f.names = names
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBudget() Budget {
	return Budget{WallClock: time.Minute, MaxTurns: 50, MaxCostUSD: 5}
}

func assistant(text string) *Message {
	return &Message{Type: MessageAssistant, Text: text}
}

func TestRunner_Run_Success(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{messages: []*Message{
		assistant("Researching https://owner.com/pricing now."),
		assistant("PLAYBOOK_PATH: playbooks/blueprint-gtm-playbook-owner-com.html"),
		assistant("COMPANY_NAME: Owner"),
		{Type: MessageResult, Subtype: SubtypeSuccess, NumTurns: 12, TotalCostUSD: 1.75},
	}}}
	locator := &fakeLocator{path: "/runs/playbooks/blueprint-gtm-playbook-owner-com.html"}

	runner := NewRunner(starter, locator, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.NoError(t, err)
	assert.Equal(t, "/runs/playbooks/blueprint-gtm-playbook-owner-com.html", res.ArtifactPath)
	assert.Equal(t, "Owner", res.DisplayName)
	assert.Equal(t, 4, res.Messages)
	assert.InDelta(t, 1.75, res.CostUSD, 0.001)
	assert.True(t, starter.stream.closed)

	// The agent-mentioned path is probed first, then its base name, then
	// both filename conventions for the target.
	require.NotEmpty(t, locator.names)
	assert.Equal(t, "playbooks/blueprint-gtm-playbook-owner-com.html", locator.names[0])
	assert.Contains(t, locator.names, "blueprint-gtm-playbook-owner-com.html")
	assert.Contains(t, locator.names, "blueprint-gtm-playbook-owner.html")
}

func TestRunner_Run_StartFailure(t *testing.T) {
	starter := &fakeStarter{err: fmt.Errorf("connect: connection refused")}

	runner := NewRunner(starter, &fakeLocator{}, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "failed to start agent run")
}

func TestRunner_Run_EmptyStream(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{}}

	runner := NewRunner(starter, &fakeLocator{}, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.ErrorIs(t, err, domain.ErrNoMessages)
	assert.Nil(t, res)
}

func TestRunner_Run_AgentError(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{messages: []*Message{
		assistant("Trying to load the site."),
		{Type: MessageResult, Subtype: SubtypeError, Text: "target returned 403 Forbidden"},
	}}}

	runner := NewRunner(starter, &fakeLocator{}, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.ErrorIs(t, err, domain.ErrAgentExecution)
	assert.Contains(t, err.Error(), "403 Forbidden")
	assert.Nil(t, res)
	assert.Equal(t, domain.CategoryBlocked, domain.CategoryFor(err))
}

func TestRunner_Run_WallClockTimeout(t *testing.T) {
	stream := &fakeStream{
		delay: 25 * time.Millisecond,
		messages: []*Message{
			assistant("still working"),
			assistant("still working"),
			assistant("still working"),
		},
	}
	budget := Budget{WallClock: 10 * time.Millisecond}

	runner := NewRunner(&fakeStarter{stream: stream}, &fakeLocator{}, budget, testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.ErrorIs(t, err, domain.ErrWallClockTimeout)
	assert.Nil(t, res)
	assert.Equal(t, domain.CategoryTimeout, domain.CategoryFor(err))
}

func TestRunner_Run_StreamFailure(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{
		messages: []*Message{assistant("partial output")},
		finalErr: fmt.Errorf("unexpected EOF"),
	}}

	runner := NewRunner(starter, &fakeLocator{}, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "agent stream failed")
}

func TestRunner_Run_URLFallbackWhenLocatorMisses(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{messages: []*Message{
		assistant("Published the playbook at https://playbooks.example.net/owner-com"),
		{Type: MessageResult, Subtype: SubtypeSuccess},
	}}}
	locator := &fakeLocator{err: domain.ErrArtifactNotFound}

	runner := NewRunner(starter, locator, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.NoError(t, err)
	assert.Empty(t, res.ArtifactPath)
	assert.Equal(t, "https://playbooks.example.net/owner-com", res.ArtifactURL)
}

func TestRunner_Run_NoResult(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{messages: []*Message{
		assistant("I could not find enough material to produce a playbook."),
		{Type: MessageResult, Subtype: SubtypeSuccess},
	}}}
	locator := &fakeLocator{err: domain.ErrArtifactNotFound}

	runner := NewRunner(starter, locator, testBudget(), testLogger())
	res, err := runner.Run(context.Background(), "https://owner.com")

	require.ErrorIs(t, err, domain.ErrNoResult)
	assert.Nil(t, res)
	assert.Equal(t, domain.CategoryNoResult, domain.CategoryFor(err))
}

func TestSnippet(t *testing.T) {
	t.Run("short input unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", snippet("hello", 10))
	})

	t.Run("ascii truncation", func(t *testing.T) {
		assert.Equal(t, "hello...", snippet("hello world", 5))
	})

	t.Run("multibyte input stays valid utf-8", func(t *testing.T) {
		s := strings.Repeat("é", 10)

		got := snippet(s, 5)

		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, "éé...", got)
	})
}

func TestRunner_Run_DirectiveMentionsTarget(t *testing.T) {
	starter := &fakeStarter{stream: &fakeStream{messages: []*Message{
		assistant("PLAYBOOK_PATH: blueprint-gtm-playbook-owner-com.html"),
		{Type: MessageResult, Subtype: SubtypeSuccess},
	}}}
	locator := &fakeLocator{path: "/tmp/blueprint-gtm-playbook-owner-com.html"}

	runner := NewRunner(starter, locator, testBudget(), testLogger())
	_, err := runner.Run(context.Background(), "https://owner.com")

	require.NoError(t, err)
	assert.Contains(t, starter.directive, "https://owner.com")
	assert.Contains(t, starter.directive, "PLAYBOOK_PATH")
}
