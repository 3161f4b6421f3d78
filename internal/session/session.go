// Package session holds the in-memory conversation transcript and mediates
// all traffic to the chat API. The transcript is append-only between clears
// and lives only for the process lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/codexec/codebot/internal/config"
	"github.com/codexec/codebot/internal/history"
	"github.com/codexec/codebot/internal/llm"
	"github.com/codexec/codebot/internal/logger"
)

var (
	// ErrAuth means the credential is missing or was rejected. Fatal.
	ErrAuth = errors.New("missing or rejected API credential")
	// ErrTransport means the chat API call failed after retries. The loop survives it.
	ErrTransport = errors.New("chat API request failed")
)

// DefaultSystemPrompt seeds new sessions unless overridden in config.
const DefaultSystemPrompt = "You are an AI coding assistant. Your primary role is to help with programming tasks by " +
	"providing concise, executable Python code solutions.\n" +
	"When a user's request involves code:\n" +
	"1. Provide the Python code solution formatted within ```python and ``` tags for automatic execution.\n" +
	"2. Briefly explain what the code does after providing it.\n\n" +
	"For non-programming questions, respond as a helpful assistant.\n\n" +
	"You cannot directly create, modify, or interact with files on the user's system. If a user asks for " +
	"something you cannot do directly, explain the limitation and, if possible, offer a Python code solution " +
	"that would let the user achieve their goal."

// Recorder receives a copy of every message for audit purposes.
// *history.Store satisfies it.
type Recorder interface {
	Save(history.Message)
}

// Session is the Conversation Session: ordered message history plus the
// client used to extend it. Not safe for concurrent use; the interaction
// loop is single-threaded.
type Session struct {
	client     llm.Client
	model      string
	system     string
	maxRetries uint64
	recorder   Recorder
	id         string
	messages   []openai.ChatCompletionMessage

	// newBackOff is swapped in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder attaches an audit log. A nil recorder is ignored.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// New creates a session seeded with the system prompt.
func New(client llm.Client, cfg config.LLMConfig, opts ...Option) *Session {
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	s := &Session{
		client:     client,
		model:      cfg.Model,
		system:     system,
		maxRetries: uint64(maxRetries),
		id:         uuid.NewString(),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seed()
	return s
}

func (s *Session) seed() {
	s.messages = []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.system,
	}}
	s.record(openai.ChatMessageRoleSystem, s.system)
}

// ID identifies the current transcript; Clear rotates it.
func (s *Session) ID() string { return s.id }

// Len reports the number of messages in the transcript, system prompt included.
func (s *Session) Len() int { return len(s.messages) }

// Clear resets the transcript to the system prompt only. The session stays
// usable; subsequent messages start a fresh context under a new id.
func (s *Session) Clear() {
	s.id = uuid.NewString()
	s.seed()
}

// Send appends text as a user message, calls the model with the full
// transcript, appends the reply, and returns its text. Transient transport
// failures are retried with exponential backoff up to the configured cap;
// 401/403 responses are never retried and surface as ErrAuth. On failure the
// unanswered user message is removed so the transcript stays consistent.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	var resp openai.ChatCompletionResponse
	op := func() error {
		var err error
		resp, err = s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    s.model,
			Messages: s.messages,
		})
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrAuth, err))
			}
			logger.L.Warn("chat completion attempt failed", "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty completion response")
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		if errors.Is(err, ErrAuth) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.record(openai.ChatMessageRoleUser, text)
	reply := resp.Choices[0].Message.Content
	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	s.record(openai.ChatMessageRoleAssistant, reply)
	return reply, nil
}

func (s *Session) record(role, content string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Save(history.Message{
		SessionID: s.id,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}
