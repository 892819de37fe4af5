package llm

import (
	"context"
	"strings"
)

// Options carries per-request generation settings.
type Options struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
}

// Analysis is the structured result of content analysis used for thread
// tracking and priority scoring.
type Analysis struct {
	Sentiment string   `json:"sentiment"` // positive | negative | neutral
	Topics    []string `json:"topics"`
	Summary   string   `json:"summary"`
	Urgency   float64  `json:"urgency"`   // 0..1
	Relevance float64  `json:"relevance"` // 0..1
}

// Client is the provider-agnostic generation interface. GenerateStream
// invokes onChunk for each text delta as it arrives and returns the full
// accumulated text.
type Client interface {
	Generate(ctx context.Context, systemPrompt, prompt string, opts Options) (string, error)
	GenerateStream(ctx context.Context, systemPrompt, prompt string, opts Options, onChunk func(delta string)) (string, error)
	Analyze(ctx context.Context, title, body string) (*Analysis, error)
}

// ErrorKind classifies provider failures so the caller can pick a
// backoff policy.
type ErrorKind int

const (
	ErrGeneric ErrorKind = iota
	ErrRateLimit
	ErrOverloaded
	ErrTimeout
)

// Classify inspects a provider error and maps it onto an ErrorKind.
// Provider SDKs surface these conditions as message text, so the match
// is substring-based.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrGeneric
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrRateLimit
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "529") || strings.Contains(msg, "capacity"):
		return ErrOverloaded
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled"):
		return ErrTimeout
	default:
		return ErrGeneric
	}
}
