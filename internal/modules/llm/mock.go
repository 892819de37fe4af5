package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient is a scriptable Client for development and tests. It
// streams canned chunks with an optional per-chunk delay and can be told
// to fail or hang.
type MockClient struct {
	mu sync.Mutex

	// Chunks streamed by GenerateStream. Defaults to a short canned
	// narration when empty.
	Chunks []string
	// ChunkDelay is slept before each chunk.
	ChunkDelay time.Duration
	// Err, when set, is returned by every call.
	Err error
	// Hang, when true, blocks until the context is done and returns
	// ctx.Err(). Used to exercise watchdog paths.
	Hang bool
	// AnalyzeFn overrides Analyze when set.
	AnalyzeFn func(title, body string) (*Analysis, error)

	calls int
}

var defaultMockChunks = []string{
	"Here's something interesting from the feed. ",
	"The community is already weighing in, ",
	"and this one looks like it has legs.",
}

// Calls reports how many generation requests the mock has served.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) record() {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *MockClient) chunks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Chunks) > 0 {
		return m.Chunks
	}
	return defaultMockChunks
}

func (m *MockClient) Generate(ctx context.Context, _, _ string, _ Options) (string, error) {
	m.record()
	if m.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.Err != nil {
		return "", m.Err
	}
	return strings.Join(m.chunks(), ""), nil
}

func (m *MockClient) GenerateStream(ctx context.Context, _, _ string, _ Options, onChunk func(string)) (string, error) {
	m.record()
	if m.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.Err != nil {
		return "", m.Err
	}

	var full strings.Builder
	for _, chunk := range m.chunks() {
		if m.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.ChunkDelay):
			}
		}
		full.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return full.String(), nil
}

func (m *MockClient) Analyze(_ context.Context, title, body string) (*Analysis, error) {
	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(title, body)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return HeuristicAnalyze(title, body), nil
}
