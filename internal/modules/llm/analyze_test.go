package llm

import (
	"errors"
	"testing"
)

func TestHeuristicAnalyzeUrgency(t *testing.T) {
	a := HeuristicAnalyze("BREAKING: Earthquake strikes coastal city", "Magnitude 7.1 quake reported.")
	if a.Urgency < 0.7 {
		t.Fatalf("urgency = %v, want high for breaking content", a.Urgency)
	}
	if a.Sentiment != "negative" {
		t.Fatalf("sentiment = %q, want negative", a.Sentiment)
	}
}

func TestHeuristicAnalyzeNeutralDefault(t *testing.T) {
	a := HeuristicAnalyze("Weekly gardening tips", "How to water tomatoes in summer.")
	if a.Sentiment != "neutral" {
		t.Fatalf("sentiment = %q, want neutral", a.Sentiment)
	}
	if a.Urgency > 0.5 {
		t.Fatalf("urgency = %v, want low for calm content", a.Urgency)
	}
	if len(a.Topics) == 0 {
		t.Fatal("expected topics from title")
	}
}

func TestUnmarshalAIJSONFenced(t *testing.T) {
	raw := "```json\n{\"sentiment\": \"negative\", \"topics\": [\"earthquake\"], \"summary\": \"quake\", \"urgency\": 0.9, \"relevance\": 0.8}\n```"
	var a Analysis
	if err := unmarshalAIJSON(raw, &a); err != nil {
		t.Fatalf("unmarshalAIJSON: %v", err)
	}
	if a.Sentiment != "negative" || a.Urgency != 0.9 {
		t.Fatalf("unexpected analysis: %+v", a)
	}
}

func TestUnmarshalAIJSONEmbedded(t *testing.T) {
	raw := `Here is the analysis you asked for: {"sentiment": "positive", "topics": [], "summary": "s", "urgency": 0.1, "relevance": 0.2} hope that helps`
	var a Analysis
	if err := unmarshalAIJSON(raw, &a); err != nil {
		t.Fatalf("unmarshalAIJSON: %v", err)
	}
	if a.Sentiment != "positive" {
		t.Fatalf("sentiment = %q", a.Sentiment)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("429 Too Many Requests"), ErrRateLimit},
		{errors.New("rate_limit_error: tokens exhausted"), ErrRateLimit},
		{errors.New("overloaded_error: try again later"), ErrOverloaded},
		{errors.New("context deadline exceeded"), ErrTimeout},
		{errors.New("request timed out"), ErrTimeout},
		{errors.New("connection refused"), ErrGeneric},
		{nil, ErrGeneric},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
