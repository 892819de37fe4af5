package pipeline

import (
	"testing"

	"github.com/echocast/core/internal/modules/llm"
)

func TestScoreHighPriority(t *testing.T) {
	item := ContentItem{
		Title: "BREAKING: Dam failure forces mass evacuation",
		Likes: 8000, Comments: 2000, Shares: 500,
	}
	analysis := &llm.Analysis{Sentiment: "negative", Urgency: 0.9, Relevance: 0.8}

	s := ScoreItem(item, analysis)
	if s.Priority != PriorityHigh {
		t.Fatalf("priority = %q (points %d), want high", s.Priority, s.Points)
	}
	if s.Tone != ToneBreaking {
		t.Fatalf("tone = %q, want breaking", s.Tone)
	}
}

func TestScoreLowPriority(t *testing.T) {
	item := ContentItem{Title: "My cat learned to open doors", Likes: 12}
	analysis := &llm.Analysis{Sentiment: "positive", Urgency: 0.1, Relevance: 0.3}

	s := ScoreItem(item, analysis)
	if s.Priority != PriorityLow {
		t.Fatalf("priority = %q (points %d), want low", s.Priority, s.Points)
	}
}

func TestScoreMediumPriority(t *testing.T) {
	item := ContentItem{Title: "City approves transit expansion", Likes: 900, Comments: 200}
	analysis := &llm.Analysis{Sentiment: "neutral", Urgency: 0.3, Relevance: 0.5}

	// 20 (engagement) + 7 (urgency) + 10 (relevance) = 37.
	s := ScoreItem(item, analysis)
	if s.Priority != PriorityMedium {
		t.Fatalf("priority = %q (points %d), want medium", s.Priority, s.Points)
	}
}

func TestScoreNilAnalysis(t *testing.T) {
	s := ScoreItem(ContentItem{Title: "Quiet news day", Likes: 5}, nil)
	if s.Priority != PriorityLow {
		t.Fatalf("priority = %q, want low with no signals", s.Priority)
	}
	if s.Tone != ToneAnalysis {
		t.Fatalf("tone = %q, want default analysis", s.Tone)
	}
}

func TestEngagementPointsBands(t *testing.T) {
	cases := []struct {
		engagement int
		want       int
	}{
		{0, 0}, {9, 0}, {10, 5}, {100, 10}, {500, 15},
		{1000, 20}, {5000, 25}, {10000, 30}, {250000, 30},
	}
	for _, tc := range cases {
		if got := engagementPoints(tc.engagement); got != tc.want {
			t.Errorf("engagementPoints(%d) = %d, want %d", tc.engagement, got, tc.want)
		}
	}
}

func TestToneFirstMatchOrder(t *testing.T) {
	cases := []struct {
		name     string
		item     ContentItem
		analysis *llm.Analysis
		want     Tone
	}{
		{
			name:     "breaking lexeme outranks engagement",
			item:     ContentItem{Title: "BREAKING: results are in", Likes: 20000},
			analysis: &llm.Analysis{Urgency: 0.9},
			want:     ToneBreaking,
		},
		{
			name:     "high engagement without lexeme is developing",
			item:     ContentItem{Title: "Thread blowing up right now", Likes: 9000},
			analysis: &llm.Analysis{Urgency: 0.9},
			want:     ToneDeveloping,
		},
		{
			name:     "high urgency alone is breaking",
			item:     ContentItem{Title: "Dam spillway failing", Likes: 50},
			analysis: &llm.Analysis{Urgency: 0.9},
			want:     ToneBreaking,
		},
		{
			name:     "opinion lexemes",
			item:     ContentItem{Title: "Hot take: remote work won", Likes: 50},
			analysis: &llm.Analysis{Urgency: 0.2},
			want:     ToneOpinion,
		},
		{
			name:     "positive community content",
			item:     ContentItem{Title: "We did it! Community fundraiser hits goal", Likes: 50},
			analysis: &llm.Analysis{Urgency: 0.2, Sentiment: "positive"},
			want:     ToneHumanInterest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScoreItem(tc.item, tc.analysis).Tone; got != tc.want {
				t.Fatalf("tone = %q, want %q", got, tc.want)
			}
		})
	}
}
