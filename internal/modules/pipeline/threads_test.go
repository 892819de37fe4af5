package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/modules/llm"
)

func newTestTracker() *Tracker {
	return NewTracker(config.DefaultPipelineConfig().Threads)
}

func TestClassifyNewThread(t *testing.T) {
	tr := newTestTracker()
	info := tr.Classify(ContentItem{
		ID:          "a",
		Title:       "Volcano erupts near Reykjavik",
		Platform:    "reddit",
		PublishedAt: time.Now(),
	}, nil)

	if !info.IsNewThread || info.IsUpdate {
		t.Fatalf("first item should open a thread: %+v", info)
	}
	if info.ThreadID == "" {
		t.Fatal("missing thread id")
	}
}

func TestClassifyUpdateJoinsThread(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()

	first := tr.Classify(ContentItem{
		ID: "a", Title: "Volcano erupts near Reykjavik", Platform: "reddit", PublishedAt: now,
	}, &llm.Analysis{Sentiment: "negative", Topics: []string{"volcano", "iceland"}})

	second := tr.Classify(ContentItem{
		ID: "b", Title: "Reykjavik volcano eruption forces evacuations", Platform: "reddit", PublishedAt: now.Add(2 * time.Hour),
	}, &llm.Analysis{Sentiment: "negative", Topics: []string{"volcano", "iceland"}})

	if !second.IsUpdate {
		t.Fatalf("related item did not join thread: %+v", second)
	}
	if second.ThreadID != first.ThreadID {
		t.Fatal("update landed on a different thread")
	}
	if second.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", second.Sequence)
	}
	if !strings.HasSuffix(second.Indicator, "#1") {
		t.Fatalf("indicator = %q, want suffix #1", second.Indicator)
	}
}

func TestClassifySequenceIncrements(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	analysis := &llm.Analysis{Sentiment: "negative", Topics: []string{"volcano", "iceland"}}

	tr.Classify(ContentItem{ID: "a", Title: "Volcano erupts near Reykjavik", Platform: "reddit", PublishedAt: now}, analysis)
	tr.Classify(ContentItem{ID: "b", Title: "Reykjavik volcano eruption forces evacuations", Platform: "reddit", PublishedAt: now.Add(time.Hour)}, analysis)
	third := tr.Classify(ContentItem{ID: "c", Title: "BREAKING: Reykjavik volcano ash cloud grounds flights", Platform: "reddit", PublishedAt: now.Add(2 * time.Hour)}, analysis)

	if third.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", third.Sequence)
	}
	if third.UpdateType != UpdateNewDevelopment {
		t.Fatalf("update type = %q, want new_development for breaking lexeme", third.UpdateType)
	}
	if third.Indicator != "NEW DEVELOPMENT #2" {
		t.Fatalf("indicator = %q", third.Indicator)
	}
}

func TestClassifyTemporalProximity(t *testing.T) {
	tr := newTestTracker()
	old := time.Now().Add(-80 * time.Hour)

	first := tr.Classify(ContentItem{
		ID: "a", Title: "Volcano erupts near Reykjavik", Platform: "reddit", PublishedAt: old,
	}, nil)
	second := tr.Classify(ContentItem{
		ID: "b", Title: "Reykjavik volcano eruption continues", Platform: "twitter", PublishedAt: time.Now(),
	}, &llm.Analysis{Sentiment: "positive"})

	// Outside the proximity window with mismatched category and
	// sentiment, keyword overlap alone stays under the threshold.
	if second.IsUpdate && second.ThreadID == first.ThreadID {
		sim := jaccard(extractKeywords("Reykjavik volcano eruption continues"), extractKeywords("Volcano erupts near Reykjavik"))
		if sim*0.5 < 0.35 {
			t.Fatalf("stale thread matched with score below threshold (keyword sim %v)", sim)
		}
	}
}

func TestClassifyUpdateTypeHeuristics(t *testing.T) {
	cases := []struct {
		title string
		want  UpdateType
	}{
		{"CORRECTION: earlier casualty figure was wrong", UpdateCorrection},
		{"Clarifying what the new policy actually covers", UpdateClarification},
		{"BREAKING: minister resigns over scandal", UpdateNewDevelopment},
		{"More reactions come in from residents", UpdateFollowUp},
	}
	for _, tc := range cases {
		got := classifyUpdateType(ContentItem{Title: tc.title}, nil)
		if got != tc.want {
			t.Errorf("classifyUpdateType(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

func TestCloseStale(t *testing.T) {
	tr := newTestTracker()
	tr.Classify(ContentItem{ID: "a", Title: "Volcano erupts near Reykjavik", PublishedAt: time.Now().Add(-72 * time.Hour)}, nil)
	tr.Classify(ContentItem{ID: "b", Title: "City council approves new bike lanes", PublishedAt: time.Now()}, nil)

	closed := tr.CloseStale(48 * time.Hour)
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if len(tr.Threads()) != 1 {
		t.Fatalf("threads remaining = %d, want 1", len(tr.Threads()))
	}
}
