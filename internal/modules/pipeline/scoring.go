package pipeline

import (
	"strings"

	"github.com/echocast/core/internal/modules/llm"
)

// Score is the priority/tone verdict for a candidate narration.
type Score struct {
	Priority Priority `json:"priority"`
	Tone     Tone     `json:"tone"`
	Points   int      `json:"points"`
}

const (
	highPriorityCutoff   = 60
	mediumPriorityCutoff = 30
	// developingEngagement is the engagement level above which a story
	// is treated as actively blowing up.
	developingEngagement = 5000
)

var breakingLexemes = []string{"breaking", "urgent", "just in", "alert", "developing story"}

var opinionLexemes = []string{
	"opinion", "editorial", "i think", "hot take", "unpopular opinion",
	"change my mind", "imo", "my take",
}

var communityLexemes = []string{
	"community", "thank you", "thanks to", "we did it", "together",
	"milestone", "anniversary", "celebrat",
}

// ScoreItem computes priority points and tone for one item.
//
// Points: engagement magnitude (0-30, log-scaled bands), analysis
// urgency (0-25), analysis relevance (0-20, linear), breaking lexeme
// (0 or 25). Total >= 60 is high, >= 30 medium, else low.
func ScoreItem(item ContentItem, analysis *llm.Analysis) Score {
	text := strings.ToLower(item.Title + " " + item.Body)
	points := engagementPoints(item.Engagement())

	var urgency, relevance float64
	sentiment := "neutral"
	if analysis != nil {
		urgency = analysis.Urgency
		relevance = analysis.Relevance
		if analysis.Sentiment != "" {
			sentiment = analysis.Sentiment
		}
	}
	points += int(urgency * 25)
	points += int(relevance * 20)

	breaking := containsAny(text, breakingLexemes)
	if breaking {
		points += 25
	}

	priority := PriorityLow
	switch {
	case points >= highPriorityCutoff:
		priority = PriorityHigh
	case points >= mediumPriorityCutoff:
		priority = PriorityMedium
	}

	return Score{
		Priority: priority,
		Tone:     pickTone(item, text, breaking, urgency, sentiment),
		Points:   points,
	}
}

// engagementPoints maps raw engagement onto 0-30 points in log-scaled
// bands.
func engagementPoints(engagement int) int {
	switch {
	case engagement >= 10000:
		return 30
	case engagement >= 5000:
		return 25
	case engagement >= 1000:
		return 20
	case engagement >= 500:
		return 15
	case engagement >= 100:
		return 10
	case engagement >= 10:
		return 5
	default:
		return 0
	}
}

// pickTone selects the delivery tone. First match wins.
func pickTone(item ContentItem, text string, breaking bool, urgency float64, sentiment string) Tone {
	switch {
	case breaking:
		return ToneBreaking
	case item.Engagement() >= developingEngagement:
		return ToneDeveloping
	case urgency >= 0.7:
		return ToneBreaking
	case containsAny(text, opinionLexemes):
		return ToneOpinion
	case sentiment == "positive" && containsAny(text, communityLexemes):
		return ToneHumanInterest
	default:
		return ToneAnalysis
	}
}

func containsAny(text string, lexemes []string) bool {
	for _, lex := range lexemes {
		if strings.Contains(text, lex) {
			return true
		}
	}
	return false
}
