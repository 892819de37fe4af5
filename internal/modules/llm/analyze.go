package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const analyzeSystemPrompt = `You analyze social media and news content for a live narration pipeline. Respond with JSON only, no prose.`

func buildAnalyzePrompt(title, body string) string {
	return fmt.Sprintf(`Analyze the following content and respond with a JSON object:
{"sentiment": "positive" | "negative" | "neutral", "topics": ["up to 5 short topic keywords"], "summary": "one sentence", "urgency": 0.0-1.0, "relevance": 0.0-1.0}

Urgency reflects how time-critical the content is. Relevance reflects how interesting it is to a general live audience.

Title: %s

Content: %s`, title, truncateText(body, 2000))
}

// Analyze asks the analysis model to classify content. The caller is
// expected to fall back to HeuristicAnalyze when this fails.
func (p *ProviderClient) Analyze(ctx context.Context, title, body string) (*Analysis, error) {
	provider := selectProvider(p.cfg, p.cfg.AnalysisModel)
	if provider == nil {
		return nil, errors.New("no enabled AI provider configured")
	}

	raw, err := callProvider(ctx, provider, analyzeSystemPrompt, buildAnalyzePrompt(title, body), Options{MaxOutputTokens: 300})
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := unmarshalAIJSON(raw, &analysis); err != nil {
		return nil, err
	}
	normalizeAnalysis(&analysis)
	return &analysis, nil
}

func normalizeAnalysis(a *Analysis) {
	a.Sentiment = strings.ToLower(strings.TrimSpace(a.Sentiment))
	switch a.Sentiment {
	case "positive", "negative", "neutral":
	default:
		a.Sentiment = "neutral"
	}
	a.Urgency = clamp01(a.Urgency)
	a.Relevance = clamp01(a.Relevance)
	if len(a.Topics) > 5 {
		a.Topics = a.Topics[:5]
	}
	for i, topic := range a.Topics {
		a.Topics[i] = strings.ToLower(strings.TrimSpace(topic))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var urgentLexemes = []string{
	"breaking", "urgent", "just in", "alert", "emergency",
	"developing", "live", "confirmed dead", "evacuat",
}

var negativeLexemes = []string{
	"dead", "死", "killed", "crash", "attack", "disaster", "fire",
	"flood", "collapse", "outage", "banned", "lawsuit", "scandal",
}

var positiveLexemes = []string{
	"wins", "celebrat", "record high", "breakthrough", "launch",
	"success", "rescue", "recovered",
}

// HeuristicAnalyze produces a best-effort Analysis without a model call.
// Used when the analysis provider is unavailable so ingestion never
// blocks on AI availability.
func HeuristicAnalyze(title, body string) *Analysis {
	text := strings.ToLower(title + " " + body)

	urgency := 0.2
	for _, lex := range urgentLexemes {
		if strings.Contains(text, lex) {
			urgency = 0.8
			break
		}
	}

	sentiment := "neutral"
	negHits, posHits := 0, 0
	for _, lex := range negativeLexemes {
		if strings.Contains(text, lex) {
			negHits++
		}
	}
	for _, lex := range positiveLexemes {
		if strings.Contains(text, lex) {
			posHits++
		}
	}
	if negHits > posHits {
		sentiment = "negative"
	} else if posHits > negHits {
		sentiment = "positive"
	}

	topics := topicWords(title)

	summary := strings.TrimSpace(title)
	if summary == "" {
		summary = truncateText(strings.TrimSpace(body), 120)
	}

	return &Analysis{
		Sentiment: sentiment,
		Topics:    topics,
		Summary:   summary,
		Urgency:   urgency,
		Relevance: 0.5,
	}
}

func topicWords(title string) []string {
	words := strings.Fields(strings.ToLower(title))
	topics := make([]string, 0, 5)
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()[]")
		if len(w) <= 3 {
			continue
		}
		topics = append(topics, w)
		if len(topics) == 5 {
			break
		}
	}
	return topics
}

func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
