package llm

import (
	"fmt"
	"strings"
)

// NarrationRequest carries everything the prompt builder needs to ask
// for a spoken narration of one content item.
type NarrationRequest struct {
	Title    string
	Body     string
	Author   string
	Platform string

	// Tone selects the delivery register, e.g. "breaking" or "analysis".
	Tone string
	// ThreadIndicator, when non-empty, marks a continuing story, e.g.
	// "NEW DEVELOPMENT #3".
	ThreadIndicator string
	// ThreadSummary gives prior context for continuing stories.
	ThreadSummary string
	// CustomPrompt, when set, replaces the default style instructions.
	CustomPrompt string
}

var toneInstructions = map[string]string{
	"breaking":       "Deliver with urgency and gravity. Short sentences. Lead with the key fact.",
	"developing":     "Deliver as an evolving story. Note that details are still coming in.",
	"analysis":       "Deliver thoughtfully. Connect the facts and explain why it matters.",
	"opinion":        "Deliver conversationally. Make clear this is commentary, not reporting.",
	"human-interest": "Deliver warmly. Focus on the people in the story.",
}

const narrationSystemPrompt = `You are a live stream narrator. You turn social media posts and news items into short spoken narrations, written to be read aloud. Plain spoken prose only. No markdown, no emoji, no stage directions, no hashtags.`

// BuildNarrationPrompt renders the system and user prompts for one item.
func BuildNarrationPrompt(req NarrationRequest) (string, string) {
	var b strings.Builder

	if req.CustomPrompt != "" {
		b.WriteString(strings.TrimSpace(req.CustomPrompt))
		b.WriteString("\n\n")
	} else {
		b.WriteString("Write a narration of 2 to 4 sentences, 15 to 40 seconds when spoken.\n")
		if instr, ok := toneInstructions[req.Tone]; ok {
			b.WriteString(instr)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if req.ThreadIndicator != "" {
		fmt.Fprintf(&b, "This is a continuing story. Open with %q or a natural equivalent.\n", req.ThreadIndicator)
		if req.ThreadSummary != "" {
			fmt.Fprintf(&b, "Previously: %s\n", req.ThreadSummary)
		}
		b.WriteString("\n")
	}

	if req.Platform != "" {
		fmt.Fprintf(&b, "Source: %s", req.Platform)
		if req.Author != "" {
			fmt.Fprintf(&b, " (by %s)", req.Author)
		}
		b.WriteString("\n")
	}
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}
	fmt.Fprintf(&b, "Content: %s\n", truncateText(req.Body, 3000))

	return narrationSystemPrompt, b.String()
}
