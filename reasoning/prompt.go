package reasoning

import (
	"fmt"
	"strings"

	"github.com/baum777/reasongate"
)

var instructions = map[reasongate.UseCase]string{
	reasongate.UseCaseJournalInsight: "You analyse a trader's journal. Summarise what happened, name recurring behavioural patterns, and give concrete recommendations.",
	reasongate.UseCaseTradeReview:    "You review executed trades. Give a short verdict, list strengths and weaknesses, and rate the risk taken from 0 (none) to 10 (reckless).",
	reasongate.UseCaseSentimentPulse: "You read market chatter and signals. Classify the prevailing sentiment, score it from -1 (bearish) to 1 (bullish), and name the drivers.",
	reasongate.UseCaseInsightCritic:  "You are a strict reviewer of AI generated trading insights. Find claims the context does not support, overconfidence, and missing caveats. Lower the confidence when you find issues; never raise it.",
}

// prompt is a system and user message pair for one model call.
type prompt struct {
	system string
	user   string
}

func generationPrompt(uc reasongate.UseCase, referenceID string, canonical []byte) prompt {
	s := schemas[uc]
	var b strings.Builder
	b.WriteString(instructions[uc])
	b.WriteString("\nRespond with a single JSON object of this shape and nothing else:\n")
	b.WriteString(s.Shape)
	b.WriteString("\nConfidence reflects how well the context supports your answer.")

	return prompt{
		system: b.String(),
		user:   fmt.Sprintf("Reference: %s\nContext:\n%s", referenceID, canonical),
	}
}

func criticPrompt(uc reasongate.UseCase, canonical, generation []byte) prompt {
	var b strings.Builder
	b.WriteString(instructions[reasongate.UseCaseInsightCritic])
	b.WriteString("\nRespond with a single JSON object of this shape and nothing else:\n")
	b.WriteString(schemas[reasongate.UseCaseInsightCritic].Shape)

	return prompt{
		system: b.String(),
		user: fmt.Sprintf("Use case: %s\nContext:\n%s\nGenerated insight:\n%s",
			uc, canonical, generation),
	}
}
