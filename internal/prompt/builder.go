// Package prompt implements C10: composing the single prompt string handed
// to the provider client from the outputs of every upstream component.
package prompt

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/learncompanion/internal/ability"
	"github.com/jordanhubbard/learncompanion/internal/budget"
	"github.com/jordanhubbard/learncompanion/internal/convo"
	"github.com/jordanhubbard/learncompanion/internal/difficulty"
	"github.com/jordanhubbard/learncompanion/internal/emotion"
)

// safetyMargin reserves headroom below the raw token budget so the
// estimate-vs-actual tokenizer drift never pushes a request over the
// provider's hard limit.
const safetyMargin = 64

// Input bundles every upstream signal the builder composes into one prompt
// (§4.10).
type Input struct {
	Subject    string
	Ability    ability.Estimate
	Emotion    emotion.Result
	Difficulty difficulty.Level
	Context    convo.Context
	Budget     budget.TokenBudget
	Message    string
}

// Build composes the prompt deterministically: identical Input always
// produces a byte-identical prompt (§4.10 determinism).
func Build(in Input) string {
	charBudget := (in.Budget.Total - in.Budget.Response - safetyMargin) * 4
	if charBudget < 0 {
		charBudget = 0
	}

	sections := []string{
		systemPreamble(in.Subject),
		abilitySummary(in.Ability),
		emotionSummary(in.Emotion),
		difficultyDirective(in.Difficulty),
	}
	fixed := strings.Join(sections, "\n")

	remaining := charBudget - len(fixed) - len(in.Message) - 2
	contextBlock := buildContextBlock(in.Context, remaining)

	var b strings.Builder
	b.WriteString(fixed)
	if contextBlock != "" {
		b.WriteString("\n")
		b.WriteString(contextBlock)
	}
	b.WriteString("\n")
	b.WriteString(in.Message)
	return b.String()
}

func systemPreamble(subject string) string {
	if subject == "" {
		subject = "general"
	}
	return fmt.Sprintf("You are an adaptive learning companion helping a learner with %s.", subject)
}

func abilitySummary(e ability.Estimate) string {
	switch {
	case e.SampleCount == 0:
		return "The learner has no prior history in this subject; assume an average starting ability."
	case e.Theta >= 0.75:
		return "The learner has demonstrated strong ability in this subject."
	case e.Theta <= 0.25:
		return "The learner has struggled with this subject; favor foundational explanations."
	default:
		return "The learner has moderate ability in this subject."
	}
}

func emotionSummary(r emotion.Result) string {
	return fmt.Sprintf("The learner's current emotional state is %s (readiness: %s, cognitive load: %s).",
		r.PrimaryEmotion, strings.ToLower(string(r.LearningReadiness)), strings.ToLower(string(r.CognitiveLoad)))
}

func difficultyDirective(d difficulty.Level) string {
	return fmt.Sprintf("Target difficulty level: %s.", d)
}

// buildContextBlock renders recent then relevant messages with role markers
// and timestamps, trimming the oldest recent entries first when the
// remaining character budget is too small (§4.10).
func buildContextBlock(c convo.Context, charBudget int) string {
	if charBudget <= 0 {
		return ""
	}

	var lines []string
	for _, m := range c.Relevant {
		lines = append(lines, formatContextLine(m.Role, m.Content, m.Timestamp.Format("2006-01-02T15:04:05Z07:00")))
	}
	// Oldest-first trimming means recent entries are appended from oldest
	// to newest and dropped from the front when over budget.
	recentLines := make([]string, 0, len(c.Recent))
	for _, m := range c.Recent {
		recentLines = append(recentLines, formatContextLine(m.Role, m.Content, m.Timestamp.Format("2006-01-02T15:04:05Z07:00")))
	}

	all := append(append([]string{}, lines...), recentLines...)
	if len(all) == 0 {
		return ""
	}

	header := "Conversation context:"
	total := len(header)
	for _, l := range all {
		total += len(l) + 1
	}

	for total > charBudget && len(recentLines) > 0 {
		// drop the oldest recent line (front of recentLines)
		total -= len(recentLines[0]) + 1
		recentLines = recentLines[1:]
	}
	for total > charBudget && len(lines) > 0 {
		total -= len(lines[0]) + 1
		lines = lines[1:]
	}

	final := append(append([]string{header}, recentLines...), lines...)
	if len(final) == 1 {
		return ""
	}
	return strings.Join(final, "\n")
}

func formatContextLine(role, content, ts string) string {
	return fmt.Sprintf("[%s @ %s] %s", role, ts, content)
}
