package emotion

import (
	"regexp"
	"strings"
)

// lexicon holds word-weight tables, intensity modifiers, and regex pattern
// bonuses used to score raw text against the label set before the
// distribution is normalized. The shape (weighted word tables + intensifiers
// + regex pattern bonuses) mirrors a hand-written emotion scorer; the
// difference from that scorer is that nothing downstream of this pass
// hardcodes a probability->category threshold — that happens inside the
// loaded LinearModels in weights.go.
type lexicon struct {
	words        map[string]wordWeight
	intensifiers map[string]float64
	patterns     map[Label][]*regexp.Regexp
}

type wordWeight struct {
	label  Label
	weight float64 // magnitude in [0,1]; sign is implicit in the label
}

// defaultLexicon is grounded on the word-weight + intensifier + regex-pattern
// shape of a lexicon-based emotion scorer, re-targeted at this taxonomy.
var defaultLexicon = buildDefaultLexicon()

func buildDefaultLexicon() *lexicon {
	lx := &lexicon{
		words: map[string]wordWeight{
			"happy": {Joy, 0.8}, "joy": {Joy, 0.9}, "excited": {Excitement, 0.85},
			"thrilled": {Excitement, 0.9}, "love": {Love, 0.9}, "amazing": {Admiration, 0.7},
			"wonderful": {Joy, 0.75}, "fantastic": {Joy, 0.75}, "great": {Approval, 0.55},
			"good": {Approval, 0.45}, "awesome": {Admiration, 0.7}, "perfect": {Pride, 0.7},
			"delighted": {Joy, 0.8}, "grateful": {Gratitude, 0.8}, "thanks": {Gratitude, 0.7},
			"thank": {Gratitude, 0.7}, "appreciate": {Gratitude, 0.75}, "proud": {Pride, 0.75},
			"hopeful": {Optimism, 0.6}, "confident": {Optimism, 0.6}, "calm": {Relief, 0.4},
			"relieved": {Relief, 0.8}, "curious": {Curiosity, 0.7}, "wonder": {Curiosity, 0.55},
			"interested": {Curiosity, 0.6}, "funny": {Amusement, 0.6}, "haha": {Amusement, 0.6},
			"lol": {Amusement, 0.5}, "caring": {Caring, 0.65}, "sad": {Sadness, 0.7},
			"unhappy": {Sadness, 0.6}, "depressed": {Sadness, 0.85}, "miserable": {Sadness, 0.85},
			"grief": {Grief, 0.9}, "lost": {Grief, 0.55}, "devastated": {Grief, 0.9},
			"angry": {Anger, 0.8}, "mad": {Anger, 0.65}, "furious": {Anger, 0.9},
			"hate": {Anger, 0.85}, "annoyed": {Annoyance, 0.55}, "irritated": {Annoyance, 0.55},
			"frustrated": {Annoyance, 0.7}, "disappointed": {Disappointment, 0.7},
			"letdown": {Disappointment, 0.7}, "disgusted": {Disgust, 0.8}, "gross": {Disgust, 0.6},
			"disapprove": {Disapproval, 0.6}, "wrong": {Disapproval, 0.4}, "scared": {Fear, 0.75},
			"afraid": {Fear, 0.75}, "terrified": {Fear, 0.9}, "worried": {Nervousness, 0.6},
			"nervous": {Nervousness, 0.65}, "anxious": {Nervousness, 0.7}, "confused": {Confusion, 0.6},
			"unsure": {Confusion, 0.5}, "lost-track": {Confusion, 0.5}, "embarrassed": {Embarrassment, 0.7},
			"ashamed": {Embarrassment, 0.7}, "sorry": {Remorse, 0.5}, "regret": {Remorse, 0.7},
			"surprised": {Surprise, 0.7}, "shocked": {Surprise, 0.75}, "wow": {Surprise, 0.6},
			"realize": {Realization, 0.55}, "understand": {Realization, 0.5}, "oh": {Realization, 0.3},
			"want": {Desire, 0.5}, "wish": {Desire, 0.55}, "need": {Desire, 0.45},
		},
		intensifiers: map[string]float64{
			"very": 1.3, "extremely": 1.5, "really": 1.2, "quite": 1.1, "incredibly": 1.4,
			"absolutely": 1.4, "totally": 1.3, "completely": 1.4, "so": 1.2,
			"slightly": 0.7, "somewhat": 0.8, "barely": 0.5, "a little": 0.7, "kind of": 0.8,
		},
		patterns: map[Label][]*regexp.Regexp{
			Excitement: {
				regexp.MustCompile(`(?i)\b(can't wait|so excited|pumped up|over the moon)\b`),
			},
			Annoyance: {
				regexp.MustCompile(`(?i)\b(fed up|sick of|tired of|had enough)\b`),
				regexp.MustCompile(`(?i)\b(why (is|are|does|do|did)|this is ridiculous)\b`),
			},
			Nervousness: {
				regexp.MustCompile(`(?i)\b(worried about|concerned about|nervous about|anxious about)\b`),
			},
			Gratitude: {
				regexp.MustCompile(`(?i)\b(thank you|thanks so much|means a lot)\b`),
			},
			Surprise: {
				regexp.MustCompile(`(?i)\b(wow|whoa|omg|didn't expect)\b`),
			},
			Confusion: {
				regexp.MustCompile(`(?i)\b(i don't (get|understand)|this doesn't make sense|what does .* mean)\b`),
			},
			Disappointment: {
				regexp.MustCompile(`(?i)\b(let down|expected more|not what i hoped)\b`),
			},
		},
	}
	return lx
}

// score scans normalized text and returns raw, unnormalized label scores.
func (lx *lexicon) score(normalized string) map[Label]float64 {
	scores := make(map[Label]float64)
	words := strings.Fields(normalized)
	for i, w := range words {
		ww, ok := lx.words[w]
		if !ok {
			continue
		}
		mult := 1.0
		if i > 0 {
			if m, ok := lx.intensifiers[words[i-1]]; ok {
				mult = m
			}
		}
		scores[ww.label] += ww.weight * mult
	}
	for label, patterns := range lx.patterns {
		for _, p := range patterns {
			if p.MatchString(normalized) {
				scores[label] += 0.6
				break
			}
		}
	}
	return scores
}
