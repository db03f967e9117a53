// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package complexity scores generation requests on a 0-100 scale from
// lexical and structural signals. The score drives backend eligibility in
// selection; the high-quality flag drives guardrail enforcement.
package complexity

import (
	"strings"
	"unicode"
)

// Level buckets the numeric score.
type Level string

const (
	LevelSimple  Level = "simple"
	LevelMedium  Level = "medium"
	LevelComplex Level = "complex"
)

// Score bucket boundaries.
const (
	mediumThreshold  = 30
	complexThreshold = 70
)

// RecommendedKind mirrors backend kinds without importing the backend
// package; the classifier stays a pure leaf.
type RecommendedKind string

const (
	RecommendZeroCost RecommendedKind = "local-zero-cost"
	RecommendEconomy  RecommendedKind = "local-economy"
	RecommendPremium  RecommendedKind = "premium"
)

// Input carries everything the classifier looks at.
type Input struct {
	// Prompt is the user's request text.
	Prompt string

	// Context holds prior conversation turns or retrieved snippets.
	Context []string

	// TaskType is the caller-declared task label, if any.
	TaskType string
}

// Profile is the derived complexity assessment. Produced fresh per
// request, never stored.
type Profile struct {
	Score               float64         `json:"score"`
	Level               Level           `json:"level"`
	Confidence          float64         `json:"confidence"`
	Recommended         RecommendedKind `json:"recommended_kind"`
	RequiresHighQuality bool            `json:"requires_high_quality"`
	RequiresCreativity  bool            `json:"requires_creativity"`
	RequiresReasoning   bool            `json:"requires_reasoning"`
	ContainsCode        bool            `json:"contains_code"`
}

// Config controls classification behavior.
type Config struct {
	// HighQualityTaskTypes are task labels that must always be served by
	// the premium backend regardless of numeric score.
	HighQualityTaskTypes []string
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		HighQualityTaskTypes: []string{
			"ethical-reasoning",
			"core-self-reflection",
			"creative-generation",
		},
	}
}

// Signal weights. They sum to 1.0 so the weighted sum stays on the 0-100
// scale of the sub-scores.
const (
	weightLength    = 0.20
	weightContext   = 0.15
	weightDiversity = 0.15
	weightTokenLen  = 0.10
	weightSpecial   = 0.15
	weightTaskType  = 0.25
)

var reasoningKeywords = []string{
	"why", "explain", "reason", "analyze", "analysis", "compare", "evaluate",
	"prove", "derive", "step by step", "deduce", "infer", "logic",
}

var creativityKeywords = []string{
	"story", "poem", "imagine", "creative", "invent", "design", "compose",
	"write a", "narrative", "brainstorm",
}

var codeMarkers = []string{
	"func ", "def ", "class ", "=>", "{", "};", "import ", "return ",
	"select ", "console.", "#include",
}

// Classifier scores requests. Pure: no side effects, no stored state
// beyond configuration.
type Classifier struct {
	highQuality map[string]bool
}

// New creates a classifier from config.
func New(cfg Config) *Classifier {
	hq := make(map[string]bool, len(cfg.HighQualityTaskTypes))
	for _, t := range cfg.HighQualityTaskTypes {
		hq[strings.ToLower(t)] = true
	}
	return &Classifier{highQuality: hq}
}

// Classify produces a complexity profile for the given input. An empty
// prompt yields the lowest score and the simple level.
func (c *Classifier) Classify(in Input) Profile {
	prompt := strings.TrimSpace(in.Prompt)
	taskType := strings.ToLower(strings.TrimSpace(in.TaskType))

	p := Profile{
		RequiresHighQuality: c.highQuality[taskType],
	}

	if prompt == "" {
		p.Level = LevelSimple
		p.Confidence = 0.3
		p.Recommended = RecommendZeroCost
		return p
	}

	lower := strings.ToLower(prompt)
	words := strings.Fields(lower)

	p.RequiresReasoning = containsAny(lower, reasoningKeywords)
	p.RequiresCreativity = containsAny(lower, creativityKeywords)
	p.ContainsCode = containsAny(lower, codeMarkers)

	score := weightLength*lengthScore(len(prompt)) +
		weightContext*contextScore(in.Context) +
		weightDiversity*diversityScore(words) +
		weightTokenLen*tokenLengthScore(words) +
		weightSpecial*specialContentScore(lower) +
		weightTaskType*taskTypeScore(lower, taskType)

	if score > 100 {
		score = 100
	}
	p.Score = score

	switch {
	case score < mediumThreshold:
		p.Level = LevelSimple
		p.Recommended = RecommendZeroCost
	case score < complexThreshold:
		p.Level = LevelMedium
		p.Recommended = RecommendEconomy
	default:
		p.Level = LevelComplex
		p.Recommended = RecommendPremium
	}
	if p.RequiresHighQuality {
		p.Recommended = RecommendPremium
	}

	p.Confidence = confidence(score, len(words), taskType != "")
	return p
}

// lengthScore grows with prompt size and saturates at 2000 characters.
func lengthScore(chars int) float64 {
	if chars >= 2000 {
		return 100
	}
	return float64(chars) / 2000 * 100
}

// contextScore grows with the amount of prior context, saturating at 10
// entries or 4000 characters.
func contextScore(ctx []string) float64 {
	if len(ctx) == 0 {
		return 0
	}
	total := 0
	for _, c := range ctx {
		total += len(c)
	}
	byCount := float64(len(ctx)) / 10 * 100
	bySize := float64(total) / 4000 * 100
	s := (byCount + bySize) / 2
	if s > 100 {
		s = 100
	}
	return s
}

// diversityScore is the unique-to-total word ratio scaled to 0-100.
func diversityScore(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[w] = true
	}
	return float64(len(unique)) / float64(len(words)) * 100
}

// tokenLengthScore rewards longer average words; saturates at 10 chars.
func tokenLengthScore(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += len(w)
	}
	avg := float64(total) / float64(len(words))
	s := avg / 10 * 100
	if s > 100 {
		s = 100
	}
	return s
}

// specialContentScore detects numeric, code-like, and symbol-heavy content.
func specialContentScore(lower string) float64 {
	score := 0.0

	digits := 0
	nonAlnum := 0
	for _, r := range lower {
		if unicode.IsDigit(r) {
			digits++
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			nonAlnum++
		}
	}
	if digits > 0 {
		score += 25
	}
	if containsAny(lower, codeMarkers) {
		score += 50
	}
	if len(lower) > 0 && float64(nonAlnum)/float64(len(lower)) > 0.15 {
		score += 25
	}
	if score > 100 {
		score = 100
	}
	return score
}

// taskTypeScore reflects declared or inferred intent.
func taskTypeScore(lower, taskType string) float64 {
	score := 0.0
	switch {
	case strings.Contains(taskType, "reasoning"), strings.Contains(taskType, "analysis"):
		score = 90
	case strings.Contains(taskType, "creative"), strings.Contains(taskType, "generation"):
		score = 75
	case strings.Contains(taskType, "chat"), strings.Contains(taskType, "smalltalk"):
		score = 10
	}
	if containsAny(lower, reasoningKeywords) {
		score += 30
	}
	if containsAny(lower, creativityKeywords) {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// confidence grows when the score is far from bucket boundaries and the
// input carries enough signal to judge.
func confidence(score float64, wordCount int, declaredType bool) float64 {
	conf := 0.5

	// Distance from the nearest bucket boundary, normalized.
	nearest := distance(score, mediumThreshold)
	if d := distance(score, complexThreshold); d < nearest {
		nearest = d
	}
	conf += nearest / 100

	if wordCount >= 20 {
		conf += 0.1
	}
	if declaredType {
		conf += 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func distance(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
