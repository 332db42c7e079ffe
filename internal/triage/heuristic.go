// Package triage classifies wellness check-ins, through an AI provider when
// one is available and through a local keyword heuristic otherwise.
package triage

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/evalite/evalite/internal/core"
)

// MaxHeuristicSuggestions caps suggestions from local analysis.
const MaxHeuristicSuggestions = 3

// Emergency categories named in explanations.
const (
	categorySelfHarm = "self-harm risk"
	categoryMedical  = "medical red-flag symptoms"
)

var emergencyTerms = map[string][]string{
	categorySelfHarm: {
		"suicide", "suicidal", "kill myself", "end my life", "want to die",
		"self harm", "self-harm", "hurt myself", "overdose",
	},
	categoryMedical: {
		"chest pain", "difficulty breathing", "can't breathe", "cannot breathe",
		"fainted", "loss of consciousness", "unconscious", "severe bleeding",
		"having a stroke", "stroke symptoms", "heart attack", "seizure",
		"medical emergency",
	},
}

var negativeTerms = []string{
	"tired", "sad", "depressed", "anxious", "anxiety", "stressed", "stress",
	"pain", "hurt", "insomnia", "can't sleep", "no sleep", "sick", "headache",
	"migraine", "fatigue", "exhausted", "lonely", "alone", "overwhelmed",
	"panic", "hopeless", "awful", "terrible", "bad", "worried", "upset",
}

var positiveTerms = []string{
	"good", "great", "happy", "better", "fine", "okay", "ok", "energized",
	"relaxed", "calm", "rested", "wonderful", "excellent", "grateful",
	"motivated", "amazing", "content",
}

type topic struct {
	terms       []string
	suggestions []string
}

// Checked in order; earlier topics win when the cap is reached.
var topics = []topic{
	{
		terms: []string{"sleep", "insomnia", "can't sleep", "no sleep", "tired", "fatigue", "exhausted"},
		suggestions: []string{
			"Set a wind-down: dim lights, no screens 60 min before bed.",
			"Try a 10-minute relaxation (box breathing 4-4-4-4).",
		},
	},
	{
		terms: []string{"anxiety", "anxious", "panic", "overwhelmed", "stress", "stressed", "worried"},
		suggestions: []string{
			"Do 5 slow breaths (inhale 4s, exhale 6s) to calm the body.",
			"Jot down top 3 worries and one tiny next step for each.",
		},
	},
	{
		terms:       []string{"headache", "migraine"},
		suggestions: []string{"Hydrate now and rest your eyes 5 minutes away from screens."},
	},
	{
		terms:       []string{"pain", "hurt", "sore"},
		suggestions: []string{"Try gentle stretching and avoid heavy activity for the day."},
	},
	{
		terms:       []string{"sad", "depressed", "lonely", "alone", "hopeless"},
		suggestions: []string{"Send a short check-in message to someone you trust today."},
	},
	{
		terms:       []string{"diet", "junk", "sugar", "ate too much", "overeat"},
		suggestions: []string{"Plan your next meal: protein + fiber + water before eating."},
	},
	{
		terms:       []string{"thirsty", "dehydrated", "dry mouth"},
		suggestions: []string{"Drink a full glass of water now; keep a bottle nearby."},
	},
}

const genericSuggestion = "Take a micro-break: hydrate, stretch, and 3 deep breaths."

// Used when no topic matched.
var bandSuggestions = map[core.Priority][]string{
	core.PriorityLow: {genericSuggestion},
	core.PriorityMedium: {
		"Take a 10-minute walk outside and notice how you feel afterwards.",
		genericSuggestion,
	},
	core.PriorityHigh: {
		"Reach out to someone you trust and tell them how you are feeling.",
		"Consider talking to a healthcare professional if this continues.",
		genericSuggestion,
	},
}

var positiveBandSuggestion = "Keep doing what is working for you today."

var emergencySuggestions = map[string][]string{
	categorySelfHarm: {
		"If you are in immediate danger, call emergency services now (911 or your local emergency number).",
		"Call or text 988 (Suicide & Crisis Lifeline) to talk to someone right now.",
		"Stay with someone you trust until you feel safe.",
	},
	categoryMedical: {
		"If you are in immediate danger, call emergency services now (911 or your local emergency number).",
		"Stop what you are doing and sit or lie down somewhere safe while help is on the way.",
		"Tell someone nearby what is happening.",
	},
}

var followUpDays = map[core.Priority]int{
	core.PriorityCritical: 0,
	core.PriorityHigh:     1,
	core.PriorityMedium:   3,
	core.PriorityLow:      7,
}

// Heuristic is the deterministic keyword analyzer. The zero value is ready
// to use and safe for concurrent use.
type Heuristic struct{}

// Analyze classifies text without any I/O. It is total over all strings.
func (Heuristic) Analyze(text string) core.AnalysisResult {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return core.AnalysisResult{
			Mood:         0,
			Priority:     core.PriorityLow,
			Suggestions:  []string{genericSuggestion},
			FollowUpDays: followUpDays[core.PriorityLow],
			Explanation:  "Local analysis: no details provided. Estimated mood 0.00, priority low.",
		}
	}

	if category := detectEmergency(tokens); category != "" {
		return core.AnalysisResult{
			Mood:         moodScore(tokens),
			Priority:     core.PriorityCritical,
			Emergency:    true,
			Suggestions:  append([]string(nil), emergencySuggestions[category]...),
			FollowUpDays: 0,
			Explanation: fmt.Sprintf(
				"Local analysis based on keywords and sentiment markers. Emergency indicators detected (%s). Please seek immediate help.",
				category),
		}
	}

	mood := moodScore(tokens)
	priority := priorityForMood(mood)

	return core.AnalysisResult{
		Mood:         mood,
		Priority:     priority,
		Suggestions:  suggestionsFor(tokens, priority, mood),
		FollowUpDays: followUpDays[priority],
		Explanation: fmt.Sprintf(
			"Local analysis based on keywords and sentiment markers. Estimated mood %.2f, priority %s.",
			mood, priority),
	}
}

// priorityForMood maps a non-emergency mood score to a priority.
func priorityForMood(mood float64) core.Priority {
	switch {
	case mood < -0.5:
		return core.PriorityHigh
	case mood < -0.1:
		return core.PriorityMedium
	default:
		return core.PriorityLow
	}
}

// moodScore is (pos - neg) / (pos + neg + 1), rounded to two decimals.
// The +1 keeps a single marker from saturating the scale.
func moodScore(tokens []string) float64 {
	pos := countAll(tokens, positiveTerms)
	neg := countAll(tokens, negativeTerms)
	if pos+neg == 0 {
		return 0
	}
	raw := float64(pos-neg) / float64(pos+neg+1)
	return core.ClampMood(math.Round(raw*100) / 100)
}

func detectEmergency(tokens []string) string {
	// Self-harm is checked first so its crisis-line guidance wins.
	for _, category := range []string{categorySelfHarm, categoryMedical} {
		if countAll(tokens, emergencyTerms[category]) > 0 {
			return category
		}
	}
	return ""
}

func suggestionsFor(tokens []string, priority core.Priority, mood float64) []string {
	var out []string
	for _, tp := range topics {
		if countAll(tokens, tp.terms) > 0 {
			out = append(out, tp.suggestions...)
		}
	}
	if len(out) == 0 {
		if priority == core.PriorityLow && mood > 0 {
			out = append(out, positiveBandSuggestion)
		}
		out = append(out, bandSuggestions[priority]...)
	}
	return dedupe(out, MaxHeuristicSuggestions)
}

func dedupe(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, max)
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// tokenize lowercases text and splits it into words. Apostrophes are kept
// so "can't" stays one token; typographic apostrophes are folded to ASCII.
func tokenize(text string) []string {
	text = strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

// countAll counts whole-word occurrences of every phrase in tokens.
func countAll(tokens []string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += countPhrase(tokens, strings.Fields(p))
	}
	return n
}

func countPhrase(tokens, phrase []string) int {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return 0
	}
	n := 0
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, w := range phrase {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}
