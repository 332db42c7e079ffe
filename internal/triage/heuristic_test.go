package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalite/evalite/internal/core"
)

func TestHeuristic_Analyze(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantPriority  core.Priority
		wantEmergency bool
		wantFollowUp  int
		moodCheck     func(float64) bool
	}{
		{
			name:         "positive",
			text:         "I feel great and relaxed today",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m > 0 },
		},
		{
			name:         "several negatives",
			text:         "I'm exhausted, anxious and can't sleep",
			wantPriority: core.PriorityHigh,
			wantFollowUp: 1,
			moodCheck:    func(m float64) bool { return m < -0.5 },
		},
		{
			name:         "single negative",
			text:         "a bit tired",
			wantPriority: core.PriorityMedium,
			wantFollowUp: 3,
			moodCheck:    func(m float64) bool { return m == -0.5 },
		},
		{
			name:         "tie is neutral",
			text:         "happy but stressed",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m == 0 },
		},
		{
			name:          "self-harm",
			text:          "I want to end my life",
			wantPriority:  core.PriorityCritical,
			wantEmergency: true,
			wantFollowUp:  0,
			moodCheck:     func(float64) bool { return true },
		},
		{
			name:          "medical red flag",
			text:          "Sudden CHEST PAIN and I can't breathe",
			wantPriority:  core.PriorityCritical,
			wantEmergency: true,
			wantFollowUp:  0,
			moodCheck:     func(float64) bool { return true },
		},
		{
			name:          "emergency outweighs positive mood",
			text:          "Feeling great, happy and relaxed today but I want to kill myself",
			wantPriority:  core.PriorityCritical,
			wantEmergency: true,
			wantFollowUp:  0,
			moodCheck:     func(m float64) bool { return m > 0 },
		},
		{
			name:          "stroke phrase",
			text:          "I think I'm having a stroke",
			wantPriority:  core.PriorityCritical,
			wantEmergency: true,
			wantFollowUp:  0,
			moodCheck:     func(float64) bool { return true },
		},
		{
			name:         "negated emergency",
			text:         "I'm fine, no emergency here",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m > 0 },
		},
		{
			name:         "idiomatic stroke",
			text:         "had a stroke of luck, feeling great",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m > 0 },
		},
		{
			name:         "empty",
			text:         "",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m == 0 },
		},
		{
			name:         "whitespace only",
			text:         "   \n\t ",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m == 0 },
		},
		{
			name:         "substrings do not match",
			text:         "Reading a book about the okapi",
			wantPriority: core.PriorityLow,
			wantFollowUp: 7,
			moodCheck:    func(m float64) bool { return m == 0 },
		},
	}

	var h Heuristic
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Analyze(tt.text)

			assert.Equal(t, tt.wantPriority, got.Priority)
			assert.Equal(t, tt.wantEmergency, got.Emergency)
			assert.Equal(t, tt.wantFollowUp, got.FollowUpDays)
			assert.True(t, tt.moodCheck(got.Mood), "unexpected mood %v", got.Mood)
			assert.GreaterOrEqual(t, got.Mood, -1.0)
			assert.LessOrEqual(t, got.Mood, 1.0)
			assert.NotEmpty(t, got.Suggestions)
			assert.LessOrEqual(t, len(got.Suggestions), MaxHeuristicSuggestions)
			assert.NotEmpty(t, got.Explanation)
			assert.Equal(t, got, got.Normalize(), "result should already be normalized")
		})
	}
}

func TestHeuristic_EmergencyCrisisLine(t *testing.T) {
	got := Heuristic{}.Analyze("I want to end my life")

	require.True(t, got.Emergency)
	joined := strings.Join(got.Suggestions, " ")
	assert.Contains(t, joined, "emergency services")
	assert.Contains(t, joined, "988")
	assert.Contains(t, got.Explanation, "self-harm")
}

func TestHeuristic_EmergencyIgnoresPositiveWords(t *testing.T) {
	got := Heuristic{}.Analyze("Feeling great, happy and relaxed today but I want to kill myself")

	require.True(t, got.Emergency)
	assert.Equal(t, core.PriorityCritical, got.Priority)
	assert.Zero(t, got.FollowUpDays)
	assert.Greater(t, got.Mood, 0.0)
	assert.Contains(t, strings.Join(got.Suggestions, " "), "988")
}

func TestHeuristic_TopicSuggestions(t *testing.T) {
	got := Heuristic{}.Analyze("terrible headache all day")

	assert.Equal(t, []string{"Hydrate now and rest your eyes 5 minutes away from screens."}, got.Suggestions)
}

func TestHeuristic_SuggestionsDedupedAndCapped(t *testing.T) {
	got := Heuristic{}.Analyze("tired tired, anxious, headache, sore back, lonely, thirsty")

	assert.Len(t, got.Suggestions, MaxHeuristicSuggestions)
	seen := map[string]bool{}
	for _, s := range got.Suggestions {
		assert.False(t, seen[s], "duplicate suggestion %q", s)
		seen[s] = true
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	text := "Stressed about work but feeling okay, a little sad"
	first := Heuristic{}.Analyze(text)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Heuristic{}.Analyze(text))
	}
}

func TestHeuristic_TypographicApostrophe(t *testing.T) {
	got := Heuristic{}.Analyze("I can’t breathe")
	assert.True(t, got.Emergency)
}

func TestPriorityForMood(t *testing.T) {
	tests := []struct {
		mood float64
		want core.Priority
	}{
		{-1, core.PriorityHigh},
		{-0.51, core.PriorityHigh},
		{-0.5, core.PriorityMedium},
		{-0.11, core.PriorityMedium},
		{-0.1, core.PriorityLow},
		{0, core.PriorityLow},
		{1, core.PriorityLow},
	}
	for _, tt := range tests {
		if got := priorityForMood(tt.mood); got != tt.want {
			t.Errorf("priorityForMood(%v) = %s, want %s", tt.mood, got, tt.want)
		}
	}
}
