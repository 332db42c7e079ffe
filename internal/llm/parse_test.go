package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalite/evalite/internal/core"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want core.AnalysisResult
	}{
		{
			name: "plain object",
			raw:  `{"mood":0.4,"priority":"low","emergency":false,"suggestions":["Walk"],"follow_up_days":7,"explanation":"ok"}`,
			want: core.AnalysisResult{Mood: 0.4, Priority: core.PriorityLow, Suggestions: []string{"Walk"}, FollowUpDays: 7, Explanation: "ok"},
		},
		{
			name: "fenced block with prose",
			raw:  "Here you go:\n```json\n{\"mood\":-0.6,\"priority\":\"High\",\"emergency\":false,\"suggestions\":[],\"follow_up_days\":1,\"explanation\":\"rough day\"}\n```\nTake care!",
			want: core.AnalysisResult{Mood: -0.6, Priority: core.PriorityHigh, Suggestions: []string{}, FollowUpDays: 1, Explanation: "rough day"},
		},
		{
			name: "trailing text after object",
			raw:  `Result: {"mood":0,"priority":"medium","emergency":false,"suggestions":["Rest"],"follow_up_days":3,"explanation":"meh"} -- end {`,
			want: core.AnalysisResult{Mood: 0, Priority: core.PriorityMedium, Suggestions: []string{"Rest"}, FollowUpDays: 3, Explanation: "meh"},
		},
		{
			name: "out of range values are clamped",
			raw:  `{"mood":-7,"priority":"high","emergency":false,"suggestions":["a"],"follow_up_days":45.6,"explanation":"x"}`,
			want: core.AnalysisResult{Mood: -1, Priority: core.PriorityHigh, Suggestions: []string{"a"}, FollowUpDays: 30, Explanation: "x"},
		},
		{
			name: "emergency is normalized",
			raw:  `{"mood":-0.9,"priority":"high","emergency":true,"suggestions":["Call 911"],"follow_up_days":2,"explanation":"red flags"}`,
			want: core.AnalysisResult{Mood: -0.9, Priority: core.PriorityCritical, Emergency: true, Suggestions: []string{"Call 911"}, FollowUpDays: 0, Explanation: "red flags"},
		},
		{
			name: "extra fields are ignored",
			raw:  `{"mood":0.1,"priority":"low","emergency":false,"suggestions":[],"follow_up_days":0,"explanation":"fine","confidence":0.9}`,
			want: core.AnalysisResult{Mood: 0.1, Priority: core.PriorityLow, Suggestions: []string{}, Explanation: "fine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalysis(core.ProviderOpenAI, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnalysis_Failures(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"no json", "I'm sorry, I can't help with that.", "no JSON object"},
		{"malformed", `{"mood": 0.2, "priority": `, "decode analysis"},
		{"missing mood", `{"priority":"low","emergency":false,"suggestions":[],"follow_up_days":0,"explanation":"x"}`, "missing field mood"},
		{"missing emergency", `{"mood":0,"priority":"low","suggestions":[],"follow_up_days":0,"explanation":"x"}`, "missing field emergency"},
		{"missing follow-up", `{"mood":0,"priority":"low","emergency":false,"suggestions":[],"explanation":"x"}`, "missing field follow_up_days"},
		{"unknown priority", `{"mood":0,"priority":"urgent","emergency":false,"suggestions":[],"follow_up_days":0,"explanation":"x"}`, "priority must be one of"},
		{"wrong type", `{"mood":"happy","priority":"low","emergency":false,"suggestions":[],"follow_up_days":0,"explanation":"x"}`, "decode analysis"},
		{"null suggestions", `{"mood":0,"priority":"low","emergency":false,"suggestions":null,"follow_up_days":0,"explanation":"x"}`, "missing field suggestions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnalysis(core.ProviderGemini, tt.raw)
			require.Error(t, err)

			var perr *core.ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, core.KindParse, perr.Kind)
			assert.Equal(t, core.ProviderGemini, perr.Provider)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuildUserPrompt(t *testing.T) {
	assert.Equal(t, "User check-in:\nfeeling fine", BuildUserPrompt("  feeling fine \n"))

	long := make([]rune, maxPromptChars+50)
	for i := range long {
		long[i] = 'a'
	}
	got := BuildUserPrompt(string(long))
	assert.Len(t, []rune(got), len("User check-in:\n")+maxPromptChars)
}
