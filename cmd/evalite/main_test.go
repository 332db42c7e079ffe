package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalite/evalite/internal/core"
)

func TestAnalyzeCmd_Local(t *testing.T) {
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	var out bytes.Buffer
	cmd := analyzeCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--local", "I'm", "exhausted", "and", "anxious"})
	require.NoError(t, cmd.Execute())

	var got struct {
		Outcome  string              `json:"outcome"`
		Source   core.Source         `json:"source"`
		Provider core.Provider       `json:"provider"`
		Analysis core.AnalysisResult `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))

	assert.Equal(t, "local", got.Outcome)
	assert.Equal(t, core.SourceHeuristic, got.Source)
	assert.Empty(t, got.Provider)
	assert.Equal(t, core.PriorityHigh, got.Analysis.Priority)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, 10, len([]rune(truncate("a much longer check-in text", 10))))
}
