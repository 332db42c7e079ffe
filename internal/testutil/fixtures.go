package testutil

import (
	"github.com/evalite/evalite/internal/core"
)

// Check-in texts that drive the local heuristic to known outcomes.
const (
	TextEmergency = "I have chest pain and can't breathe"
	TextStressed  = "Work is stressful and I can't sleep"
	TextPositive  = "Feeling great and rested today"
)

// CheckInFixture returns a valid check-in for userID with both contacts set.
func CheckInFixture(userID int64) core.CheckIn {
	return core.CheckIn{
		UserID:       userID,
		Text:         TextStressed,
		ContactPhone: "+15551234567",
		ContactEmail: "contact@example.com",
	}
}

// AnalysisFixture returns a normalized, non-emergency analysis with one
// suggestion and a three-day follow-up.
func AnalysisFixture() core.AnalysisResult {
	return core.AnalysisResult{
		Mood:         -0.3,
		Priority:     core.PriorityMedium,
		Suggestions:  []string{"Take a 10-minute walk outside."},
		FollowUpDays: 3,
		Explanation:  "Stress and poor sleep reported.",
	}
}

// EmergencyFixture returns an emergency analysis.
func EmergencyFixture() core.AnalysisResult {
	return core.AnalysisResult{
		Mood:        -1,
		Priority:    core.PriorityCritical,
		Emergency:   true,
		Suggestions: []string{},
		Explanation: "Medical red-flag symptoms reported.",
	}
}
