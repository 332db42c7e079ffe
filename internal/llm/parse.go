package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/evalite/evalite/internal/core"
)

var (
	responseValidate = validator.New()
	fencedJSON       = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// wireAnalysis is the provider JSON payload. Pointer fields distinguish a
// missing field from a zero value; every field is required.
type wireAnalysis struct {
	Mood         *float64 `json:"mood" validate:"required"`
	Priority     *string  `json:"priority" validate:"required,oneof=low medium high critical"`
	Emergency    *bool    `json:"emergency" validate:"required"`
	Suggestions  []string `json:"suggestions" validate:"required"`
	FollowUpDays *float64 `json:"follow_up_days" validate:"required"`
	Explanation  *string  `json:"explanation" validate:"required"`
}

// ParseAnalysis turns a raw model reply into a normalized AnalysisResult.
// Any failure is returned as a *core.ProviderError of kind parse; a result
// is never fabricated from a partial reply.
func ParseAnalysis(provider core.Provider, raw string) (core.AnalysisResult, error) {
	w, err := decodeAnalysis(raw)
	if err != nil {
		return core.AnalysisResult{}, core.NewProviderError(provider, core.KindParse, err)
	}

	days := *w.FollowUpDays
	if math.IsNaN(days) || math.IsInf(days, 0) {
		days = 0
	}
	days = math.Max(0, math.Min(core.MaxFollowUpDays, math.Round(days)))

	return core.AnalysisResult{
		Mood:         core.ClampMood(*w.Mood),
		Priority:     core.Priority(*w.Priority),
		Emergency:    *w.Emergency,
		Suggestions:  w.Suggestions,
		FollowUpDays: int(days),
		Explanation:  *w.Explanation,
	}.Normalize(), nil
}

func decodeAnalysis(raw string) (*wireAnalysis, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var w wireAnalysis
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if w.Priority != nil {
		p := strings.ToLower(strings.TrimSpace(*w.Priority))
		w.Priority = &p
	}
	if err := responseValidate.Struct(&w); err != nil {
		return nil, describeValidation(err)
	}
	return &w, nil
}

// extractJSON locates the analysis object in a reply. A fenced code block
// wins; otherwise decoding starts at the first '{' and trailing text is
// ignored by the decoder.
func extractJSON(raw string) (string, error) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	start := strings.Index(raw, "{")
	if start == -1 {
		return "", errors.New("no JSON object in response")
	}
	return raw[start:], nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("missing field %s", jsonName(fe.Field())))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s], got %v", jsonName(fe.Field()), fe.Param(), fe.Value()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", jsonName(fe.Field()), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

func jsonName(field string) string {
	switch field {
	case "FollowUpDays":
		return "follow_up_days"
	default:
		return strings.ToLower(field)
	}
}
