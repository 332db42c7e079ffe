package api

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/evalite/evalite/internal/core"
)

// MaxCheckInText is the longest accepted check-in, in characters.
const MaxCheckInText = 1000

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CheckInRequest is the body of POST /api/checkin.
type CheckInRequest struct {
	UserID       int64  `json:"user_id" validate:"gt=0"`
	Text         string `json:"text" validate:"required,max=1000"`
	ContactPhone string `json:"contact_phone,omitempty" validate:"omitempty,phone"`
	ContactEmail string `json:"contact_email,omitempty" validate:"omitempty,email"`
}

// normalize trims every string field. Blank text becomes empty and fails
// the required rule.
func (r *CheckInRequest) normalize() {
	r.Text = strings.TrimSpace(r.Text)
	r.ContactPhone = strings.TrimSpace(r.ContactPhone)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
}

// Validate checks the request and returns a *core.ValidationError for the
// first failing field, plus a message per failing field.
func (r *CheckInRequest) Validate() (map[string]string, error) {
	r.normalize()

	err := validate.Struct(r)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, &core.ValidationError{Reason: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	first := verrs[0]
	return fields, &core.ValidationError{Field: first.Field(), Reason: describe(first)}
}

// CheckIn converts a validated request into a check-in.
func (r *CheckInRequest) CheckIn() core.CheckIn {
	return core.CheckIn{
		UserID:       r.UserID,
		Text:         r.Text,
		ContactPhone: r.ContactPhone,
		ContactEmail: r.ContactEmail,
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be a positive integer"
	case "required":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "phone":
		return `must match ^\+?1?\d{9,15}$`
	case "email":
		return "must be a valid email address"
	default:
		return "is invalid"
	}
}
