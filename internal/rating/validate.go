package rating

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
)

// Submission is the caller-supplied content of a new rating.
type Submission struct {
	Name    string `json:"name" validate:"required,min=3,max=100"`
	Comment string `json:"comment" validate:"max=2000"`
	Score   int    `json:"score" validate:"min=1,max=5"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Clean trims surrounding whitespace from the text fields.
func (s Submission) Clean() Submission {
	s.Name = strings.TrimSpace(s.Name)
	s.Comment = strings.TrimSpace(s.Comment)
	return s
}

// Validate checks the submission and returns a VALIDATION failure listing
// every offending field, or nil.
func Validate(s Submission) error {
	err := validatorInstance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewFailure(domain.KindValidation, "submit", "invalid rating").WithCause(err)
	}

	failure := domain.NewFailure(domain.KindValidation, "submit", "invalid rating")
	for _, fe := range fieldErrs {
		failure.WithField(fe.Field(), fieldMessage(fe))
	}
	return failure
}

func fieldMessage(fe validator.FieldError) string {
	if fe.Field() == "score" {
		return fmt.Sprintf("must be between %d and %d", domain.MinScore, domain.MaxScore)
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}
