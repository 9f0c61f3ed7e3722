package wizard

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/model"
)

// Rule names the check a field failed.
type Rule string

const (
	RuleRequired             Rule = "required"
	RuleDate                 Rule = "date"
	RuleNonNegative          Rule = "non_negative"
	RuleInvalid              Rule = "invalid"
	RuleTimeExceeded         Rule = "time_exceeded"
	RuleNoSections           Rule = "no_sections"
	RuleSectionAttempted     Rule = "section_attempted"
	RuleSectionTotal         Rule = "section_total"
	RuleSectionOverAttempted Rule = "section_over_attempted"
)

var ruleMessages = map[Rule]string{
	RuleRequired:             "ValidationRequired",
	RuleDate:                 "ValidationDate",
	RuleNonNegative:          "ValidationNonNegative",
	RuleInvalid:              "ValidationInvalid",
	RuleTimeExceeded:         "ValidationTimeExceeded",
	RuleNoSections:           "ValidationNoSections",
	RuleSectionAttempted:     "ValidationSectionAttempted",
	RuleSectionTotal:         "ValidationSectionTotal",
	RuleSectionOverAttempted: "ValidationSectionOverAttempted",
}

// DefaultUntieredExams lists exam codes that have no tier structure.
var DefaultUntieredExams = []string{"neet-ug", "jee-advanced", "cat", "gate"}

// Go field names checked by the struct tags for each step.
var (
	identityFields    = []string{"TestName", "TestDate", "ExamCode", "Platform"}
	performanceFields = []string{"TotalQuestions", "CorrectAnswers", "WrongAnswers", "TotalMarks", "TimeAllotted", "TimeSpent"}
)

// FieldError is one failed check. Field uses the JSON field name; Section is
// the 1-based section number for section checks.
type FieldError struct {
	Field   string `json:"field"`
	Rule    Rule   `json:"rule"`
	Section int    `json:"section,omitempty"`
}

// ValidationError reports why a step did not pass.
type ValidationError struct {
	Step   model.Step   `json:"step"`
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + string(fe.Rule)
	}
	return fmt.Sprintf("step %d (%s) is incomplete: %s", e.Step, e.Step, strings.Join(parts, "; "))
}

// Messages renders the failures in the language carried by ctx.
func (e *ValidationError) Messages(ctx context.Context) []string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		data := map[string]any{"Section": fe.Section}
		if fe.Section == 0 {
			data["Field"] = i18n.T(ctx, fieldLabelID(fe.Field))
		}
		msgs[i] = i18n.Td(ctx, ruleMessages[fe.Rule], data)
	}
	return msgs
}

func fieldLabelID(field string) string {
	if field == "" {
		return field
	}
	return "Field" + strings.ToUpper(field[:1]) + field[1:]
}

// AsValidationError unwraps err to a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// Validator holds the per-step gating rules.
type Validator struct {
	v        *validator.Validate
	untiered map[string]bool
}

// NewValidator builds a validator. Exams in untiered do not need a tier.
func NewValidator(untiered []string) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	set := make(map[string]bool, len(untiered))
	for _, code := range untiered {
		set[strings.ToLower(code)] = true
	}
	return &Validator{v: v, untiered: set}
}

// Tiered reports whether an exam needs a tier.
func (val *Validator) Tiered(examCode string) bool {
	return !val.untiered[strings.ToLower(examCode)]
}

// Validate checks one step and returns nil or a *ValidationError.
func (val *Validator) Validate(step model.Step, form model.FormData) error {
	var errs []FieldError
	switch step {
	case model.StepIdentity:
		errs = val.partial(form, identityFields)
		if form.ExamCode != "" && val.Tiered(form.ExamCode) && strings.TrimSpace(form.ExamTier) == "" {
			errs = append(errs, FieldError{Field: "examTier", Rule: RuleRequired})
		}
	case model.StepPerformance:
		errs = val.partial(form, performanceFields)
		if form.TimeSpent != nil && form.TimeAllotted != nil && *form.TimeSpent > *form.TimeAllotted {
			errs = append(errs, FieldError{Field: "timeSpent", Rule: RuleTimeExceeded})
		}
	case model.StepSections:
		errs = validateSections(form.Sections)
	case model.StepInsights:
	default:
		return fmt.Errorf("unknown step %d", step)
	}
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Errors: errs}
}

// ValidateAll checks every step in order and returns the first failure.
func (val *Validator) ValidateAll(form model.FormData) error {
	for step := model.FirstStep; step <= model.LastStep; step++ {
		if err := val.Validate(step, form); err != nil {
			return err
		}
	}
	return nil
}

func (val *Validator) partial(form model.FormData, fields []string) []FieldError {
	err := val.v.StructPartial(form, fields...)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Rule: RuleInvalid}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: ruleForTag(fe.Tag())})
	}
	return out
}

func ruleForTag(tag string) Rule {
	switch tag {
	case "required":
		return RuleRequired
	case "datetime":
		return RuleDate
	case "gte":
		return RuleNonNegative
	default:
		return RuleInvalid
	}
}

func validateSections(sections []model.Section) []FieldError {
	if len(sections) == 0 {
		return []FieldError{{Field: "sections", Rule: RuleNoSections}}
	}
	var errs []FieldError
	for i, s := range sections {
		field := "sections[" + strconv.Itoa(i) + "]"
		n := i + 1
		if s.AttemptedQuestions != s.CorrectAnswers+s.WrongAnswers {
			errs = append(errs, FieldError{Field: field, Rule: RuleSectionAttempted, Section: n})
		}
		if s.TotalQuestions != s.CorrectAnswers+s.WrongAnswers+s.SkippedQuestions {
			errs = append(errs, FieldError{Field: field, Rule: RuleSectionTotal, Section: n})
		}
		if s.AttemptedQuestions > s.TotalQuestions {
			errs = append(errs, FieldError{Field: field, Rule: RuleSectionOverAttempted, Section: n})
		}
	}
	return errs
}
