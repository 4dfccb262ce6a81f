package strategy

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/yourusername/clever-backtest/internal/formula"
	"github.com/yourusername/clever-backtest/internal/models"
)

// MaxConditions is the largest number of conditions a strategy may declare
const MaxConditions = 10

var (
	slugPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)
)

// Issue is a single validation finding
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult is the outcome of Validate. Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Err returns a *ValidationError when the result is invalid
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Issues: r.Errors}
}

// ValidationError carries every error found in a strategy
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "strategy validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is or wraps a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewStructValidator returns a validator with the strategy tags registered.
// Any struct embedding a StrategyDefinition must be validated with it.
func NewStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("slug", validateSlug)
	v.RegisterValidation("semver", validateSemver)
	return v
}

var structValidator = NewStructValidator()

func validateSlug(fl validator.FieldLevel) bool {
	return slugPattern.MatchString(fl.Field().String())
}

func validateSemver(fl validator.FieldLevel) bool {
	return semverPattern.MatchString(fl.Field().String())
}

type collector struct {
	result ValidationResult
}

func (c *collector) fail(path, code, format string, args ...interface{}) {
	c.result.Errors = append(c.result.Errors, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) warn(path, code, format string, args ...interface{}) {
	c.result.Warnings = append(c.result.Warnings, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a strategy definition for structural and semantic errors.
func Validate(def *models.StrategyDefinition) ValidationResult {
	c := &collector{}
	if def == nil {
		c.fail("", "required", "strategy is required")
		return c.result
	}

	if err := structValidator.Struct(def); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				c.addFieldError(fe)
			}
		} else {
			c.fail("", "invalid", "strategy could not be validated")
		}
	}

	for i, cond := range def.Conditions {
		if i >= MaxConditions {
			break
		}
		c.checkCondition(fmt.Sprintf("conditions[%d]", i), cond)
	}

	c.checkFormula(def)
	c.checkStake(def)

	c.result.Valid = len(c.result.Errors) == 0
	return c.result
}

// addFieldError maps validator tags onto stable issue codes
func (c *collector) addFieldError(fe validator.FieldError) {
	path := jsonPath(fe.Namespace())
	structPath := fe.StructNamespace()
	switch {
	case fe.StructField() == "Conditions" && (fe.Tag() == "required" || fe.Tag() == "min"):
		c.fail("conditions", "no_conditions", "at least one condition is required")
	case fe.StructField() == "Conditions" && fe.Tag() == "max":
		c.fail("conditions", "too_many_conditions", "at most %d conditions are allowed", MaxConditions)
	case strings.Contains(structPath, "Conditions["):
		// per-condition problems are reported by checkCondition
	case fe.Tag() == "required":
		c.fail(path, "required", "%s is required", path)
	case fe.Tag() == "slug":
		c.fail(path, "invalid_id", "id must be lowercase letters, digits, '-' or '_' with no whitespace")
	case fe.Tag() == "semver":
		c.fail(path, "invalid_version", "version must look like 1.2.3")
	case fe.StructField() == "Action":
		c.fail(path, "unknown_action", "action must be one of bet_win, bet_place")
	case strings.Contains(structPath, ".Stake."):
		c.fail(path, "invalid_stake", "%s violates %s=%s", path, fe.Tag(), fe.Param())
	default:
		c.fail(path, "invalid", "%s failed %s validation", path, fe.Tag())
	}
}

func (c *collector) checkCondition(path string, cond models.StrategyCondition) {
	field := cond.Field
	switch {
	case field == "":
		c.fail(path+".field", "required", "field is required")
		return
	case !models.IsKnownField(field):
		c.fail(path+".field", "unknown_field", "unknown field %q", field)
		return
	case models.IsExtendedField(field):
		c.warn(path+".field", "extended_field", "field %q is not available from every data source", field)
	}

	switch cond.EffectiveTimeRef() {
	case models.TimeRefCurrent:
	case models.TimeRefFirst, models.TimeRefLast:
		if !models.IsTimelineField(field) {
			c.fail(path+".time_ref", "time_ref_unsupported", "field %q has no odds timeline", field)
		}
	default:
		c.fail(path+".time_ref", "unknown_time_ref", "unknown time reference %q", cond.TimeRef)
	}

	value := cond.Value
	switch cond.Operator {
	case models.OpEq, models.OpNe:
		if value.Scalar == nil {
			c.fail(path+".value", "value_shape", "operator %s needs a single value", cond.Operator)
		}
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		if value.Scalar == nil {
			c.fail(path+".value", "value_shape", "operator %s needs a single value", cond.Operator)
		} else if !value.Scalar.IsNumber() {
			c.fail(path+".value", "value_shape", "operator %s needs a number", cond.Operator)
		}
	case models.OpBetween:
		if !value.IsList() || len(value.List) != 2 {
			c.fail(path+".value", "value_shape", "between needs exactly [min, max]")
			return
		}
		if !value.List[0].IsNumber() || !value.List[1].IsNumber() {
			c.fail(path+".value", "value_shape", "between bounds must be numbers")
			return
		}
		if value.List[0].Num > value.List[1].Num {
			c.fail(path+".value", "value_shape", "between lower bound exceeds upper bound")
		}
	case models.OpIn:
		if !value.IsList() || len(value.List) == 0 {
			c.fail(path+".value", "value_shape", "in needs a non-empty list")
		}
	case "":
		c.fail(path+".operator", "required", "operator is required")
	default:
		c.fail(path+".operator", "unknown_operator", "unknown operator %q", cond.Operator)
	}
}

func (c *collector) checkFormula(def *models.StrategyDefinition) {
	if def.Formula == "" {
		if def.MinScore != nil {
			c.fail("min_score", "min_score_without_formula", "min_score requires a formula")
		}
		return
	}

	expr, err := formula.Parse(def.Formula)
	if err != nil {
		var fe *formula.Error
		if errors.As(err, &fe) {
			c.fail("formula", string(fe.Code), "%s", fe.Message)
			return
		}
		c.fail("formula", string(formula.CodeSyntax), "formula could not be parsed")
		return
	}
	for _, name := range expr.Variables() {
		if models.IsExtendedField(name) {
			c.warn("formula", "extended_field", "formula reads %q, which is not available from every data source", name)
		}
	}
}

func (c *collector) checkStake(def *models.StrategyDefinition) {
	if def.Stake == nil {
		return
	}
	if def.Stake.UseKelly && def.Formula == "" {
		c.warn("stake.use_kelly", "kelly_without_score", "kelly sizing needs a formula score and will fall back to the next stake rule")
	}
}

// jsonPath strips the root type from a validator namespace, leaving e.g. stake.fixed
func jsonPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
