// Package validation implements a small declarative rule engine for request
// payloads. Rules are declared once per endpoint as an ordered list of field
// constraints and evaluated in a single, non-short-circuiting pass: every
// violation is reported, in declaration order.
//
// Each constraint is checked through a shared go-playground/validator
// instance (`required`, `min`, `email`, `eqcsfield`, `eq`), so the engine only
// decides which checks apply and how violations read.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches tag parsing.
var validate = validator.New()

// Format names a well-known string format.
type Format string

// FormatEmail requires an RFC 5322 style address.
const FormatEmail Format = "email"

// Input is a decoded request payload keyed by field name.
type Input map[string]any

// Rule lists the constraints of one field. Zero values disable a constraint.
type Rule struct {
	// Required rejects absent or falsy values ("", false, 0, nil).
	Required bool
	// MinLength is the minimum rune length of a present string value.
	MinLength int
	// Format constrains the shape of a present string value.
	Format Format
	// Ref names another field this field must equal.
	Ref string
	// ExactMatch makes the Ref comparison case-sensitive. Without it, string
	// values are compared case-insensitively.
	ExactMatch bool
	// Equals, when non-nil, is the only accepted value.
	Equals any
	// String rejects present values that are not strings. It is implied by
	// MinLength, Format and Ref.
	String bool
}

func (r Rule) wantsString() bool {
	return r.String || r.MinLength > 0 || r.Format != "" || r.Ref != ""
}

// FieldRule binds a Rule to a field name.
type FieldRule struct {
	Field string
	Rule  Rule
}

// Rules is an ordered rule set. Violations are reported in this order.
type Rules []FieldRule

// Violation is a single failed constraint.
type Violation struct {
	Field   string
	Tag     string
	Message string
}

// Error is returned by Check when at least one constraint failed. It keeps the
// offending input for diagnostics.
type Error struct {
	Violations []Violation
	Input      Input
}

// Error implements error. A single violation reads as itself; several are
// summarized as "<n> errors occurred".
func (e *Error) Error() string {
	switch len(e.Violations) {
	case 0:
		return "validation failed"
	case 1:
		return e.Violations[0].Message
	default:
		return fmt.Sprintf("%d errors occurred", len(e.Violations))
	}
}

// Messages returns the violation messages in order.
func (e *Error) Messages() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Message
	}
	return out
}

// Validate evaluates rules against input and returns every violation message.
// An empty result means the input is valid.
func Validate(input Input, rules Rules) []string {
	vs := evaluate(input, rules)
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Message
	}
	return out
}

// Check is Validate returning an *Error (or nil) suitable for error pipelines.
func Check(input Input, rules Rules) error {
	vs := evaluate(input, rules)
	if len(vs) == 0 {
		return nil
	}
	return &Error{Violations: vs, Input: input}
}

func evaluate(input Input, rules Rules) []Violation {
	var out []Violation
	for _, fr := range rules {
		out = append(out, checkField(input, fr.Field, fr.Rule)...)
	}
	return out
}

// checkField applies the required check first; the remaining checks only run
// for present values so a missing field yields exactly one violation. A
// present non-string value on a string rule is likewise a single violation.
func checkField(input Input, key string, r Rule) []Violation {
	val := input[key]
	present := validate.Var(val, "required") == nil

	if !present {
		if r.Required {
			return []Violation{{Field: key, Tag: "required", Message: key + " is required field"}}
		}
		return nil
	}

	s, isString := val.(string)
	if !isString && r.wantsString() {
		return []Violation{{Field: key, Tag: "string", Message: key + " must be a string"}}
	}

	var out []Violation

	if r.MinLength > 0 {
		if validate.Var(s, fmt.Sprintf("min=%d", r.MinLength)) != nil {
			out = append(out, Violation{
				Field:   key,
				Tag:     "min",
				Message: fmt.Sprintf("%s has to more than %d characters", key, r.MinLength),
			})
		}
	}

	if r.Format == FormatEmail {
		if validate.Var(s, "email") != nil {
			out = append(out, Violation{Field: key, Tag: "email", Message: key + " must be a valid email"})
		}
	}

	if r.Ref != "" && !matchesRef(val, input[r.Ref], r.ExactMatch) {
		out = append(out, Violation{Field: key, Tag: "ref", Message: fmt.Sprintf("%s must match %s", key, r.Ref)})
	}

	if r.Equals != nil && !equalsLiteral(val, r.Equals) {
		out = append(out, Violation{Field: key, Tag: "eq", Message: fmt.Sprintf("%s must be %v", key, r.Equals)})
	}

	return out
}

func matchesRef(val, other any, exact bool) bool {
	if other == nil {
		return false
	}
	if !exact {
		a, okA := val.(string)
		b, okB := other.(string)
		if okA && okB {
			return strings.EqualFold(a, b)
		}
	}
	return validate.VarWithValue(val, other, "eqcsfield") == nil
}

// equalsLiteral compares a present value with the expected literal. String
// inputs (form posts) are compared against the literal's textual form, so
// "true" satisfies Equals: true.
func equalsLiteral(val, want any) bool {
	switch val.(type) {
	case string, bool:
		return validate.Var(val, "eq="+fmt.Sprint(want)) == nil
	default:
		return fmt.Sprint(val) == fmt.Sprint(want)
	}
}
