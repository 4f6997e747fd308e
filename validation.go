package relay

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rule checks one field value. It returns a failure message and false when
// the value is invalid. Rules other than Required accept empty values.
type Rule interface {
	Check(field string, value interface{}) (string, bool)
}

// RuleFunc is a function type that implements Rule.
type RuleFunc func(field string, value interface{}) (string, bool)

// Check calls f.
func (f RuleFunc) Check(field string, value interface{}) (string, bool) {
	return f(field, value)
}

// FieldRule binds a field name and its current value to the rules it must pass.
type FieldRule struct {
	Field string
	Value interface{}
	Rules []Rule
}

// Field builds a FieldRule.
func Field(name string, value interface{}, rules ...Rule) FieldRule {
	return FieldRule{Field: name, Value: value, Rules: rules}
}

// Validatable is implemented by commands and queries that carry field rules.
// Rules returns the descriptor table for the current instance.
type Validatable interface {
	Rules() []FieldRule
}

// ValidationResult is the outcome of validating one model.
type ValidationResult struct {
	IsValid bool
	Errors  map[string][]string
}

// Validator validates a command or query before dispatch.
type Validator interface {
	Validate(model interface{}) ValidationResult
}

// ValidatorFunc is a function type that implements Validator.
type ValidatorFunc func(model interface{}) ValidationResult

// Validate calls f.
func (f ValidatorFunc) Validate(model interface{}) ValidationResult {
	return f(model)
}

// RuleValidator evaluates the Rules table of Validatable models. Models that
// don't implement Validatable are always valid.
type RuleValidator struct{}

var _ Validator = RuleValidator{}

// Validate runs every rule of every field and collects all failures.
func (RuleValidator) Validate(model interface{}) ValidationResult {
	v, ok := model.(Validatable)
	if !ok {
		return ValidationResult{IsValid: true}
	}

	errs := make(map[string][]string)
	for _, fr := range v.Rules() {
		for _, rule := range fr.Rules {
			if msg, ok := rule.Check(fr.Field, fr.Value); !ok {
				errs[fr.Field] = append(errs[fr.Field], msg)
			}
		}
	}

	if len(errs) == 0 {
		return ValidationResult{IsValid: true}
	}
	return ValidationResult{IsValid: false, Errors: errs}
}

// Required fails on nil, blank strings, nil pointers and empty slices or maps.
func Required() Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		if isEmpty(value) {
			return field + " is required", false
		}
		return "", true
	})
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email requires a string shaped like local@domain.tld.
func Email() Rule {
	return Pattern(emailPattern, "%s must be a valid email")
}

// Pattern requires a string matching re. msg may contain one %s for the field name.
func Pattern(re *regexp.Regexp, msg string) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		if isEmpty(value) {
			return "", true
		}
		s, ok := value.(string)
		if !ok || !re.MatchString(s) {
			return formatRuleMessage(msg, field), false
		}
		return "", true
	})
}

// MinLength requires a string of at least n characters.
func MinLength(n int) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		s, ok := value.(string)
		if isEmpty(value) || (ok && utf8.RuneCountInString(s) >= n) {
			return "", true
		}
		return fmt.Sprintf("%s must be at least %d characters", field, n), false
	})
}

// MaxLength requires a string of at most n characters.
func MaxLength(n int) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		s, ok := value.(string)
		if isEmpty(value) || (ok && utf8.RuneCountInString(s) <= n) {
			return "", true
		}
		return fmt.Sprintf("%s must be at most %d characters", field, n), false
	})
}

// Range requires a number between min and max inclusive.
func Range(min, max float64) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		if value == nil {
			return "", true
		}
		f, ok := toFloat(value)
		if !ok || f < min || f > max {
			return fmt.Sprintf("%s must be between %v and %v", field, min, max), false
		}
		return "", true
	})
}

// OneOf requires the value to equal one of the allowed values.
func OneOf(allowed ...interface{}) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		if isEmpty(value) {
			return "", true
		}
		for _, a := range allowed {
			if reflect.DeepEqual(a, value) {
				return "", true
			}
		}
		parts := make([]string, len(allowed))
		for i, a := range allowed {
			parts[i] = fmt.Sprint(a)
		}
		return fmt.Sprintf("%s must be one of [%s]", field, strings.Join(parts, ", ")), false
	})
}

// Check builds a rule from a predicate and a message.
func Check(msg string, ok func(value interface{}) bool) Rule {
	return RuleFunc(func(field string, value interface{}) (string, bool) {
		if ok(value) {
			return "", true
		}
		return formatRuleMessage(msg, field), false
	})
}

func formatRuleMessage(msg, field string) string {
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, field)
	}
	return msg
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

func toFloat(value interface{}) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
