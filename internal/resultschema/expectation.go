package resultschema

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternPrefix marks a textual expectation as a regular expression.
const PatternPrefix = "re:"

// Expectation is the expected value of one slot: a literal, a pattern, or an
// explicit absence of value.
type Expectation struct {
	literal string
	pattern *regexp.Regexp
	absent  bool
}

// Literal expects a case-insensitive literal value.
func Literal(value string) Expectation {
	return Expectation{literal: strings.ToLower(strings.TrimSpace(value))}
}

// Pattern expects a value matching re.
func Pattern(re *regexp.Regexp) Expectation {
	return Expectation{pattern: re}
}

// Absent expects the slot to carry no value.
func Absent() Expectation {
	return Expectation{absent: true}
}

// ParseExpectation reads the textual form used in suite files: values starting
// with "re:" are patterns, everything else is a literal.
func ParseExpectation(raw string) (Expectation, error) {
	if expr, ok := strings.CutPrefix(raw, PatternPrefix); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return Expectation{}, fmt.Errorf("compile pattern %q: %w", expr, err)
		}
		return Pattern(re), nil
	}
	return Literal(raw), nil
}

// IsPattern reports whether the expectation is a pattern.
func (e Expectation) IsPattern() bool { return e.pattern != nil }

// IsAbsent reports whether the expectation requires no value.
func (e Expectation) IsAbsent() bool { return e.absent }

// Matches tests an actual slot value. present is false when the slot was not
// reported at all.
func (e Expectation) Matches(actual string, present bool) bool {
	switch {
	case e.absent:
		return !present || strings.TrimSpace(actual) == ""
	case e.pattern != nil:
		return present && e.pattern.MatchString(actual)
	default:
		return present && strings.EqualFold(e.literal, strings.TrimSpace(actual))
	}
}

// String renders the expectation the way suite files write it.
func (e Expectation) String() string {
	switch {
	case e.absent:
		return "<none>"
	case e.pattern != nil:
		return PatternPrefix + e.pattern.String()
	default:
		return e.literal
	}
}

func (e Expectation) schemaValue() any {
	switch {
	case e.absent:
		return nil
	case e.pattern != nil:
		return e.pattern.String()
	default:
		return e.literal
	}
}

// Field is one named expectation of an expected result.
type Field struct {
	Name string
	Want Expectation
}

// LiteralField is shorthand for a literal field.
func LiteralField(name, value string) Field {
	return Field{Name: name, Want: Literal(value)}
}

// PatternField is shorthand for a pattern field.
func PatternField(name string, re *regexp.Regexp) Field {
	return Field{Name: name, Want: Pattern(re)}
}
