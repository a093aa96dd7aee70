package resultschema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversion"
)

// ExpectedResult is the expected outcome of one turn: intent name, dialog
// state and an ordered mapping of snake_cased slot names to expectations.
type ExpectedResult struct {
	schema      string
	intentName  string
	dialogState dialog.DialogState
	keys        []string
	values      map[string]Expectation
}

// Type returns the schema name the result was built from.
func (r *ExpectedResult) Type() string { return r.schema }

// IntentName returns the expected intent.
func (r *ExpectedResult) IntentName() string { return r.intentName }

// DialogState returns the expected dialog state.
func (r *ExpectedResult) DialogState() dialog.DialogState { return r.dialogState }

// Len returns the number of slot expectations.
func (r *ExpectedResult) Len() int { return len(r.keys) }

// Keys returns the slot fields in insertion order.
func (r *ExpectedResult) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Get returns the expectation of a slot field.
func (r *ExpectedResult) Get(field string) (Expectation, bool) {
	e, ok := r.values[conversion.ToSnakeCase(field)]
	return e, ok
}

// WithCarried returns a copy of r completed with previous slot values: every
// slot with a non-empty value that r does not mention is expected to keep that
// value. r itself is left untouched.
func (r *ExpectedResult) WithCarried(previous map[string]string) *ExpectedResult {
	out := &ExpectedResult{
		schema:      r.schema,
		intentName:  r.intentName,
		dialogState: r.dialogState,
		keys:        append([]string(nil), r.keys...),
		values:      make(map[string]Expectation, len(r.values)+len(previous)),
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	names := make([]string, 0, len(previous))
	for name := range previous {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := previous[name]
		field := conversion.ToSnakeCase(name)
		if _, exists := out.values[field]; exists || strings.TrimSpace(value) == "" {
			continue
		}
		out.keys = append(out.keys, field)
		out.values[field] = Literal(value)
	}
	return out
}

// String renders the result for diagnostics.
func (r *ExpectedResult) String() string {
	parts := make([]string, 0, len(r.keys)+2)
	parts = append(parts, "intent_name="+r.intentName, "dialog_state="+string(r.dialogState))
	for _, k := range r.keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, r.values[k]))
	}
	return r.schema + "{" + strings.Join(parts, ", ") + "}"
}
