package resultschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversion"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
)

// Base fields present in every expected result.
const (
	FieldType        = "type"
	FieldIntentName  = "intent_name"
	FieldDialogState = "dialog_state"
)

// ResultSuffix is appended to the intent name to name its schema.
const ResultSuffix = "Result"

// IntentSource exposes the intents a registry is built from.
type IntentSource interface {
	Intents() []interactionmodel.Intent
}

// Schema is the set of valid expected-result fields of one intent, compiled
// into a JSON Schema.
type Schema struct {
	name       string
	intent     string
	slotFields []string
	fieldSet   map[string]struct{}
	document   []byte
	compiled   *jsonschema.Schema
}

// Registry holds one schema per intent of a bot. It is read-only once built.
type Registry struct {
	bot      string
	byIntent map[string]*Schema
}

// BuildSchemasForBot builds a schema for every intent of the bot. Schemas are
// always derived from the live interaction model.
func BuildSchemasForBot(bot string, source IntentSource) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: interaction model is required for bot %q", dialog.ErrConfiguration, bot)
	}
	reg := &Registry{bot: bot, byIntent: map[string]*Schema{}}
	for _, in := range source.Intents() {
		schema, err := compileIntentSchema(bot, in)
		if err != nil {
			return nil, err
		}
		reg.byIntent[in.Name] = schema
	}
	return reg, nil
}

// Bot returns the bot the registry was built for.
func (r *Registry) Bot() string {
	return r.bot
}

// Intents returns the intents with a schema, sorted.
func (r *Registry) Intents() []string {
	out := make([]string, 0, len(r.byIntent))
	for name := range r.byIntent {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForIntent returns the schema of an intent.
func (r *Registry) ForIntent(intent string) (*Schema, error) {
	schema, ok := r.byIntent[intent]
	if !ok {
		return nil, fmt.Errorf("%w: no result schema for intent %q of bot %q, known intents: [%s]",
			dialog.ErrConfiguration, intent, r.bot, strings.Join(r.Intents(), ", "))
	}
	return schema, nil
}

// ByName returns the schema with the given result name, e.g. "BookCarResult".
func (r *Registry) ByName(resultName string) (*Schema, bool) {
	schema, ok := r.byIntent[strings.TrimSuffix(resultName, ResultSuffix)]
	if !ok || schema.name != resultName {
		return nil, false
	}
	return schema, true
}

// Name returns the result name, e.g. "BookCarResult".
func (s *Schema) Name() string { return s.name }

// Intent returns the intent the schema belongs to.
func (s *Schema) Intent() string { return s.intent }

// SlotFields returns the snake_cased slot fields in declaration order.
func (s *Schema) SlotFields() []string {
	return append([]string(nil), s.slotFields...)
}

// ValidFields returns every accepted field, sorted.
func (s *Schema) ValidFields() []string {
	out := make([]string, 0, len(s.fieldSet))
	for f := range s.fieldSet {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Document returns the JSON Schema the expected results are validated against.
func (s *Schema) Document() []byte {
	return append([]byte(nil), s.document...)
}

// NewResult builds an expected result. Field names are snake_cased; a field
// the intent does not declare fails with a schema violation.
func (s *Schema) NewResult(state dialog.DialogState, fields ...Field) (*ExpectedResult, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	result := &ExpectedResult{
		schema:      s.name,
		intentName:  s.intent,
		dialogState: state,
		values:      map[string]Expectation{},
	}
	candidate := map[string]any{
		FieldType:        s.name,
		FieldIntentName:  s.intent,
		FieldDialogState: string(state),
	}
	var unknown []string
	for _, f := range fields {
		name := conversion.ToSnakeCase(f.Name)
		if _, ok := s.fieldSet[name]; !ok || isBaseField(name) {
			unknown = append(unknown, name)
		}
		candidate[name] = f.Want.schemaValue()
		if _, exists := result.values[name]; !exists {
			result.keys = append(result.keys, name)
		}
		result.values[name] = f.Want
	}
	if err := s.compiled.Validate(candidate); err != nil {
		return nil, &dialog.SchemaViolationError{Schema: s.name, Fields: unknown, Valid: s.ValidFields(), Cause: err}
	}
	if len(unknown) > 0 {
		return nil, &dialog.SchemaViolationError{Schema: s.name, Fields: unknown, Valid: s.ValidFields()}
	}
	return result, nil
}

func compileIntentSchema(bot string, in interactionmodel.Intent) (*Schema, error) {
	schema := &Schema{
		name:     in.Name + ResultSuffix,
		intent:   in.Name,
		fieldSet: map[string]struct{}{FieldType: {}, FieldIntentName: {}, FieldDialogState: {}},
	}
	properties := map[string]any{
		FieldType:        map[string]any{"const": schema.name},
		FieldIntentName:  map[string]any{"const": in.Name},
		FieldDialogState: map[string]any{"type": "string"},
	}
	for _, slot := range in.Slots {
		field := conversion.ToSnakeCase(slot.Name)
		if _, exists := schema.fieldSet[field]; exists {
			continue
		}
		schema.fieldSet[field] = struct{}{}
		schema.slotFields = append(schema.slotFields, field)
		properties[field] = map[string]any{"type": []string{"string", "null"}}
	}

	id := fmt.Sprintf("mem://results/%s/%s.json", url.PathEscape(bot), url.PathEscape(schema.name))
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"$id":                  id,
		"title":                schema.name,
		"type":                 "object",
		"required":             []string{FieldType, FieldIntentName, FieldDialogState},
		"properties":           properties,
		"additionalProperties": false,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", schema.name, err)
	}
	schema.document = raw

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(id, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", schema.name, err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", schema.name, err)
	}
	schema.compiled = compiled
	return schema, nil
}

func isBaseField(name string) bool {
	return name == FieldType || name == FieldIntentName || name == FieldDialogState
}
