package interactionmodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Sentinel markers for slots whose metadata lacks a name or a type.
const (
	UnknownSlotName = "?unknown-name?"
	UnknownSlotType = "?unknown-type?"
)

// PromptPurposeElicitation is the prompt purpose used to ask for a slot value.
const PromptPurposeElicitation = "elicitation"

// VariationPlainText is the only prompt variation format consumed here.
const VariationPlainText = "PlainText"

// Slot is a named, typed parameter of an intent.
type Slot struct {
	Name                 string            `json:"name"`
	Type                 string            `json:"type"`
	ElicitationRequired  bool              `json:"elicitationRequired"`
	ConfirmationRequired bool              `json:"confirmationRequired"`
	Prompts              map[string]string `json:"prompts,omitempty"`
	Samples              []string          `json:"samples,omitempty"`
}

// ElicitationPromptID returns the prompt id used to elicit the slot, if any.
func (s Slot) ElicitationPromptID() (string, bool) {
	id, ok := s.Prompts[PromptPurposeElicitation]
	return id, ok && id != ""
}

// Intent is a named user goal with its slots.
type Intent struct {
	Name                 string            `json:"name"`
	ConfirmationRequired bool              `json:"confirmationRequired"`
	Prompts              map[string]string `json:"prompts,omitempty"`
	Samples              []string          `json:"samples,omitempty"`
	Slots                []Slot            `json:"slots"`
}

// Variation is one (format, text) rendering of a prompt.
type Variation struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Prompt is the text a bot uses to ask for something, in several variations.
type Prompt struct {
	ID         string      `json:"id"`
	Variations []Variation `json:"variations"`
}

// PlainText returns the first plain-text variation.
func (p Prompt) PlainText() (string, bool) {
	for _, v := range p.Variations {
		if v.Type == VariationPlainText {
			return v.Value, true
		}
	}
	return "", false
}

// Model is a read-only view over a bot's intents, slots and prompts.
type Model struct {
	invocationName string
	intents        []Intent
	byName         map[string]int
	prompts        map[string]Prompt
	logger         *slog.Logger
}

// New builds a model from already resolved intents and prompts.
func New(invocationName string, intents []Intent, prompts []Prompt) *Model {
	m := &Model{
		invocationName: invocationName,
		byName:         make(map[string]int, len(intents)),
		prompts:        make(map[string]Prompt, len(prompts)),
		logger:         slog.Default(),
	}
	for _, in := range intents {
		in.Slots = normalizeSlots(in.Slots)
		if idx, exists := m.byName[in.Name]; exists {
			m.intents[idx] = in
			continue
		}
		m.byName[in.Name] = len(m.intents)
		m.intents = append(m.intents, in)
	}
	for _, p := range prompts {
		m.prompts[p.ID] = p
	}
	return m
}

// WithLogger sets the logger used for soft lookup failures.
func (m *Model) WithLogger(logger *slog.Logger) *Model {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// InvocationName returns the phrase that opens the skill, if known.
func (m *Model) InvocationName() string {
	return m.invocationName
}

// Intents returns the intents in declaration order.
func (m *Model) Intents() []Intent {
	out := make([]Intent, len(m.intents))
	copy(out, m.intents)
	return out
}

// IntentNames returns the intent names in declaration order.
func (m *Model) IntentNames() []string {
	out := make([]string, 0, len(m.intents))
	for _, in := range m.intents {
		out = append(out, in.Name)
	}
	return out
}

// Intent looks up one intent by name.
func (m *Model) Intent(name string) (Intent, bool) {
	idx, ok := m.byName[name]
	if !ok {
		return Intent{}, false
	}
	return m.intents[idx], true
}

// SlotsByIntent returns the slots of an intent, or nil when the intent is not
// part of the model. The miss is logged together with a dump of the model.
func (m *Model) SlotsByIntent(intentName string) []Slot {
	in, ok := m.Intent(intentName)
	if !ok {
		var dump bytes.Buffer
		m.Dump(&dump)
		m.logger.Warn("intent not found in interaction model",
			slog.String("intent", intentName),
			slog.String("model", dump.String()))
		return nil
	}
	out := make([]Slot, len(in.Slots))
	copy(out, in.Slots)
	return out
}

// SlotNames returns the slot names of an intent in declaration order.
func (m *Model) SlotNames(intentName string) []string {
	in, ok := m.Intent(intentName)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(in.Slots))
	for _, s := range in.Slots {
		out = append(out, s.Name)
	}
	return out
}

// RequiredSlots returns the names of the intent's slots that require
// elicitation. It returns nil when the intent is unknown so callers can tell
// missing metadata apart from an intent without required slots.
func (m *Model) RequiredSlots(intentName string) []string {
	in, ok := m.Intent(intentName)
	if !ok {
		return nil
	}
	out := []string{}
	for _, s := range in.Slots {
		if s.ElicitationRequired {
			out = append(out, s.Name)
		}
	}
	return out
}

// SamplesByIntent returns the sample utterances of an intent.
func (m *Model) SamplesByIntent(intentName string) []string {
	in, ok := m.Intent(intentName)
	if !ok {
		return nil
	}
	return append([]string(nil), in.Samples...)
}

// PromptsByIntent maps each slot of the intent to its elicitation prompt text.
// Slots without a resolvable prompt are left out.
func (m *Model) PromptsByIntent(intentName string) map[string]string {
	out := map[string]string{}
	in, ok := m.Intent(intentName)
	if !ok {
		m.logger.Warn("no prompts for unknown intent", slog.String("intent", intentName))
		return out
	}
	for _, s := range in.Slots {
		id, ok := s.ElicitationPromptID()
		if !ok {
			continue
		}
		text, ok := m.PromptVariationByElicitation(id)
		if !ok {
			m.logger.Warn("elicitation prompt not resolved",
				slog.String("intent", intentName),
				slog.String("slot", s.Name),
				slog.String("prompt_id", id))
			continue
		}
		out[s.Name] = text
	}
	return out
}

// PromptVariationByElicitation resolves an elicitation prompt id to its
// plain-text variation.
func (m *Model) PromptVariationByElicitation(elicitationID string) (string, bool) {
	p, ok := m.prompts[elicitationID]
	if !ok {
		return "", false
	}
	return p.PlainText()
}

// Dump writes a human-readable listing of the model.
func (m *Model) Dump(w io.Writer) {
	if m.invocationName != "" {
		fmt.Fprintf(w, "invocation: %s\n", m.invocationName)
	}
	for _, in := range m.intents {
		fmt.Fprintf(w, "%s", in.Name)
		if in.ConfirmationRequired {
			fmt.Fprint(w, " (confirmation required)")
		}
		fmt.Fprintln(w)
		for _, s := range in.Slots {
			fmt.Fprintf(w, "\t%s: %s elicitation=%v\n", s.Name, s.Type, s.ElicitationRequired)
			purposes := make([]string, 0, len(s.Prompts))
			for purpose := range s.Prompts {
				purposes = append(purposes, purpose)
			}
			sort.Strings(purposes)
			for _, purpose := range purposes {
				if text, ok := m.PromptVariationByElicitation(s.Prompts[purpose]); ok {
					fmt.Fprintf(w, "\t\t%s: %s\n", purpose, text)
				}
			}
		}
	}
}

type document struct {
	InteractionModel struct {
		LanguageModel struct {
			InvocationName string `json:"invocationName"`
			Intents        []struct {
				Name    string   `json:"name"`
				Samples []string `json:"samples"`
				Slots   []struct {
					Name    string   `json:"name"`
					Type    string   `json:"type"`
					Samples []string `json:"samples"`
				} `json:"slots"`
			} `json:"intents"`
		} `json:"languageModel"`
		Dialog struct {
			Intents []Intent `json:"intents"`
		} `json:"dialog"`
		Prompts []Prompt `json:"prompts"`
	} `json:"interactionModel"`
}

// Parse reads an Alexa interaction-model document. Language-model intents give
// the intent order, samples and slot types; dialog intents add elicitation and
// confirmation metadata and prompt ids.
func Parse(raw []byte) (*Model, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode interaction model: %w", err)
	}
	im := doc.InteractionModel

	dialogIntents := make(map[string]Intent, len(im.Dialog.Intents))
	for _, in := range im.Dialog.Intents {
		dialogIntents[in.Name] = in
	}

	intents := make([]Intent, 0, len(im.LanguageModel.Intents))
	seen := map[string]struct{}{}
	for _, lm := range im.LanguageModel.Intents {
		seen[lm.Name] = struct{}{}
		in, hasDialog := dialogIntents[lm.Name]
		if !hasDialog {
			in = Intent{Name: lm.Name}
			for _, s := range lm.Slots {
				in.Slots = append(in.Slots, Slot{Name: s.Name, Type: s.Type})
			}
		}
		in.Samples = lm.Samples
		slotSamples := map[string][]string{}
		slotTypes := map[string]string{}
		for _, s := range lm.Slots {
			slotSamples[s.Name] = s.Samples
			slotTypes[s.Name] = s.Type
		}
		for i := range in.Slots {
			if in.Slots[i].Type == "" {
				in.Slots[i].Type = slotTypes[in.Slots[i].Name]
			}
			in.Slots[i].Samples = slotSamples[in.Slots[i].Name]
		}
		intents = append(intents, in)
	}
	for _, in := range im.Dialog.Intents {
		if _, ok := seen[in.Name]; !ok {
			intents = append(intents, in)
		}
	}
	return New(strings.TrimSpace(im.LanguageModel.InvocationName), intents, im.Prompts), nil
}

func normalizeSlots(slots []Slot) []Slot {
	out := make([]Slot, len(slots))
	for i, s := range slots {
		if strings.TrimSpace(s.Name) == "" {
			s.Name = UnknownSlotName
		}
		if strings.TrimSpace(s.Type) == "" {
			s.Type = UnknownSlotType
		}
		out[i] = s
	}
	return out
}
