package dialog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var ssmlSpeakRE = regexp.MustCompile(`</?speak>`)

// DialogState is the bot's conversation-control signal for one turn.
type DialogState string

// Lex runtime dialog states.
const (
	StateElicitIntent        DialogState = "ElicitIntent"
	StateConfirmIntent       DialogState = "ConfirmIntent"
	StateElicitSlot          DialogState = "ElicitSlot"
	StateFulfilled           DialogState = "Fulfilled"
	StateReadyForFulfillment DialogState = "ReadyForFulfillment"
	StateFailed              DialogState = "Failed"
)

// Alexa request dialog states.
const (
	StateStarted    DialogState = "STARTED"
	StateInProgress DialogState = "IN_PROGRESS"
	StateCompleted  DialogState = "COMPLETED"
)

// Validate enforces supported dialog state values. The empty state is allowed
// because responses outside a dialog carry none.
func (s DialogState) Validate() error {
	switch s {
	case "", StateElicitIntent, StateConfirmIntent, StateElicitSlot, StateFulfilled, StateReadyForFulfillment, StateFailed,
		StateStarted, StateInProgress, StateCompleted:
		return nil
	default:
		return fmt.Errorf("unsupported dialog_state: %q", s)
	}
}

// SpeechKind is the markup of an output speech value.
type SpeechKind string

const (
	SpeechPlainText SpeechKind = "PlainText"
	SpeechSSML      SpeechKind = "SSML"
)

// Speech is one output speech value.
type Speech struct {
	Kind  SpeechKind `json:"kind,omitempty"`
	Value string     `json:"value,omitempty"`
}

// Text returns the speech without SSML speak tags.
func (s Speech) Text() string {
	if s.Kind != SpeechSSML {
		return s.Value
	}
	return ssmlSpeakRE.ReplaceAllString(s.Value, "")
}

// Outcome is the normalized result of one turn, whatever client produced it.
type Outcome struct {
	IntentName        string            `json:"intent_name,omitempty"`
	DialogState       DialogState       `json:"dialog_state,omitempty"`
	Speech            *Speech           `json:"output_speech,omitempty"`
	RepromptSpeech    *Speech           `json:"reprompt,omitempty"`
	DirectiveType     string            `json:"directive_type,omitempty"`
	ShouldEndSession  bool              `json:"should_end_session"`
	SlotToElicit      string            `json:"slot_to_elicit,omitempty"`
	SessionAttributes map[string]string `json:"session_attributes,omitempty"`
	SlotValues        map[string]string `json:"slots,omitempty"`
	Fulfilled         *bool             `json:"fulfilled,omitempty"`
}

// OutputSpeech returns the output speech value, or "" when the turn produced none.
func (o Outcome) OutputSpeech() string {
	if o.Speech == nil {
		return ""
	}
	return o.Speech.Value
}

// Reprompt returns the reprompt speech value, or "" when absent.
func (o Outcome) Reprompt() string {
	if o.RepromptSpeech == nil {
		return ""
	}
	return o.RepromptSpeech.Value
}

// Slots returns a copy of the slot values reported by the turn.
func (o Outcome) Slots() map[string]string {
	out := make(map[string]string, len(o.SlotValues))
	for k, v := range o.SlotValues {
		out[k] = v
	}
	return out
}

// SlotNames returns the reported slot names in sorted order.
func (o Outcome) SlotNames() []string {
	names := make([]string, 0, len(o.SlotValues))
	for k := range o.SlotValues {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SlotValue returns the value of a reported slot. A slot that is reported
// without a value yields "", a slot that is not reported at all fails.
func (o Outcome) SlotValue(name string) (string, error) {
	v, ok := o.SlotValues[name]
	if !ok {
		return "", fmt.Errorf("%w: %q (present: %s)", ErrSlotNotPresent, name, strings.Join(o.SlotNames(), ", "))
	}
	return v, nil
}

// HasSlots reports whether the turn reported any slot.
func (o Outcome) HasSlots() bool {
	return len(o.SlotValues) > 0
}

// Fulfillment returns the fulfilled flag and whether it could be determined.
func (o Outcome) Fulfillment() (fulfilled bool, known bool) {
	if o.Fulfilled == nil {
		return false, false
	}
	return *o.Fulfilled, true
}

// IsFulfilled reports a determined, positive fulfillment.
func (o Outcome) IsFulfilled() bool {
	fulfilled, known := o.Fulfillment()
	return known && fulfilled
}

// EvaluateFulfillment sets Fulfilled from the slots that require elicitation.
// A nil required list means the metadata is unavailable and leaves the flag
// undetermined.
func (o *Outcome) EvaluateFulfillment(required []string) {
	if required == nil {
		o.Fulfilled = nil
		return
	}
	fulfilled := true
	for _, name := range required {
		if strings.TrimSpace(o.SlotValues[name]) == "" {
			fulfilled = false
			break
		}
	}
	o.Fulfilled = &fulfilled
}

// NormalizeSlotValues lower-cases slot values and drops nothing: slots reported
// without a value are kept with an empty value.
func NormalizeSlotValues(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
