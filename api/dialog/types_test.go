package dialog

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEvaluateFulfillment(t *testing.T) {
	t.Parallel()

	required := []string{"CarType", "PickUpCity"}
	tests := []struct {
		name      string
		slots     map[string]string
		required  []string
		known     bool
		fulfilled bool
	}{
		{name: "both_required_present", slots: map[string]string{"CarType": "midsize", "PickUpCity": "buenos aires"}, required: required, known: true, fulfilled: true},
		{name: "one_required_present", slots: map[string]string{"CarType": "midsize", "PickUpCity": ""}, required: required, known: true, fulfilled: false},
		{name: "required_missing", slots: map[string]string{"CarType": "midsize"}, required: required, known: true, fulfilled: false},
		{name: "whitespace_is_empty", slots: map[string]string{"CarType": " ", "PickUpCity": "x"}, required: required, known: true, fulfilled: false},
		{name: "no_required_slots", slots: map[string]string{}, required: []string{}, known: true, fulfilled: true},
		{name: "metadata_unavailable", slots: map[string]string{"CarType": "midsize"}, required: nil, known: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			outcome := Outcome{SlotValues: tc.slots}
			outcome.EvaluateFulfillment(tc.required)
			fulfilled, known := outcome.Fulfillment()
			if known != tc.known {
				t.Fatalf("expected known=%v, got %v", tc.known, known)
			}
			if fulfilled != tc.fulfilled {
				t.Fatalf("expected fulfilled=%v, got %v", tc.fulfilled, fulfilled)
			}
			if outcome.IsFulfilled() != (tc.known && tc.fulfilled) {
				t.Fatalf("IsFulfilled disagrees with Fulfillment")
			}
		})
	}
}

func TestSlotValue(t *testing.T) {
	t.Parallel()

	outcome := Outcome{SlotValues: map[string]string{"CarType": "midsize", "DriverAge": ""}}
	if v, err := outcome.SlotValue("CarType"); err != nil || v != "midsize" {
		t.Fatalf("expected midsize, got %q err=%v", v, err)
	}
	if v, err := outcome.SlotValue("DriverAge"); err != nil || v != "" {
		t.Fatalf("expected empty present slot, got %q err=%v", v, err)
	}
	_, err := outcome.SlotValue("ReturnDate")
	if !errors.Is(err, ErrSlotNotPresent) {
		t.Fatalf("expected ErrSlotNotPresent, got %v", err)
	}
	if !strings.Contains(err.Error(), "CarType") {
		t.Fatalf("expected present slots in message, got %v", err)
	}
}

func TestOutcomeSpeechAccessors(t *testing.T) {
	t.Parallel()

	var empty Outcome
	if empty.OutputSpeech() != "" || empty.Reprompt() != "" {
		t.Fatalf("expected empty speech for bare outcome")
	}
	outcome := Outcome{
		Speech:         &Speech{Kind: SpeechSSML, Value: "<speak>What city?</speak>"},
		RepromptSpeech: &Speech{Kind: SpeechPlainText, Value: "Which city?"},
	}
	if outcome.Speech.Text() != "What city?" {
		t.Fatalf("expected speak tags stripped, got %q", outcome.Speech.Text())
	}
	if outcome.Reprompt() != "Which city?" {
		t.Fatalf("unexpected reprompt %q", outcome.Reprompt())
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: &TimeoutError{JobID: "sim-1", Attempts: 7}, want: true},
		{name: "transport", err: fmt.Errorf("post simulation: %w", ErrTransport), want: true},
		{name: "remote_failure", err: &RemoteFailureError{JobID: "sim-1", Detail: "boom"}, want: false},
		{name: "configuration", err: fmt.Errorf("%w: token expired", ErrConfiguration), want: false},
		{name: "plain", err: errors.New("other"), want: false},
	}
	for _, tc := range tests {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	t.Parallel()

	unknown := &UnknownSlotError{Intent: "BookCar", Skill: "BookMyTripSkill", Slot: "DoesNotExist", Valid: []string{"CarType", "DriverAge"}}
	if !errors.Is(unknown, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot")
	}
	for _, want := range []string{"BookCar", "BookMyTripSkill", "CarType", "DriverAge"} {
		if !strings.Contains(unknown.Error(), want) {
			t.Fatalf("expected %q in %q", want, unknown.Error())
		}
	}
	if !errors.Is(&SchemaViolationError{Schema: "BookCarResult"}, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation")
	}
	if !errors.Is(&MismatchError{Field: "dialog_state"}, ErrExpectationMismatch) {
		t.Fatalf("expected ErrExpectationMismatch")
	}
	if err := DialogState("Bogus").Validate(); err == nil {
		t.Fatalf("expected invalid dialog state")
	}
}
