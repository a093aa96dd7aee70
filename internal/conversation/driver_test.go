package conversation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
)

var carSlots = []string{"CarType", "PickUpCity", "PickUpDate", "ReturnDate", "DriverAge"}

func carRentalModel() *interactionmodel.Model {
	slots := make([]interactionmodel.Slot, 0, len(carSlots))
	for _, name := range carSlots {
		slots = append(slots, interactionmodel.Slot{
			Name:                name,
			Type:                "AMAZON.LITERAL",
			ElicitationRequired: true,
			Prompts:             map[string]string{interactionmodel.PromptPurposeElicitation: "Elicit.Slot." + name},
		})
	}
	prompts := []interactionmodel.Prompt{{
		ID:         "Elicit.Slot.CarType",
		Variations: []interactionmodel.Variation{{Type: interactionmodel.VariationPlainText, Value: "What type of car?"}},
	}}
	return interactionmodel.New("book my trip", []interactionmodel.Intent{
		{Name: "BookCar", ConfirmationRequired: true, Slots: slots},
		{Name: "AMAZON.HelpIntent"},
	}, prompts)
}

// carRentalBot fills the next empty slot with each utterance, then asks for
// confirmation and fulfills on "yes".
type carRentalBot struct {
	values   map[string]string
	sent     []string
	dropSlot string
}

func newCarRentalBot() *carRentalBot {
	return &carRentalBot{values: map[string]string{}}
}

func (b *carRentalBot) Simulate(_ context.Context, text string) (dialog.Outcome, error) {
	b.sent = append(b.sent, text)
	outcome := dialog.Outcome{IntentName: "BookCar"}
	if next := b.nextSlot(); next != "" {
		b.values[next] = text
	} else if text == "yes" {
		outcome.DialogState = dialog.StateFulfilled
	}
	outcome.SlotValues = map[string]string{}
	for _, name := range carSlots {
		if name == b.dropSlot && len(b.sent) > 1 {
			continue
		}
		outcome.SlotValues[name] = b.values[name]
	}
	if outcome.DialogState == "" {
		if next := b.nextSlot(); next != "" {
			outcome.DialogState = dialog.StateElicitSlot
			outcome.SlotToElicit = next
			outcome.Speech = &dialog.Speech{Kind: dialog.SpeechPlainText, Value: "What is your " + next + "?"}
		} else {
			outcome.DialogState = dialog.StateConfirmIntent
		}
	}
	return outcome, nil
}

func (b *carRentalBot) nextSlot() string {
	for _, name := range carSlots {
		if b.values[name] == "" {
			return name
		}
	}
	return ""
}

type simulatorFunc func(ctx context.Context, text string) (dialog.Outcome, error)

func (f simulatorFunc) Simulate(ctx context.Context, text string) (dialog.Outcome, error) {
	return f(ctx, text)
}

type sleepRecorder struct {
	calls []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func carRentalSteps() []Step {
	return []Step{
		{Slot: "CarType", Text: "Midsize"},
		{Slot: "PickUpCity", Text: "Buenos Aires"},
		{Slot: "PickUpDate", Text: "tomorrow"},
		{Slot: "ReturnDate", Text: "five days from now"},
		{Slot: "DriverAge", Text: "twenty five"},
		{Text: "yes"},
	}
}

func TestRunCarRentalRoundTrip(t *testing.T) {
	t.Parallel()

	bot := newCarRentalBot()
	sleeps := &sleepRecorder{}
	driver := New(bot, carRentalModel(), Config{Skill: "BookMyTripSkill", Sleep: sleeps.sleep})

	result, err := driver.Run(context.Background(), "BookCar", carRentalSteps())
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if !result.Passed || !result.Fulfilled || result.Failure() != nil {
		t.Fatalf("expected fulfilled pass, got %+v", result)
	}
	if result.Last.DialogState != dialog.StateFulfilled {
		t.Fatalf("expected fulfilled final state, got %s", result.Last.DialogState)
	}
	want := map[string]string{
		"CarType":    "midsize",
		"PickUpCity": "buenos aires",
		"PickUpDate": "tomorrow",
		"ReturnDate": "five days from now",
		"DriverAge":  "twenty five",
	}
	for name, value := range want {
		if got, err := result.Last.SlotValue(name); err != nil || got != value {
			t.Fatalf("expected %s=%q, got %q err=%v", name, value, got, err)
		}
	}
	if len(bot.sent) != 6 || bot.sent[1] != "buenos aires" {
		t.Fatalf("expected six lower-cased utterances, got %v", bot.sent)
	}
	if len(sleeps.calls) != 5 || sleeps.calls[0] != time.Second {
		t.Fatalf("expected 1s pacing between turns, got %v", sleeps.calls)
	}
	if driver.State() != StateEnded {
		t.Fatalf("expected ended state, got %s", driver.State())
	}
}

func TestFulfillmentAccumulates(t *testing.T) {
	t.Parallel()

	calls := 0
	sim := simulatorFunc(func(_ context.Context, text string) (dialog.Outcome, error) {
		calls++
		if calls == 1 {
			return dialog.Outcome{SlotValues: map[string]string{"A": "x", "B": "y"}}, nil
		}
		return dialog.Outcome{SlotValues: map[string]string{"A": "x", "B": ""}}, nil
	})
	model := interactionmodel.New("", []interactionmodel.Intent{{
		Name: "Two",
		Slots: []interactionmodel.Slot{
			{Name: "A", ElicitationRequired: true},
			{Name: "B", ElicitationRequired: true},
		},
	}}, nil)
	driver := New(sim, model, Config{Sleep: (&sleepRecorder{}).sleep})
	if _, err := driver.Start("Two", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := driver.Step(context.Background(), Step{Text: "one"})
	if err != nil || !first.Outcome.IsFulfilled() {
		t.Fatalf("expected first turn fulfilled, got %+v err=%v", first.Outcome, err)
	}
	second, err := driver.Step(context.Background(), Step{Text: "two"})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if fulfilled, known := second.Outcome.Fulfillment(); fulfilled || !known {
		t.Fatalf("expected second turn not fulfilled, got %v known=%v", fulfilled, known)
	}
	if !driver.Fulfilled() {
		t.Fatalf("expected fulfillment to accumulate")
	}
}

func TestFulfillmentUndeterminedWithoutMetadata(t *testing.T) {
	t.Parallel()

	sim := simulatorFunc(func(_ context.Context, text string) (dialog.Outcome, error) {
		return dialog.Outcome{SlotValues: map[string]string{"A": "x"}}, nil
	})
	model := interactionmodel.New("", nil, nil).WithLogger(quietLogger(&bytes.Buffer{}))
	driver := New(sim, model, Config{})
	if _, err := driver.Start("Missing", []Step{{Text: "hi"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	turn, err := driver.Step(context.Background(), Step{Text: "hi"})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, known := turn.Outcome.Fulfillment(); known {
		t.Fatalf("expected undetermined fulfillment")
	}
}

func TestStepBeforeStartFails(t *testing.T) {
	t.Parallel()

	driver := New(newCarRentalBot(), carRentalModel(), Config{})
	if _, err := driver.Step(context.Background(), Step{Text: "midsize"}); !errors.Is(err, dialog.ErrConversationState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if err := driver.End(); !errors.Is(err, dialog.ErrConversationState) {
		t.Fatalf("expected end before start to fail, got %v", err)
	}
}

func TestStartTwiceAndRestart(t *testing.T) {
	t.Parallel()

	driver := New(newCarRentalBot(), carRentalModel(), Config{})
	if _, err := driver.Start("BookCar", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := driver.Start("BookCar", nil); !errors.Is(err, dialog.ErrConversationState) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	if err := driver.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := driver.Step(context.Background(), Step{Text: "x"}); !errors.Is(err, dialog.ErrConversationState) {
		t.Fatalf("expected step after end to fail, got %v", err)
	}
	if _, err := driver.Start("BookCar", nil); err != nil {
		t.Fatalf("expected restart after end, got %v", err)
	}
}

func TestStartUnknownSlot(t *testing.T) {
	t.Parallel()

	driver := New(newCarRentalBot(), carRentalModel(), Config{Skill: "BookMyTripSkill"})
	_, err := driver.Start("BookCar", []Step{{Slot: "HotelName", Text: "hilton"}})
	var unknown *dialog.UnknownSlotError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected unknown slot error, got %v", err)
	}
	msg := err.Error()
	for _, part := range append([]string{"HotelName", "BookCar", "BookMyTripSkill"}, carSlots...) {
		if !strings.Contains(msg, part) {
			t.Fatalf("expected %q in %q", part, msg)
		}
	}
	if driver.State() != StateNotStarted {
		t.Fatalf("expected failed start to leave state unchanged")
	}
}

func TestStartRejectsSlotWithoutText(t *testing.T) {
	t.Parallel()

	driver := New(newCarRentalBot(), carRentalModel(), Config{})
	if _, err := driver.Start("BookCar", []Step{{Slot: "CarType"}}); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartResolvesPromptsOnCopies(t *testing.T) {
	t.Parallel()

	driver := New(newCarRentalBot(), carRentalModel(), Config{})
	steps := []Step{{Slot: "CarType", Text: "midsize"}, {Slot: "PickUpCity", Text: "boston"}}
	resolved, err := driver.Start("BookCar", steps)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resolved[0].Prompt != "What type of car?" {
		t.Fatalf("expected resolved prompt, got %q", resolved[0].Prompt)
	}
	if resolved[1].Prompt != "" {
		t.Fatalf("expected unresolved prompt to stay empty, got %q", resolved[1].Prompt)
	}
	if steps[0].Prompt != "" {
		t.Fatalf("expected caller steps untouched")
	}
}

func TestStepWithoutTextIsSkipped(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	bot := newCarRentalBot()
	driver := New(bot, carRentalModel(), Config{Logger: quietLogger(&logs)})
	if _, err := driver.Start("BookCar", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	turn, err := driver.Step(context.Background(), Step{Prompt: "What type of car?"})
	if err != nil || !turn.Skipped {
		t.Fatalf("expected skipped turn, got %+v err=%v", turn, err)
	}
	if len(bot.sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
	if !strings.Contains(logs.String(), "prompt but no text") {
		t.Fatalf("expected warning, got %q", logs.String())
	}
}

func TestRunPassesWithoutSlots(t *testing.T) {
	t.Parallel()

	sim := simulatorFunc(func(_ context.Context, text string) (dialog.Outcome, error) {
		return dialog.Outcome{IntentName: "AMAZON.HelpIntent"}, nil
	})
	result, err := New(sim, carRentalModel(), Config{Sleep: (&sleepRecorder{}).sleep}).
		Run(context.Background(), "AMAZON.HelpIntent", []Step{{Text: "help"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected pass when no slots are reported")
	}
}

func TestRunFailsWithUnfilledSlots(t *testing.T) {
	t.Parallel()

	result, err := New(newCarRentalBot(), carRentalModel(), Config{Sleep: (&sleepRecorder{}).sleep}).
		Run(context.Background(), "BookCar", carRentalSteps()[:2])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Passed || result.Fulfilled {
		t.Fatalf("expected failed result")
	}
	failure := result.Failure()
	if !errors.Is(failure, dialog.ErrExpectationMismatch) || !strings.Contains(failure.Error(), "DriverAge") {
		t.Fatalf("unexpected failure %v", failure)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		forgive  bool
		firstErr error
		wantErr  error
		wantSent int
	}{
		{name: "disabled by default", firstErr: &dialog.TimeoutError{JobID: "sim-1", Attempts: 7}, wantErr: dialog.ErrTimeout, wantSent: 1},
		{name: "forgives timeout once", forgive: true, firstErr: &dialog.TimeoutError{JobID: "sim-1", Attempts: 7}, wantSent: 2},
		{name: "never forgives remote failure", forgive: true, firstErr: &dialog.RemoteFailureError{JobID: "sim-1", Detail: "boom"}, wantErr: dialog.ErrRemoteFailure, wantSent: 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sent := 0
			sim := simulatorFunc(func(_ context.Context, text string) (dialog.Outcome, error) {
				sent++
				if sent == 1 {
					return dialog.Outcome{}, tc.firstErr
				}
				return dialog.Outcome{IntentName: "BookCar"}, nil
			})
			driver := New(sim, carRentalModel(), Config{
				Retry:  RetryPolicy{ForgiveOnce: tc.forgive},
				Logger: quietLogger(&bytes.Buffer{}),
			})
			if _, err := driver.Start("BookCar", nil); err != nil {
				t.Fatalf("start: %v", err)
			}
			turn, err := driver.Step(context.Background(), Step{Text: "midsize"})
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if sent != tc.wantSent || turn.Attempts != tc.wantSent {
				t.Fatalf("expected %d sends, got %d (attempts %d)", tc.wantSent, sent, turn.Attempts)
			}
		})
	}
}
