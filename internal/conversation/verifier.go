package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversion"
	"github.com/tiger/lex-bot-tester/internal/resultschema"
)

// ExpectedTurn pairs an utterance with the result the bot must produce.
type ExpectedTurn struct {
	Send   string
	Expect *resultschema.ExpectedResult
}

// TurnReport is the verification of one expected turn.
type TurnReport struct {
	Send string
	// Effective is the expectation after carried slot values were merged in.
	Effective *resultschema.ExpectedResult
	Outcome   dialog.Outcome
	Err       error
}

// Verifier sends expected turns in order and asserts intent, dialog state and
// slot values of every outcome.
type Verifier struct {
	sim Simulator
	cfg Config
}

// NewVerifier returns a verifier over sim.
func NewVerifier(sim Simulator, cfg Config) *Verifier {
	return &Verifier{sim: sim, cfg: cfg.withDefaults()}
}

// Verify runs one conversation. It stops at the first turn that fails and
// returns the reports of the turns sent so far.
func (v *Verifier) Verify(ctx context.Context, turns []ExpectedTurn) ([]TurnReport, error) {
	if v.sim == nil {
		return nil, fmt.Errorf("%w: simulator is required", dialog.ErrConfiguration)
	}
	carried := map[string]string{}
	var previous dialog.Outcome
	reports := make([]TurnReport, 0, len(turns))
	for i, turn := range turns {
		if turn.Expect == nil {
			return reports, fmt.Errorf("%w: turn %d has no expected result", dialog.ErrConfiguration, i+1)
		}
		if i > 0 {
			if err := v.cfg.Sleep(ctx, v.cfg.TurnPacing); err != nil {
				return reports, fmt.Errorf("pace conversation: %w", err)
			}
		}
		text := strings.ToLower(turn.Send)
		if v.cfg.Verbose {
			if speech := previous.OutputSpeech(); speech != "" {
				v.cfg.Logger.Info(" Bot: " + speech)
			}
			v.cfg.Logger.Info("User: " + turn.Send)
		}

		report := TurnReport{Send: turn.Send, Effective: turn.Expect.WithCarried(carried)}
		outcome, err := v.simulate(ctx, text)
		if err != nil {
			report.Err = fmt.Errorf("turn %d %q: %w", i+1, turn.Send, err)
			reports = append(reports, report)
			return reports, report.Err
		}
		report.Outcome = outcome
		if err := Assert(report.Effective, previous, text, outcome); err != nil {
			report.Err = fmt.Errorf("turn %d %q: %w", i+1, turn.Send, err)
			reports = append(reports, report)
			return reports, report.Err
		}
		reports = append(reports, report)

		carried = lastKnownSlots(outcome)
		previous = outcome
	}
	return reports, nil
}

func (v *Verifier) simulate(ctx context.Context, text string) (dialog.Outcome, error) {
	outcome, err := v.sim.Simulate(ctx, text)
	if err != nil && v.cfg.Retry.ForgiveOnce && dialog.IsTransient(err) && ctx.Err() == nil {
		v.cfg.Logger.Warn("forgiving transient turn failure", slog.String("text", text), slog.String("error", err.Error()))
		outcome, err = v.sim.Simulate(ctx, text)
	}
	return outcome, err
}

// Assert checks one outcome against an expected result. previous is the
// outcome of the turn before, used when the bot was eliciting a slot: a slot
// the bot did not report is then accepted only when the elicited slot echoes
// the sent text and the expectation requires no value.
func Assert(want *resultschema.ExpectedResult, previous dialog.Outcome, sent string, got dialog.Outcome) error {
	var errs []error
	if got.IntentName != want.IntentName() {
		errs = append(errs, &dialog.MismatchError{Field: resultschema.FieldIntentName, Expected: want.IntentName(), Actual: got.IntentName})
	}
	if got.DialogState != want.DialogState() {
		errs = append(errs, &dialog.MismatchError{
			Field:    resultschema.FieldDialogState,
			Expected: string(want.DialogState()),
			Actual:   string(got.DialogState),
			Detail:   "invalid dialog state, speech: " + got.OutputSpeech(),
		})
	}

	actual := make(map[string]string, len(got.SlotValues))
	for name, value := range got.SlotValues {
		actual[conversion.ToSnakeCase(name)] = value
	}
	elicited := previous.DialogState == dialog.StateElicitSlot && previous.SlotToElicit != ""

	for _, field := range want.Keys() {
		expect, _ := want.Get(field)
		value, present := actual[field]
		switch {
		case present && strings.TrimSpace(value) != "":
			if !expect.Matches(value, true) {
				errs = append(errs, &dialog.MismatchError{Field: field, Expected: expect.String(), Actual: value})
			}
		case expect.IsAbsent():
			if !present && elicited {
				if err := assertEcho(previous.SlotToElicit, sent, got); err != nil {
					errs = append(errs, err)
				}
			}
		case present:
			errs = append(errs, &dialog.MismatchError{Field: field, Expected: expect.String(), Detail: "slot has no value"})
		default:
			if elicited {
				if err := assertEcho(previous.SlotToElicit, sent, got); err != nil {
					errs = append(errs, err)
				}
			}
			errs = append(errs, &dialog.MismatchError{Field: field, Expected: expect.String(), Detail: "slot not reported"})
		}
	}
	if want.Len() == 0 && elicited {
		if err := assertEcho(previous.SlotToElicit, sent, got); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func assertEcho(slot, sent string, got dialog.Outcome) error {
	value, err := got.SlotValue(slot)
	if err != nil {
		return &dialog.MismatchError{Field: conversion.ToSnakeCase(slot), Expected: strings.ToLower(sent), Detail: err.Error()}
	}
	if !strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(sent)) {
		return &dialog.MismatchError{
			Field:    conversion.ToSnakeCase(slot),
			Expected: strings.ToLower(sent),
			Actual:   value,
			Detail:   "elicited slot does not echo the sent text",
		}
	}
	return nil
}

func lastKnownSlots(o dialog.Outcome) map[string]string {
	out := make(map[string]string, len(o.SlotValues))
	for name, value := range o.SlotValues {
		if strings.TrimSpace(value) != "" {
			out[name] = value
		}
	}
	return out
}
