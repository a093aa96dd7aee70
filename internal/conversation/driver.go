package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/simulation"
)

// State is the conversation lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarted    State = "started"
	StateEnded      State = "ended"
)

// Simulator sends one utterance to a bot and returns the normalized outcome.
// The SMAPI poller and the Lex runtime client both implement it.
type Simulator interface {
	Simulate(ctx context.Context, text string) (dialog.Outcome, error)
}

// IntentMetadata is the part of an interaction model the driver needs.
type IntentMetadata interface {
	SlotNames(intent string) []string
	PromptsByIntent(intent string) map[string]string
	RequiredSlots(intent string) []string
}

// Step is one user turn of a conversation. Slot names the slot the text fills
// and Prompt the text the bot is expected to ask with; both are optional.
type Step struct {
	Slot   string `json:"slot,omitempty" yaml:"slot,omitempty"`
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
}

// RetryPolicy controls forgiveness of transient turn failures.
type RetryPolicy struct {
	// ForgiveOnce retries a turn once after a timeout or transport error.
	ForgiveOnce bool
}

func (p RetryPolicy) attempts() int {
	if p.ForgiveOnce {
		return 2
	}
	return 1
}

// Config controls driver behavior.
type Config struct {
	// Skill names the bot in errors and logs.
	Skill      string
	Retry      RetryPolicy
	TurnPacing time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
	Logger     *slog.Logger
	// Verbose logs every bot and user line at info level.
	Verbose bool
}

func (c Config) withDefaults() Config {
	if c.TurnPacing <= 0 {
		c.TurnPacing = time.Second
	}
	if c.Sleep == nil {
		c.Sleep = simulation.Sleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Turn records one step as sent.
type Turn struct {
	Step     Step
	Text     string
	Outcome  dialog.Outcome
	Attempts int
	Skipped  bool
}

// Driver walks the steps of one conversation against a bot. Steps are sent
// strictly in order; a Driver must not be shared between goroutines.
type Driver struct {
	sim      Simulator
	model    IntentMetadata
	cfg      Config
	state    State
	intent   string
	required []string
	fulfill  bool
	turns    int
	last     dialog.Outcome
}

// New returns a driver in the not-started state.
func New(sim Simulator, model IntentMetadata, cfg Config) *Driver {
	return &Driver{
		sim:   sim,
		model: model,
		cfg:   cfg.withDefaults(),
		state: StateNotStarted,
	}
}

// State returns the lifecycle state.
func (d *Driver) State() State { return d.state }

// Intent returns the intent of the running conversation.
func (d *Driver) Intent() string { return d.intent }

// Fulfilled reports whether any turn so far fulfilled the intent.
func (d *Driver) Fulfilled() bool { return d.fulfill }

// Turns returns the number of utterances sent since Start.
func (d *Driver) Turns() int { return d.turns }

// Last returns the outcome of the most recent turn.
func (d *Driver) Last() dialog.Outcome { return d.last }

// Start validates the steps against the intent and resolves their prompts.
// The returned steps are copies; the caller's slice is not modified.
func (d *Driver) Start(intent string, steps []Step) ([]Step, error) {
	if d.state == StateStarted {
		return nil, fmt.Errorf("%w: conversation for intent %q already started", dialog.ErrConversationState, d.intent)
	}
	if d.sim == nil || d.model == nil {
		return nil, fmt.Errorf("%w: simulator and interaction model are required", dialog.ErrConfiguration)
	}
	valid := d.model.SlotNames(intent)
	declared := make(map[string]struct{}, len(valid))
	for _, name := range valid {
		declared[name] = struct{}{}
	}
	prompts := d.model.PromptsByIntent(intent)

	resolved := make([]Step, len(steps))
	for i, step := range steps {
		if step.Slot != "" {
			if _, ok := declared[step.Slot]; !ok {
				return nil, &dialog.UnknownSlotError{Intent: intent, Skill: d.cfg.Skill, Slot: step.Slot, Valid: valid}
			}
			if strings.TrimSpace(step.Text) == "" {
				return nil, fmt.Errorf("%w: step %d fills slot %q of intent %q but has no text",
					dialog.ErrConfiguration, i, step.Slot, intent)
			}
			if step.Prompt == "" {
				step.Prompt = prompts[step.Slot]
			}
		}
		resolved[i] = step
	}

	d.state = StateStarted
	d.intent = intent
	d.required = d.model.RequiredSlots(intent)
	d.fulfill = false
	d.turns = 0
	d.last = dialog.Outcome{}
	if d.cfg.Verbose {
		d.cfg.Logger.Info("conversation started", slog.String("skill", d.cfg.Skill), slog.String("intent", intent))
	}
	return resolved, nil
}

// Step sends one utterance. Steps without text are skipped.
func (d *Driver) Step(ctx context.Context, step Step) (Turn, error) {
	if d.state != StateStarted {
		return Turn{}, fmt.Errorf("%w: step sent in state %s, start the conversation first",
			dialog.ErrConversationState, d.state)
	}
	turn := Turn{Step: step}
	if strings.TrimSpace(step.Text) == "" {
		if step.Prompt != "" {
			d.cfg.Logger.Warn("prompt but no text", slog.String("intent", d.intent), slog.String("prompt", step.Prompt))
		}
		turn.Skipped = true
		return turn, nil
	}
	turn.Text = strings.ToLower(step.Text)

	if d.cfg.Verbose {
		if speech := d.last.OutputSpeech(); speech != "" {
			d.cfg.Logger.Info("Bot: " + speech)
		}
		d.cfg.Logger.Info("User: " + turn.Text)
	}

	outcome, attempts, err := d.send(ctx, turn.Text)
	turn.Attempts = attempts
	if err != nil {
		return turn, fmt.Errorf("turn %d of intent %q: %w", d.turns+1, d.intent, err)
	}
	if d.required != nil {
		outcome.EvaluateFulfillment(d.required)
	}
	d.fulfill = d.fulfill || outcome.IsFulfilled()
	d.turns++
	d.last = outcome
	turn.Outcome = outcome
	return turn, nil
}

func (d *Driver) send(ctx context.Context, text string) (dialog.Outcome, int, error) {
	var lastErr error
	limit := d.cfg.Retry.attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		outcome, err := d.sim.Simulate(ctx, text)
		if err == nil {
			return outcome, attempt, nil
		}
		lastErr = err
		if attempt == limit || !dialog.IsTransient(err) || ctx.Err() != nil {
			return dialog.Outcome{}, attempt, err
		}
		d.cfg.Logger.Warn("forgiving transient turn failure",
			slog.String("intent", d.intent),
			slog.String("text", text),
			slog.String("error", err.Error()))
	}
	return dialog.Outcome{}, limit, lastErr
}

// End finishes the conversation and clears slot elicitation metadata.
func (d *Driver) End() error {
	if d.state != StateStarted {
		return fmt.Errorf("%w: cannot end conversation in state %s", dialog.ErrConversationState, d.state)
	}
	d.state = StateEnded
	d.required = nil
	if d.cfg.Verbose {
		d.cfg.Logger.Info("conversation ended",
			slog.String("intent", d.intent),
			slog.Bool("fulfilled", d.fulfill))
	}
	return nil
}

// Result summarizes a conversation run.
type Result struct {
	Intent    string
	Turns     []Turn
	Last      dialog.Outcome
	Fulfilled bool
	// Passed is true when the intent was fulfilled or the bot reported no slots.
	Passed bool
}

// Failure explains a failed result, or returns nil.
func (r Result) Failure() error {
	if r.Passed {
		return nil
	}
	names := r.Last.SlotNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, r.Last.SlotValues[name]))
	}
	return fmt.Errorf("%w: intent %q not fulfilled, some slots have no values: %s",
		dialog.ErrExpectationMismatch, r.Intent, strings.Join(parts, ", "))
}

// Run starts a conversation, sends every step paced by TurnPacing and ends it.
func (d *Driver) Run(ctx context.Context, intent string, steps []Step) (Result, error) {
	resolved, err := d.Start(intent, steps)
	if err != nil {
		return Result{}, err
	}
	result := Result{Intent: intent, Turns: make([]Turn, 0, len(resolved))}
	sent := 0
	for _, step := range resolved {
		if sent > 0 && strings.TrimSpace(step.Text) != "" {
			if err := d.cfg.Sleep(ctx, d.cfg.TurnPacing); err != nil {
				return result, errors.Join(fmt.Errorf("pace conversation: %w", err), d.End())
			}
		}
		turn, err := d.Step(ctx, step)
		if err != nil {
			return result, errors.Join(err, d.End())
		}
		result.Turns = append(result.Turns, turn)
		if !turn.Skipped {
			sent++
		}
	}
	result.Last = d.last
	result.Fulfilled = d.fulfill
	result.Passed = d.fulfill || !d.last.HasSlots()
	return result, d.End()
}
