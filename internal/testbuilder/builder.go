package testbuilder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversation"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
	"github.com/tiger/lex-bot-tester/internal/suite"
)

// Keys of the non-slot answers asked while learning a conversation.
const (
	KeyLaunch       = "$launch_text"
	KeyConfirmation = "$confirmation_text"
)

// Input answers the questions asked while learning a conversation. key is a
// slot name or one of the Key constants; prompt is what a person would be
// shown.
type Input interface {
	Answer(key, prompt string) (string, error)
}

// SimulatedInput answers from a fixed map of key to text.
type SimulatedInput map[string]string

func (s SimulatedInput) Answer(key, _ string) (string, error) {
	text, ok := s[key]
	if !ok {
		return "", fmt.Errorf("%w: no simulated input for %s", dialog.ErrConfiguration, key)
	}
	return text, nil
}

// PromptInput asks a person, one line per answer.
type PromptInput struct {
	out     io.Writer
	scanner *bufio.Scanner
}

func NewPromptInput(in io.Reader, out io.Writer) *PromptInput {
	return &PromptInput{out: out, scanner: bufio.NewScanner(in)}
}

func (p *PromptInput) Answer(key, prompt string) (string, error) {
	if prompt == "" {
		prompt = key
	}
	if _, err := fmt.Fprintf(p.out, "%s: ", prompt); err != nil {
		return "", err
	}
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("read answer for %s: %w", key, err)
		}
		return "", fmt.Errorf("read answer for %s: %w", key, io.ErrUnexpectedEOF)
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Config controls the builder.
type Config struct {
	// Generator is recorded in the header of rendered suites.
	Generator string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Builder learns conversations from an interaction model and renders them
// as suites.
type Builder struct {
	cfg Config
}

func New(cfg Config) *Builder {
	if cfg.Generator == "" {
		cfg.Generator = "bot-tester"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{cfg: cfg}
}

// LearnConversation is Learn with a default builder.
func LearnConversation(model *interactionmodel.Model, intent string, input Input) ([]conversation.Step, error) {
	return New(Config{}).Learn(model, intent, input)
}

// Learn asks for the launch text, then one text per slot of the intent using
// the slot's elicitation prompt, then a confirmation when the intent requires
// one.
func (b *Builder) Learn(model *interactionmodel.Model, intent string, input Input) ([]conversation.Step, error) {
	if model == nil || input == nil {
		return nil, fmt.Errorf("%w: interaction model and input are required", dialog.ErrConfiguration)
	}
	in, ok := model.Intent(intent)
	if !ok {
		return nil, fmt.Errorf("%w: intent %q not in model, known intents: [%s]",
			dialog.ErrConfiguration, intent, strings.Join(model.IntentNames(), ", "))
	}

	invocation := model.InvocationName()
	launchPrompt := fmt.Sprintf("Samples:\n%s\n\nLaunch (%s)", strings.Join(model.SamplesByIntent(intent), "\n"), invocation)
	launch, err := input.Answer(KeyLaunch, launchPrompt)
	if err != nil {
		return nil, err
	}
	if invocation != "" && !strings.Contains(strings.ToLower(launch), strings.ToLower(invocation)) {
		b.cfg.Logger.Warn("launch text does not include invocation name", "invocation", invocation, "text", launch)
	}
	steps := []conversation.Step{{Text: launch}}

	if len(in.Slots) == 0 {
		var dump bytes.Buffer
		model.Dump(&dump)
		b.cfg.Logger.Warn("intent has no slots", "intent", intent, "model", dump.String())
	}
	prompts := model.PromptsByIntent(intent)
	for _, s := range in.Slots {
		prompt := prompts[s.Name]
		text, err := input.Answer(s.Name, defaultString(prompt, s.Name))
		if err != nil {
			return nil, err
		}
		steps = append(steps, conversation.Step{Slot: s.Name, Prompt: prompt, Text: text})
	}

	if in.ConfirmationRequired {
		text, err := input.Answer(KeyConfirmation, "Confirmation")
		if err != nil {
			return nil, err
		}
		steps = append(steps, conversation.Step{Prompt: "Confirmation", Text: text})
	}
	return steps, nil
}

// Target names the bot a generated suite runs against.
type Target struct {
	Platform suite.Platform
	Skill    string
	Bot      suite.Bot
	Locale   string
}

// RenderSuite renders learned steps as a runnable suite file.
func (b *Builder) RenderSuite(name string, target Target, intent string, steps []conversation.Step) ([]byte, error) {
	if name == "" {
		name = "test_" + strings.ToLower(intent)
	}
	s := &suite.Suite{
		Name:     name,
		Platform: target.Platform,
		Skill:    target.Skill,
		Bot:      target.Bot,
		Locale:   defaultString(target.Locale, "en-US"),
		Conversations: []suite.Conversation{{
			Name:   strings.ReplaceAll(strings.ToLower(intent), "_", " "),
			Intent: intent,
			Steps:  steps,
		}},
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	body, err := suite.Encode(s)
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("# Generated by %s on %s\n", b.cfg.Generator, b.cfg.Now().Format("2006-01-02 15:04:05"))
	return append([]byte(header), body...), nil
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
