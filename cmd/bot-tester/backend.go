package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/config"
	"github.com/tiger/lex-bot-tester/internal/conversation"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
	"github.com/tiger/lex-bot-tester/internal/simulation"
	"github.com/tiger/lex-bot-tester/internal/suite"
	"github.com/tiger/lex-bot-tester/providers/alexa"
	"github.com/tiger/lex-bot-tester/providers/lex"
	"github.com/tiger/lex-bot-tester/providers/tts/polly"
)

// skill is what the single-skill commands need from a connected skill.
type skill interface {
	conversation.Simulator
	InteractionModel(ctx context.Context) (*interactionmodel.Model, error)
	InteractionModelETag(ctx context.Context) (string, error)
}

// alexaSkill simulates through the poller and reads models through the client.
type alexaSkill struct {
	*alexa.Client
	poller *simulation.Poller
}

func (s alexaSkill) Simulate(ctx context.Context, text string) (dialog.Outcome, error) {
	return s.poller.Simulate(ctx, text)
}

type liveBackend struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
}

func (b *liveBackend) skillNames() ([]string, error) {
	registry, err := alexa.LoadSkillRegistry(b.cfg.SkillsFile)
	if err != nil {
		return nil, err
	}
	return registry.SkillNames(b.cfg.Locale), nil
}

func (b *liveBackend) alexaSkill(_ context.Context, name, locale string) (alexaSkill, error) {
	registry, err := alexa.LoadSkillRegistry(b.cfg.SkillsFile)
	if err != nil {
		return alexaSkill{}, err
	}
	if locale == "" {
		locale = b.cfg.Locale
	}
	id, err := registry.SkillID(name, locale)
	if err != nil {
		return alexaSkill{}, err
	}
	token := b.cfg.AccessToken
	if token == "" {
		t, err := alexa.LoadToken(b.cfg.ASKConfigFile, b.cfg.ASKProfile, b.now())
		if err != nil {
			return alexaSkill{}, err
		}
		token = t.AccessToken
	}
	client, err := alexa.New(alexa.Config{
		Endpoint: b.cfg.SMAPIEndpoint,
		SkillID:  id,
		Locale:   locale,
		Stage:    b.cfg.Stage,
		Token:    token,
		Logger:   b.logger.With("skill", name),
	})
	if err != nil {
		return alexaSkill{}, err
	}
	poller := simulation.NewPoller(client, simulation.Config{
		MaxAttempts: b.cfg.PollAttempts,
		Interval:    b.cfg.PollInterval,
		Timeout:     b.cfg.SimulationTimeout,
		Logger:      b.logger.With("skill", name),
		Verbose:     b.cfg.Verbose,
	})
	return alexaSkill{Client: client, poller: poller}, nil
}

func (b *liveBackend) skill(ctx context.Context, name string) (skill, error) {
	return b.alexaSkill(ctx, name, "")
}

// Connect opens an SMAPI or Lex session for a suite.
func (b *liveBackend) Connect(ctx context.Context, s *suite.Suite) (*suite.Session, error) {
	switch s.Platform {
	case suite.PlatformAlexa:
		sk, err := b.alexaSkill(ctx, s.Skill, s.Locale)
		if err != nil {
			return nil, err
		}
		model, err := sk.InteractionModel(ctx)
		if err != nil {
			return nil, err
		}
		return &suite.Session{Simulator: sk, Model: model, Reset: sk.ResetSession}, nil
	case suite.PlatformLex:
		logger := b.logger.With("bot", s.Bot.Name, "alias", s.Bot.Alias)
		models := lex.NewModelsClient(lex.ModelsConfig{Region: b.cfg.AWSRegion, Logger: logger})
		model, err := models.InteractionModel(ctx, s.Bot.Name, s.Bot.Alias)
		if err != nil {
			return nil, err
		}
		rcfg := lex.RuntimeConfig{
			BotName:           s.Bot.Name,
			BotAlias:          s.Bot.Alias,
			Region:            b.cfg.AWSRegion,
			SessionAttributes: s.SessionAttributes,
			RequestAttributes: s.RequestAttributes,
			Logger:            logger,
		}
		if s.UseTTS {
			rcfg.Synthesizer = polly.NewSynthesizer(polly.Config{
				Region:  b.cfg.AWSRegion,
				VoiceID: b.cfg.PollyVoice,
				Logger:  logger,
			})
		}
		rt, err := lex.NewRuntimeClient(rcfg)
		if err != nil {
			return nil, err
		}
		return &suite.Session{Simulator: rt, Model: model, Reset: rt.ResetSession}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported platform %q", dialog.ErrConfiguration, s.Platform)
	}
}
