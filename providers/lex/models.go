package lex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lexmodelbuildingservice"
	modeltypes "github.com/aws/aws-sdk-go-v2/service/lexmodelbuildingservice/types"
	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/interactionmodel"
)

// LatestVersion is the intent version read when building a model.
const LatestVersion = "$LATEST"

type modelsAPI interface {
	GetBot(ctx context.Context, params *lexmodelbuildingservice.GetBotInput, optFns ...func(*lexmodelbuildingservice.Options)) (*lexmodelbuildingservice.GetBotOutput, error)
	GetIntent(ctx context.Context, params *lexmodelbuildingservice.GetIntentInput, optFns ...func(*lexmodelbuildingservice.Options)) (*lexmodelbuildingservice.GetIntentOutput, error)
}

type ModelsConfig struct {
	Region string
	Logger *slog.Logger
}

// ModelsClient reads bot definitions from the Lex model building service.
type ModelsClient struct {
	cfg ModelsConfig

	mu     sync.Mutex
	client modelsAPI
}

func NewModelsClient(cfg ModelsConfig) *ModelsClient {
	return NewModelsClientWithAPI(cfg, nil)
}

func NewModelsClientWithAPI(cfg ModelsConfig, api modelsAPI) *ModelsClient {
	cfg.Region = defaultString(cfg.Region, "us-east-1")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ModelsClient{cfg: cfg, client: api}
}

// IntentNames lists the intents of a bot alias or version.
func (c *ModelsClient) IntentNames(ctx context.Context, bot, alias string) ([]string, error) {
	if strings.TrimSpace(bot) == "" || strings.TrimSpace(alias) == "" {
		return nil, fmt.Errorf("%w: bot name and alias are required", dialog.ErrConfiguration)
	}
	api, err := c.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.GetBot(ctx, &lexmodelbuildingservice.GetBotInput{
		Name:           aws.String(bot),
		VersionOrAlias: aws.String(alias),
	})
	if err != nil {
		return nil, normalizeAWSError("lex get bot "+bot, err)
	}
	names := make([]string, 0, len(out.Intents))
	for _, in := range out.Intents {
		if name := aws.ToString(in.IntentName); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// InteractionModel builds the model of a bot from its intents. Slots with a
// Required constraint need elicitation and their plain-text elicitation
// prompts become the slot prompts.
func (c *ModelsClient) InteractionModel(ctx context.Context, bot, alias string) (*interactionmodel.Model, error) {
	names, err := c.IntentNames(ctx, bot, alias)
	if err != nil {
		return nil, err
	}
	api, err := c.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	intents := make([]interactionmodel.Intent, 0, len(names))
	var prompts []interactionmodel.Prompt
	for _, name := range names {
		out, err := api.GetIntent(ctx, &lexmodelbuildingservice.GetIntentInput{
			Name:    aws.String(name),
			Version: aws.String(LatestVersion),
		})
		if err != nil {
			return nil, normalizeAWSError("lex get intent "+name, err)
		}
		intent, intentPrompts := convertIntent(out)
		intents = append(intents, intent)
		prompts = append(prompts, intentPrompts...)
	}
	c.cfg.Logger.Debug("loaded lex bot model", "bot", bot, "alias", alias, "intents", len(intents))
	return interactionmodel.New("", intents, prompts).WithLogger(c.cfg.Logger), nil
}

func convertIntent(out *lexmodelbuildingservice.GetIntentOutput) (interactionmodel.Intent, []interactionmodel.Prompt) {
	intent := interactionmodel.Intent{
		Name:                 aws.ToString(out.Name),
		ConfirmationRequired: out.ConfirmationPrompt != nil,
		Samples:              out.SampleUtterances,
	}
	var prompts []interactionmodel.Prompt
	for _, s := range out.Slots {
		slot := interactionmodel.Slot{
			Name:                aws.ToString(s.Name),
			Type:                aws.ToString(s.SlotType),
			ElicitationRequired: s.SlotConstraint == modeltypes.SlotConstraintRequired,
			Samples:             s.SampleUtterances,
		}
		if p := convertPrompt(intent.Name+"."+slot.Name+".elicitation", s.ValueElicitationPrompt); p != nil {
			slot.Prompts = map[string]string{interactionmodel.PromptPurposeElicitation: p.ID}
			prompts = append(prompts, *p)
		}
		intent.Slots = append(intent.Slots, slot)
	}
	return intent, prompts
}

func convertPrompt(id string, prompt *modeltypes.Prompt) *interactionmodel.Prompt {
	if prompt == nil || len(prompt.Messages) == 0 {
		return nil
	}
	p := &interactionmodel.Prompt{ID: id}
	for _, m := range prompt.Messages {
		p.Variations = append(p.Variations, interactionmodel.Variation{
			Type:  string(m.ContentType),
			Value: aws.ToString(m.Content),
		})
	}
	return p
}

func (c *ModelsClient) resolveClient(ctx context.Context) (modelsAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", dialog.ErrConfiguration, err)
	}
	c.client = lexmodelbuildingservice.NewFromConfig(awsCfg)
	return c.client, nil
}
