package lex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lexruntimeservice"
	"github.com/google/uuid"
	"github.com/tiger/lex-bot-tester/api/dialog"
)

const acceptText = "text/plain; charset=utf-8"

type runtimeAPI interface {
	PostText(ctx context.Context, params *lexruntimeservice.PostTextInput, optFns ...func(*lexruntimeservice.Options)) (*lexruntimeservice.PostTextOutput, error)
	PostContent(ctx context.Context, params *lexruntimeservice.PostContentInput, optFns ...func(*lexruntimeservice.Options)) (*lexruntimeservice.PostContentOutput, error)
}

// Synthesizer renders text as audio for PostContent turns.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	ContentType() string
}

// RuntimeConfig binds a runtime client to one bot alias.
type RuntimeConfig struct {
	BotName  string
	BotAlias string
	// UserID identifies the conversation. A random id is used when empty.
	UserID            string
	Region            string
	SessionAttributes map[string]string
	RequestAttributes map[string]string
	// Synthesizer switches turns to audio through PostContent.
	Synthesizer Synthesizer
	Timeout     time.Duration
	Logger      *slog.Logger
}

// RuntimeClient sends utterances to a Lex bot. It implements the
// conversation Simulator.
type RuntimeClient struct {
	cfg RuntimeConfig

	mu     sync.Mutex
	client runtimeAPI
	userID string
}

func NewRuntimeClient(cfg RuntimeConfig) (*RuntimeClient, error) {
	return NewRuntimeClientWithAPI(cfg, nil)
}

func NewRuntimeClientWithAPI(cfg RuntimeConfig, api runtimeAPI) (*RuntimeClient, error) {
	if strings.TrimSpace(cfg.BotName) == "" || strings.TrimSpace(cfg.BotAlias) == "" {
		return nil, fmt.Errorf("%w: bot name and alias are required", dialog.ErrConfiguration)
	}
	cfg.Region = defaultString(cfg.Region, "us-east-1")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	return &RuntimeClient{cfg: cfg, client: api, userID: userID}, nil
}

// UserID returns the id of the current conversation.
func (c *RuntimeClient) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// ResetSession starts a new Lex session under a fresh user id, unless the
// user id was fixed by configuration.
func (c *RuntimeClient) ResetSession() {
	if c.cfg.UserID != "" {
		return
	}
	c.mu.Lock()
	c.userID = uuid.NewString()
	c.mu.Unlock()
}

// Simulate posts one utterance and normalizes the reply.
func (c *RuntimeClient) Simulate(ctx context.Context, text string) (dialog.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return dialog.Outcome{}, fmt.Errorf("%w: empty utterance", dialog.ErrConfiguration)
	}
	api, err := c.resolveClient(ctx)
	if err != nil {
		return dialog.Outcome{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.cfg.Synthesizer != nil {
		return c.postContent(ctx, api, text)
	}
	out, err := api.PostText(ctx, &lexruntimeservice.PostTextInput{
		BotName:           aws.String(c.cfg.BotName),
		BotAlias:          aws.String(c.cfg.BotAlias),
		UserId:            aws.String(c.UserID()),
		InputText:         aws.String(text),
		SessionAttributes: c.cfg.SessionAttributes,
		RequestAttributes: c.cfg.RequestAttributes,
	})
	if err != nil {
		return dialog.Outcome{}, normalizeAWSError("lex post text", err)
	}
	return normalizeText(out), nil
}

func (c *RuntimeClient) postContent(ctx context.Context, api runtimeAPI, text string) (dialog.Outcome, error) {
	audio, err := c.cfg.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		return dialog.Outcome{}, fmt.Errorf("synthesize %q: %w", text, err)
	}
	in := &lexruntimeservice.PostContentInput{
		BotName:     aws.String(c.cfg.BotName),
		BotAlias:    aws.String(c.cfg.BotAlias),
		UserId:      aws.String(c.UserID()),
		ContentType: aws.String(c.cfg.Synthesizer.ContentType()),
		Accept:      aws.String(acceptText),
		InputStream: bytes.NewReader(audio),
	}
	if raw, ok := encodeAttributes(c.cfg.SessionAttributes); ok {
		in.SessionAttributes = aws.String(raw)
	}
	if raw, ok := encodeAttributes(c.cfg.RequestAttributes); ok {
		in.RequestAttributes = aws.String(raw)
	}
	out, err := api.PostContent(ctx, in)
	if err != nil {
		return dialog.Outcome{}, normalizeAWSError("lex post content", err)
	}
	if out.AudioStream != nil {
		_, _ = io.Copy(io.Discard, out.AudioStream)
		_ = out.AudioStream.Close()
	}
	c.cfg.Logger.Debug("lex audio turn", "transcript", aws.ToString(out.InputTranscript), "bytes", len(audio))
	return normalizeContent(out), nil
}

func normalizeText(out *lexruntimeservice.PostTextOutput) dialog.Outcome {
	if out == nil {
		return dialog.Outcome{}
	}
	outcome := dialog.Outcome{
		IntentName:   aws.ToString(out.IntentName),
		DialogState:  dialog.DialogState(out.DialogState),
		SlotToElicit: aws.ToString(out.SlotToElicit),
		SlotValues:   dialog.NormalizeSlotValues(out.Slots),
	}
	if msg := aws.ToString(out.Message); msg != "" {
		outcome.Speech = &dialog.Speech{Kind: dialog.SpeechPlainText, Value: msg}
	}
	if len(out.SessionAttributes) > 0 {
		outcome.SessionAttributes = out.SessionAttributes
	}
	return outcome
}

func normalizeContent(out *lexruntimeservice.PostContentOutput) dialog.Outcome {
	if out == nil {
		return dialog.Outcome{}
	}
	outcome := dialog.Outcome{
		IntentName:        aws.ToString(out.IntentName),
		DialogState:       dialog.DialogState(out.DialogState),
		SlotToElicit:      aws.ToString(out.SlotToElicit),
		SlotValues:        dialog.NormalizeSlotValues(decodeAttributes(out.Slots)),
		SessionAttributes: decodeAttributes(out.SessionAttributes),
	}
	if msg := aws.ToString(out.Message); msg != "" {
		outcome.Speech = &dialog.Speech{Kind: dialog.SpeechPlainText, Value: msg}
	}
	if len(outcome.SessionAttributes) == 0 {
		outcome.SessionAttributes = nil
	}
	return outcome
}

func encodeAttributes(attrs map[string]string) (string, bool) {
	if len(attrs) == 0 {
		return "", false
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// decodeAttributes reads a JSON object header value. Values that arrive still
// base64 encoded are decoded first. Non-string JSON values are kept as JSON.
func decodeAttributes(value *string) map[string]string {
	raw := strings.TrimSpace(aws.ToString(value))
	if raw == "" {
		return map[string]string{}
	}
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return map[string]string{}
		}
		raw = string(decoded)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		default:
			encoded, _ := json.Marshal(t)
			out[k] = string(encoded)
		}
	}
	return out
}

func (c *RuntimeClient) resolveClient(ctx context.Context) (runtimeAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", dialog.ErrConfiguration, err)
	}
	c.client = lexruntimeservice.NewFromConfig(awsCfg)
	return c.client, nil
}
