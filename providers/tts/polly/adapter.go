package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/tiger/lex-bot-tester/api/dialog"
)

// AudioContentType describes the audio Synthesize returns, in the form the
// Lex runtime expects for PostContent.
const AudioContentType = "audio/l16; rate=16000; channels=1"

const (
	defaultVoice      = "Nicole"
	defaultSampleRate = "16000"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Synthesizer turns utterances into 16 kHz mono PCM.
type Synthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    Config
}

func ConfigFromEnv() Config {
	return Config{
		Region:  defaultString(os.Getenv("BOT_TESTER_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv("BOT_TESTER_POLLY_VOICE"), defaultVoice),
		Engine:  defaultString(os.Getenv("BOT_TESTER_POLLY_ENGINE"), "standard"),
		Timeout: 15 * time.Second,
	}
}

func NewSynthesizer(cfg Config) *Synthesizer {
	return NewSynthesizerWithClient(cfg, nil)
}

func NewSynthesizerWithClient(cfg Config, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = defaultVoice
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "standard"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{client: client, cfg: cfg}
}

// Voice returns the configured Polly voice.
func (s *Synthesizer) Voice() string { return s.cfg.VoiceID }

// ContentType returns the content type of the synthesized audio.
func (s *Synthesizer) ContentType() string { return AudioContentType }

// Synthesize returns the PCM rendering of text.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text to synthesize", dialog.ErrConfiguration)
	}
	client, err := s.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   aws.String(defaultSampleRate),
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, normalizePollyError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, &dialog.RemoteFailureError{Detail: "polly returned no audio"}
	}
	defer output.AudioStream.Close()
	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("%w: read polly audio: %v", dialog.ErrTransport, err)
	}
	s.cfg.Logger.Debug("synthesized utterance", "voice", s.cfg.VoiceID, "bytes", len(audio))
	return audio, nil
}

func normalizePollyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("polly synthesize: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &dialog.TimeoutError{Cause: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ServiceFailureException":
			return fmt.Errorf("%w: polly %s: %s", dialog.ErrTransport, apiErr.ErrorCode(), apiErr.ErrorMessage())
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "MarksNotSupportedForFormatException", "InvalidSampleRateException":
			return &dialog.RemoteFailureError{Detail: fmt.Sprintf("polly %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())}
		case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException":
			return fmt.Errorf("%w: polly %s: %s", dialog.ErrConfiguration, apiErr.ErrorCode(), apiErr.ErrorMessage())
		default:
			return fmt.Errorf("%w: polly %s: %s", dialog.ErrTransport, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
	}

	return fmt.Errorf("%w: polly: %v", dialog.ErrTransport, err)
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (s *Synthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", dialog.ErrConfiguration, err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}
