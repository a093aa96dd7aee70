package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

// Environment variables read by FromEnv.
const (
	EnvLocale            = "BOT_TESTER_LOCALE"
	EnvStage             = "BOT_TESTER_STAGE"
	EnvSMAPIEndpoint     = "BOT_TESTER_SMAPI_ENDPOINT"
	EnvSkillsFile        = "BOT_TESTER_SKILLS_FILE"
	EnvASKConfigFile     = "BOT_TESTER_ASK_CONFIG"
	EnvASKProfile        = "BOT_TESTER_ASK_PROFILE"
	EnvASKToken          = "BOT_TESTER_ASK_TOKEN"
	EnvASKTokenRef       = "BOT_TESTER_ASK_TOKEN_REF"
	EnvAWSRegion         = "AWS_REGION"
	EnvPollAttempts      = "BOT_TESTER_POLL_ATTEMPTS"
	EnvPollInterval      = "BOT_TESTER_POLL_INTERVAL"
	EnvSimulationTimeout = "BOT_TESTER_SIMULATION_TIMEOUT"
	EnvTurnPacing        = "BOT_TESTER_TURN_PACING"
	EnvForgiveOnce       = "BOT_TESTER_FORGIVE_ONCE"
	EnvVerbose           = "BOT_TESTER_VERBOSE"
	EnvLogLevel          = "BOT_TESTER_LOG_LEVEL"
	EnvPollyVoice        = "BOT_TESTER_POLLY_VOICE"
	EnvConcurrency       = "BOT_TESTER_CONCURRENCY"
)

// Config is the process-wide tester configuration.
type Config struct {
	Locale        string
	Stage         string
	SMAPIEndpoint string
	SkillsFile    string
	ASKConfigFile string
	ASKProfile    string
	// AccessToken overrides the token of the ASK CLI config when set.
	AccessToken       string
	AWSRegion         string
	PollAttempts      int
	PollInterval      time.Duration
	SimulationTimeout time.Duration
	TurnPacing        time.Duration
	ForgiveOnce       bool
	Verbose           bool
	LogLevel          slog.Level
	PollyVoice        string
	Concurrency       int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Locale:        "en-US",
		Stage:         "development",
		SMAPIEndpoint: "https://api.amazonalexa.com",
		SkillsFile:    filepath.Join(home, ".alexa_skills"),
		ASKConfigFile: filepath.Join(home, ".ask", "cli_config"),
		ASKProfile:    "default",
		AWSRegion:     "us-east-1",
		PollAttempts:  7,
		PollInterval:  time.Second,
		TurnPacing:    time.Second,
		LogLevel:      slog.LevelInfo,
		PollyVoice:    "Nicole",
		Concurrency:   4,
	}
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup. Malformed values fail
// with a configuration error naming the variable.
func FromLookup(lookup Lookup) (Config, error) {
	cfg := Default()
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	cfg.Locale = defaultString(get(EnvLocale), cfg.Locale)
	cfg.Stage = defaultString(get(EnvStage), cfg.Stage)
	cfg.SMAPIEndpoint = strings.TrimRight(defaultString(get(EnvSMAPIEndpoint), cfg.SMAPIEndpoint), "/")
	cfg.SkillsFile = defaultString(get(EnvSkillsFile), cfg.SkillsFile)
	cfg.ASKConfigFile = defaultString(get(EnvASKConfigFile), cfg.ASKConfigFile)
	cfg.ASKProfile = defaultString(get(EnvASKProfile), cfg.ASKProfile)
	cfg.AWSRegion = defaultString(get(EnvAWSRegion), cfg.AWSRegion)
	cfg.PollyVoice = defaultString(get(EnvPollyVoice), cfg.PollyVoice)

	token, err := ResolveLiteralOrSecret(get(EnvASKToken), get(EnvASKTokenRef), lookup)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", dialog.ErrConfiguration, EnvASKTokenRef, err)
	}
	cfg.AccessToken = token

	if cfg.PollAttempts, err = positiveInt(EnvPollAttempts, get(EnvPollAttempts), cfg.PollAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency, err = positiveInt(EnvConcurrency, get(EnvConcurrency), cfg.Concurrency); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = duration(EnvPollInterval, get(EnvPollInterval), cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.SimulationTimeout, err = duration(EnvSimulationTimeout, get(EnvSimulationTimeout), cfg.SimulationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TurnPacing, err = duration(EnvTurnPacing, get(EnvTurnPacing), cfg.TurnPacing); err != nil {
		return Config{}, err
	}
	if cfg.ForgiveOnce, err = boolean(EnvForgiveOnce, get(EnvForgiveOnce), cfg.ForgiveOnce); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = boolean(EnvVerbose, get(EnvVerbose), cfg.Verbose); err != nil {
		return Config{}, err
	}
	if raw := get(EnvLogLevel); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", dialog.ErrConfiguration, EnvLogLevel, raw, err)
		}
	}
	return cfg, nil
}

// LogValue keeps the access token out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("locale", c.Locale),
		slog.String("stage", c.Stage),
		slog.String("smapi_endpoint", c.SMAPIEndpoint),
		slog.String("ask_profile", c.ASKProfile),
		slog.String("access_token", RedactSecret(c.AccessToken)),
		slog.String("aws_region", c.AWSRegion),
		slog.Int("poll_attempts", c.PollAttempts),
		slog.Duration("poll_interval", c.PollInterval),
		slog.Duration("simulation_timeout", c.SimulationTimeout),
		slog.Bool("forgive_once", c.ForgiveOnce),
	)
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func positiveInt(name, raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s=%q must be a positive integer", dialog.ErrConfiguration, name, raw)
	}
	return n, nil
}

func duration(name, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q must be a non-negative duration", dialog.ErrConfiguration, name, raw)
	}
	return d, nil
}

func boolean(name, raw string, fallback bool) (bool, error) {
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q must be a boolean", dialog.ErrConfiguration, name, raw)
	}
	return b, nil
}
