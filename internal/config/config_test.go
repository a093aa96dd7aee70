package config

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

func mapLookup(values map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestResolveSecretRefWithLookup(t *testing.T) {
	t.Parallel()

	lookup := mapLookup(map[string]string{
		"ASK_ACCESS_TOKEN": "Atza|token",
		"SMAPI_ENDPOINT":   "https://api.eu.amazonalexa.com",
	})

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "env prefix", ref: "env://ASK_ACCESS_TOKEN", want: "Atza|token"},
		{name: "bare env key", ref: "SMAPI_ENDPOINT", want: "https://api.eu.amazonalexa.com"},
		{name: "missing", ref: "env://UNKNOWN", wantErr: true},
		{name: "empty name", ref: "env://", wantErr: true},
		{name: "unsupported scheme", ref: "vault://alexa/token", wantErr: true},
		{name: "path separator", ref: "env://a/b", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveSecretRefWithLookup(tc.ref, lookup)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve secret ref %q: %v", tc.ref, err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFromLookupDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(mapLookup(nil))
	if err != nil {
		t.Fatalf("from lookup: %v", err)
	}
	if cfg.Locale != "en-US" || cfg.Stage != "development" || cfg.PollAttempts != 7 || cfg.PollInterval != time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.TurnPacing != time.Second || cfg.SimulationTimeout != 0 || cfg.ForgiveOnce {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !strings.HasSuffix(cfg.SkillsFile, ".alexa_skills") || cfg.PollyVoice != "Nicole" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestFromLookupOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(mapLookup(map[string]string{
		EnvLocale:            "es-ES",
		EnvSMAPIEndpoint:     "http://127.0.0.1:8080/",
		EnvASKToken:          "literal",
		EnvASKTokenRef:       "env://MY_TOKEN",
		"MY_TOKEN":           "from-ref",
		EnvPollAttempts:      "3",
		EnvPollInterval:      "250ms",
		EnvSimulationTimeout: "30s",
		EnvForgiveOnce:       "true",
		EnvLogLevel:          "debug",
	}))
	if err != nil {
		t.Fatalf("from lookup: %v", err)
	}
	if cfg.Locale != "es-ES" || cfg.SMAPIEndpoint != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.AccessToken != "from-ref" {
		t.Fatalf("expected secret ref to win, got %q", cfg.AccessToken)
	}
	if cfg.PollAttempts != 3 || cfg.PollInterval != 250*time.Millisecond || cfg.SimulationTimeout != 30*time.Second {
		t.Fatalf("unexpected polling overrides %+v", cfg)
	}
	if !cfg.ForgiveOnce || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestFromLookupRejectsMalformedValues(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		EnvPollAttempts: "0",
		EnvPollInterval: "soon",
		EnvForgiveOnce:  "maybe",
		EnvLogLevel:     "loud",
		EnvASKTokenRef:  "env://MISSING",
	}
	for name, value := range cases {
		name, value := name, value
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := FromLookup(mapLookup(map[string]string{name: value}))
			if !errors.Is(err, dialog.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("expected variable name in %v", err)
			}
		})
	}
}

func TestLogValueRedactsToken(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.AccessToken = "Atza|secret"
	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("config", slog.Any("config", cfg))
	if strings.Contains(buf.String(), "Atza|secret") || !strings.Contains(buf.String(), "***redacted***") {
		t.Fatalf("expected redacted token, got %q", buf.String())
	}
}
