package alexa

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

// askExpiryLayout is the expires_at format written by the ASK CLI.
const askExpiryLayout = "2006-01-02T15:04:05.999999Z"

// Token is an SMAPI access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the token is no longer valid at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now)
}

type cliConfig struct {
	Profiles map[string]struct {
		Token struct {
			AccessToken string `json:"access_token"`
			ExpiresAt   string `json:"expires_at"`
		} `json:"token"`
	} `json:"profiles"`
}

// LoadToken reads the access token of profile from the ASK CLI config file.
// Missing and expired tokens are configuration errors.
func LoadToken(path, profile string, now time.Time) (Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Token{}, fmt.Errorf("%w: read ASK CLI config: %v", dialog.ErrConfiguration, err)
	}
	return ParseToken(raw, profile, now)
}

// ParseToken extracts the access token of profile from an ASK CLI config document.
func ParseToken(raw []byte, profile string, now time.Time) (Token, error) {
	var cfg cliConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Token{}, fmt.Errorf("%w: decode ASK CLI config: %v", dialog.ErrConfiguration, err)
	}
	p, ok := cfg.Profiles[profile]
	if !ok || strings.TrimSpace(p.Token.AccessToken) == "" {
		return Token{}, fmt.Errorf("%w: no ASK access token for profile %q", dialog.ErrConfiguration, profile)
	}
	token := Token{AccessToken: p.Token.AccessToken}
	if p.Token.ExpiresAt != "" {
		expires, err := parseExpiry(p.Token.ExpiresAt)
		if err != nil {
			return Token{}, fmt.Errorf("%w: ASK token expires_at %q: %v", dialog.ErrConfiguration, p.Token.ExpiresAt, err)
		}
		token.ExpiresAt = expires
	}
	if token.Expired(now) {
		return Token{}, fmt.Errorf("%w: ASK access token of profile %q expired at %s", dialog.ErrConfiguration,
			profile, token.ExpiresAt.Format(time.RFC3339))
	}
	return token, nil
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(askExpiryLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
