package conversation

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversion"
)

// Placeholders accepted in scripted utterances.
const (
	// TokenRandom is replaced by a random number in words.
	TokenRandom = "$random"
	// TokenGuess narrows down a number from the bot's "too high"/"too low"
	// replies and stops the script once the bot says a guess is correct.
	TokenGuess = "$guess"
)

const (
	guessLowest  = 1
	guessHighest = 99
)

var (
	correctRE = regexp.MustCompile(`(\d+) is correct`)
	tooRE     = regexp.MustCompile(`(\d+) is too (\w+)`)
)

// Guesser resolves script placeholders into utterances.
type Guesser struct {
	low, high int
	intN      func(n int) int
}

// NewGuesser returns a guesser over [1..99]. A nil intN uses math/rand.
func NewGuesser(intN func(n int) int) *Guesser {
	if intN == nil {
		intN = rand.Intn
	}
	return &Guesser{low: guessLowest, high: guessHighest, intN: intN}
}

func (g *Guesser) pick() (string, error) {
	if g.low > g.high {
		return "", fmt.Errorf("%w: no number left in [%d..%d]", dialog.ErrExpectationMismatch, g.low, g.high)
	}
	return conversion.NumberToWords(g.low + g.intN(g.high-g.low+1))
}

// Resolve turns one scripted utterance into the text to send. previous is the
// speech of the last bot turn. done reports that the bot accepted a guess and
// the script should stop.
func (g *Guesser) Resolve(text, previous string) (resolved string, done bool, err error) {
	switch strings.TrimSpace(text) {
	case TokenRandom:
		resolved, err = g.pick()
		return resolved, false, err
	case TokenGuess:
	default:
		return text, false, nil
	}
	if previous == "" {
		resolved, err = g.pick()
		return resolved, false, err
	}
	if correctRE.MatchString(previous) {
		return "", true, nil
	}
	m := tooRE.FindStringSubmatch(previous)
	if m == nil {
		return "", false, fmt.Errorf("%w: no hint for a guess in %q", dialog.ErrExpectationMismatch, previous)
	}
	n, _ := strconv.Atoi(m[1])
	if m[2] == "high" {
		g.high = min(g.high, n-1)
	} else {
		g.low = max(g.low, n+1)
	}
	resolved, err = g.pick()
	return resolved, false, err
}

// RunScript sends free-form utterances without assertions, resolving
// placeholders on the way. It returns the outcome of every sent turn.
func RunScript(ctx context.Context, sim Simulator, texts []string, guesser *Guesser, cfg Config) ([]dialog.Outcome, error) {
	if sim == nil {
		return nil, fmt.Errorf("%w: simulator is required", dialog.ErrConfiguration)
	}
	cfg = cfg.withDefaults()
	if guesser == nil {
		guesser = NewGuesser(nil)
	}
	var outcomes []dialog.Outcome
	previous := ""
	for i, raw := range texts {
		text, done, err := guesser.Resolve(raw, previous)
		if err != nil {
			return outcomes, fmt.Errorf("utterance %d: %w", i+1, err)
		}
		if done {
			cfg.Logger.Info("guess accepted", "turns", len(outcomes))
			return outcomes, nil
		}
		if i > 0 {
			if err := cfg.Sleep(ctx, cfg.TurnPacing); err != nil {
				return outcomes, fmt.Errorf("pace conversation: %w", err)
			}
		}
		if cfg.Verbose {
			cfg.Logger.Info("User: " + text)
		}
		outcome, err := sim.Simulate(ctx, text)
		if err != nil {
			return outcomes, fmt.Errorf("utterance %d %q: %w", i+1, text, err)
		}
		outcomes = append(outcomes, outcome)
		previous = outcomeText(outcome)
		if cfg.Verbose {
			cfg.Logger.Info(" Bot: " + previous)
		}
	}
	return outcomes, nil
}

func outcomeText(o dialog.Outcome) string {
	var parts []string
	if o.Speech != nil {
		parts = append(parts, o.Speech.Text())
	}
	if o.RepromptSpeech != nil {
		parts = append(parts, o.RepromptSpeech.Text())
	}
	return strings.Join(parts, " ")
}
