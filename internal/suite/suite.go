package suite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/conversation"
	"github.com/tiger/lex-bot-tester/internal/resultschema"
)

// Platform selects the bot service a suite talks to.
type Platform string

const (
	PlatformAlexa Platform = "alexa"
	PlatformLex   Platform = "lex"
)

// Bot identifies a Lex bot alias.
type Bot struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
}

// Turn is one utterance with the result the bot must produce. A slot mapped
// to null must carry no value; values starting with "re:" are patterns.
type Turn struct {
	Send        string             `yaml:"send"`
	Intent      string             `yaml:"intent,omitempty"`
	DialogState string             `yaml:"dialog_state"`
	Slots       map[string]*string `yaml:"slots,omitempty"`
}

// Conversation is one scenario. It uses exactly one of three styles: steps
// checked for fulfillment, turns checked against expected results, or a free
// script of utterances.
type Conversation struct {
	Name   string              `yaml:"name"`
	Intent string              `yaml:"intent,omitempty"`
	Steps  []conversation.Step `yaml:"steps,omitempty"`
	Turns  []Turn              `yaml:"turns,omitempty"`
	Script []string            `yaml:"script,omitempty"`
}

// Suite is one YAML file of conversations against a single bot.
type Suite struct {
	Name     string   `yaml:"name"`
	Platform Platform `yaml:"platform"`
	Skill    string   `yaml:"skill,omitempty"`
	Locale   string   `yaml:"locale,omitempty"`
	Bot      Bot      `yaml:"bot,omitempty"`
	UseTTS   bool     `yaml:"use_tts,omitempty"`
	// Lex session and request attributes sent with every turn.
	SessionAttributes map[string]string `yaml:"session_attributes,omitempty"`
	RequestAttributes map[string]string `yaml:"request_attributes,omitempty"`
	Conversations     []Conversation    `yaml:"conversations"`

	// Path is the file the suite was loaded from.
	Path string `yaml:"-"`
}

// Target names the bot under test.
func (s *Suite) Target() string {
	if s.Platform == PlatformLex {
		return s.Bot.Name
	}
	return s.Skill
}

// Validate checks the suite shape before anything is sent.
func (s *Suite) Validate() error {
	var errs []error
	switch s.Platform {
	case PlatformAlexa:
		if strings.TrimSpace(s.Skill) == "" {
			errs = append(errs, errors.New("alexa suite requires skill"))
		}
		if s.UseTTS {
			errs = append(errs, errors.New("use_tts is only supported for lex"))
		}
		if len(s.SessionAttributes) > 0 || len(s.RequestAttributes) > 0 {
			errs = append(errs, errors.New("session and request attributes are only supported for lex"))
		}
	case PlatformLex:
		if strings.TrimSpace(s.Bot.Name) == "" || strings.TrimSpace(s.Bot.Alias) == "" {
			errs = append(errs, errors.New("lex suite requires bot name and alias"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported platform %q", s.Platform))
	}
	if len(s.Conversations) == 0 {
		errs = append(errs, errors.New("suite has no conversations"))
	}
	for i, c := range s.Conversations {
		label := c.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		styles := 0
		for _, used := range []bool{len(c.Steps) > 0, len(c.Turns) > 0, len(c.Script) > 0} {
			if used {
				styles++
			}
		}
		if styles != 1 {
			errs = append(errs, fmt.Errorf("conversation %s must have exactly one of steps, turns or script", label))
		}
		if len(c.Steps) > 0 && c.Intent == "" {
			errs = append(errs, fmt.Errorf("conversation %s: steps require intent", label))
		}
		for j, turn := range c.Turns {
			if turn.Intent == "" && c.Intent == "" {
				errs = append(errs, fmt.Errorf("conversation %s turn %d: no intent", label, j+1))
			}
			if err := dialog.DialogState(turn.DialogState).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("conversation %s turn %d: %w", label, j+1, err))
			}
			for slot, raw := range turn.Slots {
				if raw == nil {
					continue
				}
				if _, err := resultschema.ParseExpectation(*raw); err != nil {
					errs = append(errs, fmt.Errorf("conversation %s turn %d slot %s: %w", label, j+1, slot, err))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: suite %q: %w", dialog.ErrConfiguration, s.Name, errors.Join(errs...))
	}
	return nil
}

// Fields converts the slot expectations of a turn in name order.
func (t Turn) Fields() ([]resultschema.Field, error) {
	names := make([]string, 0, len(t.Slots))
	for name := range t.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]resultschema.Field, 0, len(names))
	for _, name := range names {
		raw := t.Slots[name]
		if raw == nil {
			fields = append(fields, resultschema.Field{Name: name, Want: resultschema.Absent()})
			continue
		}
		want, err := resultschema.ParseExpectation(*raw)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", name, err)
		}
		fields = append(fields, resultschema.Field{Name: name, Want: want})
	}
	return fields, nil
}

// Parse decodes one suite document. Unknown keys are rejected.
func Parse(raw []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: parse YAML: %v", dialog.ErrConfiguration, err)
	}
	if s.Locale == "" {
		s.Locale = "en-US"
	}
	s.Platform = Platform(strings.ToLower(string(s.Platform)))
	return &s, nil
}

// LoadFile reads and validates one suite file. A suite without a name is
// named after its file.
func LoadFile(path string) (*Suite, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read suite: %v", dialog.ErrConfiguration, err)
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	s.Path = path
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return s, nil
}

// LoadDir loads every .yaml and .yml file of dir, in file name order.
func LoadDir(dir string) ([]*Suite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read suite dir %q: %v", dialog.ErrConfiguration, dir, err)
	}
	var suites []*Suite
	for _, entry := range entries {
		if entry.IsDir() || !isSuiteFile(entry.Name()) {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// Load accepts either a suite file or a directory of suites.
func Load(path string) ([]*Suite, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dialog.ErrConfiguration, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	s, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*Suite{s}, nil
}

// Encode renders a suite as YAML.
func Encode(s *Suite) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode suite: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode suite: %w", err)
	}
	return buf.Bytes(), nil
}

func isSuiteFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
