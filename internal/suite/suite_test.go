package suite

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

const flowersSuite = `
name: order-flowers
platform: lex
bot: {name: OrderFlowers, alias: OrderFlowersLatest}
session_attributes: {channel: test}
conversations:
  - name: order roses
    intent: OrderFlowers
    turns:
      - send: I would like to order some roses
        dialog_state: ElicitSlot
        slots: {flower_type: roses, pickup_date: ~}
      - send: tomorrow
        dialog_state: ElicitSlot
        slots: {pickup_date: "re:\\d{4}-\\d{2}-\\d{2}"}
`

const tripSuite = `
platform: ALEXA
skill: BookMyTripSkill
conversations:
  - name: reserve a car
    intent: BookCar
    steps:
      - text: ask book my trip to reserve a car
      - {slot: CarType, text: midsize}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "flowers.yaml", flowersSuite)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "order-flowers" || s.Platform != PlatformLex || s.Target() != "OrderFlowers" || s.Locale != "en-US" || s.Path != path || s.SessionAttributes["channel"] != "test" {
		t.Fatalf("unexpected suite %+v", s)
	}
	turn := s.Conversations[0].Turns[0]
	fields, err := turn.Fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if len(fields) != 2 || fields[0].Name != "flower_type" || fields[1].Name != "pickup_date" || !fields[1].Want.IsAbsent() {
		t.Fatalf("unexpected fields %+v", fields)
	}
	fields, _ = s.Conversations[0].Turns[1].Fields()
	if !fields[0].Want.IsPattern() || !fields[0].Want.Matches("2026-10-20", true) {
		t.Fatalf("expected date pattern, got %s", fields[0].Want)
	}
}

func TestLoadFileDefaultsNameAndPlatformCase(t *testing.T) {
	t.Parallel()

	s, err := LoadFile(writeFile(t, t.TempDir(), "book-my-trip.yml", tripSuite))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Name != "book-my-trip" || s.Platform != PlatformAlexa || s.Target() != "BookMyTripSkill" {
		t.Fatalf("unexpected suite %+v", s)
	}
	if steps := s.Conversations[0].Steps; len(steps) != 2 || steps[1].Slot != "CarType" || steps[1].Text != "midsize" {
		t.Fatalf("unexpected steps %+v", steps)
	}
}

func TestValidateRejectsBadSuites(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown key", body: "platform: lex\nbots: {}\n", want: "bots"},
		{name: "missing skill", body: "platform: alexa\nconversations: [{name: c, script: [hi]}]\n", want: "requires skill"},
		{name: "tts on alexa", body: "platform: alexa\nskill: s\nuse_tts: true\nconversations: [{name: c, script: [hi]}]\n", want: "use_tts"},
		{name: "attributes on alexa", body: "platform: alexa\nskill: s\nsession_attributes: {a: b}\nconversations: [{name: c, script: [hi]}]\n", want: "only supported for lex"},
		{name: "unknown platform", body: "platform: dialogflow\nconversations: [{name: c, script: [hi]}]\n", want: "unsupported platform"},
		{name: "two styles", body: "platform: alexa\nskill: s\nconversations: [{name: c, intent: I, script: [hi], steps: [{text: hi}]}]\n", want: "exactly one"},
		{name: "steps without intent", body: "platform: alexa\nskill: s\nconversations: [{name: c, steps: [{text: hi}]}]\n", want: "require intent"},
		{name: "bad dialog state", body: "platform: alexa\nskill: s\nconversations: [{name: c, intent: I, turns: [{send: hi, dialog_state: Waiting}]}]\n", want: "dialog_state"},
		{name: "bad pattern", body: "platform: alexa\nskill: s\nconversations: [{name: c, intent: I, turns: [{send: hi, dialog_state: ElicitSlot, slots: {a: \"re:(\"}}]}]\n", want: "compile pattern"},
		{name: "empty", body: "platform: lex\nbot: {name: b, alias: a}\n", want: "no conversations"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadFile(writeFile(t, t.TempDir(), "s.yaml", tc.body))
			if !errors.Is(err, dialog.ErrConfiguration) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected configuration error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDirAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "b.yaml", flowersSuite)
	writeFile(t, dir, "a.yml", tripSuite)
	writeFile(t, dir, "notes.txt", "not a suite")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	suites, err := Load(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(suites) != 2 || suites[0].Name != "a" || suites[1].Name != "order-flowers" {
		t.Fatalf("unexpected suites %+v", suites)
	}
	single, err := Load(filepath.Join(dir, "b.yaml"))
	if err != nil || len(single) != 1 {
		t.Fatalf("unexpected single load %v err=%v", single, err)
	}
	if _, err := Load(filepath.Join(dir, "missing")); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEncodeRoundTripsThroughParse(t *testing.T) {
	t.Parallel()

	s, err := Parse([]byte(flowersSuite))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	raw, err := Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), "pickup_date: null") {
		t.Fatalf("expected absent slot to render as null:\n%s", raw)
	}
	back, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse encoded: %v\n%s", err, raw)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("validate encoded: %v", err)
	}
}
