package alexa

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

const skillsDoc = `{"skills":[
  {"skillId":"amzn1.ask.skill.trip","nameByLocale":{"en-US":"BookMyTripSkill","es-ES":"ReservaMiViaje"}},
  {"skillId":"amzn1.ask.skill.hilo","nameByLocale":{"en-US":"High Low Game"}}
]}`

func TestSkillRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".alexa_skills")
	if err := os.WriteFile(path, []byte(skillsDoc), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg, err := LoadSkillRegistry(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	id, err := reg.SkillID("BookMyTripSkill", "en-US")
	if err != nil || id != "amzn1.ask.skill.trip" {
		t.Fatalf("unexpected id %q err=%v", id, err)
	}
	if id, _ := reg.SkillID("ReservaMiViaje", "es-ES"); id != "amzn1.ask.skill.trip" {
		t.Fatalf("expected locale lookup, got %q", id)
	}
	if _, err := reg.SkillID("BookMyTripSkill", "fr-FR"); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := reg.SkillID("", "en-US"); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected configuration error for empty name, got %v", err)
	}
	if got := reg.SkillNames("en-US"); !reflect.DeepEqual(got, []string{"BookMyTripSkill", "High Low Game"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestLoadSkillRegistryMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadSkillRegistry(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	doc := func(expires string) []byte {
		return []byte(`{"profiles":{"default":{"token":{"access_token":"Atza|abc","expires_at":"` + expires + `"}}}}`)
	}

	token, err := ParseToken(doc("2026-10-19T13:00:00.123456Z"), "default", now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if token.AccessToken != "Atza|abc" || token.ExpiresAt.Hour() != 13 {
		t.Fatalf("unexpected token %+v", token)
	}

	_, err = ParseToken(doc("2026-10-19T11:00:00.000Z"), "default", now)
	if !errors.Is(err, dialog.ErrConfiguration) || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired token error, got %v", err)
	}
	if _, err := ParseToken(doc("2026-10-19T13:00:00.000Z"), "work", now); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected missing profile error, got %v", err)
	}
	if _, err := ParseToken(doc("tomorrow"), "default", now); !errors.Is(err, dialog.ErrConfiguration) {
		t.Fatalf("expected malformed expiry error, got %v", err)
	}
}
