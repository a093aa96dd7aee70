package alexa

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

// SkillRegistry maps skill names per locale to skill ids. It is read from a
// local file shaped {"skills":[{"skillId":..,"nameByLocale":{"en-US":..}}]}.
type SkillRegistry struct {
	Skills []SkillEntry `json:"skills"`
}

// SkillEntry is one registered skill.
type SkillEntry struct {
	SkillID      string            `json:"skillId"`
	NameByLocale map[string]string `json:"nameByLocale"`
}

// LoadSkillRegistry reads the registry file at path.
func LoadSkillRegistry(path string) (*SkillRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read skill registry: %v", dialog.ErrConfiguration, err)
	}
	return ParseSkillRegistry(raw)
}

// ParseSkillRegistry decodes a registry document.
func ParseSkillRegistry(raw []byte) (*SkillRegistry, error) {
	var reg SkillRegistry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("%w: decode skill registry: %v", dialog.ErrConfiguration, err)
	}
	return &reg, nil
}

// SkillID resolves a skill name in a locale.
func (r *SkillRegistry) SkillID(name, locale string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: skill name must be provided", dialog.ErrConfiguration)
	}
	for _, s := range r.Skills {
		if s.NameByLocale[locale] == name && s.SkillID != "" {
			return s.SkillID, nil
		}
	}
	return "", fmt.Errorf("%w: cannot find skill id for %q in locale %s", dialog.ErrConfiguration, name, locale)
}

// SkillNames lists the registered skill names of a locale, sorted.
func (r *SkillRegistry) SkillNames(locale string) []string {
	names := make([]string, 0, len(r.Skills))
	for _, s := range r.Skills {
		if name, ok := s.NameByLocale[locale]; ok && name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
