package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadSeedFile reads a YAML persona list, e.g.
//
//	personas:
//	  - id: luna
//	    fullName: Luna Chen
//	    username: luna_art
//	    bio: Digital artist & coffee lover
func LoadSeedFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona seed file: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes a YAML persona list and fills defaults. Entries without a kind are
// generated personas; ids must be unique.
func ParseSeed(raw []byte) ([]Persona, error) {
	var doc seedFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode persona seed: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Personas))
	out := make([]Persona, 0, len(doc.Personas))
	for i, p := range doc.Personas {
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		p.Handle = NormalizeHandle(p.Handle)
		p.Bio = strings.TrimSpace(p.Bio)
		if p.ID == "" || p.Name == "" || p.Handle == "" || p.Bio == "" {
			return nil, fmt.Errorf("persona seed entry %d: %w", i, ErrInvalidPersona)
		}
		if p.ID == OperatorID {
			return nil, fmt.Errorf("persona seed entry %d: id %q is reserved", i, OperatorID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("persona seed entry %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}

		switch p.Kind {
		case "":
			p.Kind = KindGenerated
		case KindGenerated, KindHuman:
		default:
			return nil, fmt.Errorf("persona seed entry %d: unknown kind %q", i, p.Kind)
		}
		if p.Avatar == "" {
			p.Avatar = AvatarURL(p.ID)
		}
		out = append(out, p)
	}
	return out, nil
}
