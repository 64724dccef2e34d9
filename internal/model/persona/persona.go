package persona

import (
	"errors"
	"strings"
)

// Kind distinguishes the human operator from generated personas.
type Kind string

const (
	KindHuman     Kind = "human"
	KindGenerated Kind = "generated"
)

// OperatorID is the fixed identity of the signed-in operator within a session.
const OperatorID = "me"

var ErrInvalidPersona = errors.New("name, handle and bio are required")

// Persona captures a chat counterpart exposed to the frontend.
type Persona struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"fullName" yaml:"fullName"`
	Handle string `json:"username" yaml:"username"`
	Bio    string `json:"bio" yaml:"bio"`
	Avatar string `json:"avatar" yaml:"avatar"`
	Kind   Kind   `json:"kind" yaml:"kind"`
}

// Generated reports whether replies for this persona come from the text-generation provider.
func (p Persona) Generated() bool {
	return p.Kind == KindGenerated
}

// FirstName returns the first whitespace separated token of the display name.
func (p Persona) FirstName() string {
	fields := strings.Fields(p.Name)
	if len(fields) == 0 {
		return p.Handle
	}
	return fields[0]
}

// NewOperator builds the human persona for a signed-in operator.
func NewOperator(name, handle string) Persona {
	handle = NormalizeHandle(handle)
	return Persona{
		ID:     OperatorID,
		Name:   strings.TrimSpace(name),
		Handle: handle,
		Bio:    "New explorer on InstaChat.",
		Avatar: AvatarURL(handle),
		Kind:   KindHuman,
	}
}

// NormalizeHandle lowercases a handle and joins whitespace runs with underscores.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.Join(strings.Fields(handle), "_"))
}

// AvatarURL returns the generated avatar reference for a seed.
func AvatarURL(seed string) string {
	return "https://picsum.photos/seed/" + seed + "/200"
}

// Seed provides the default friends available right after sign-in.
func Seed() []Persona {
	return []Persona{
		{
			ID:     "luna",
			Name:   "Luna Chen",
			Handle: "luna_art",
			Bio:    "Digital artist & coffee lover ☕🎨",
			Avatar: AvatarURL("luna"),
			Kind:   KindGenerated,
		},
		{
			ID:     "jordan",
			Name:   "Jordan Sparks",
			Handle: "jordan_fit",
			Bio:    "Travel. Fitness. Adventure. 🏔️",
			Avatar: AvatarURL("jordan"),
			Kind:   KindGenerated,
		},
		{
			ID:     "tech_tom",
			Name:   "Tom Gadget",
			Handle: "tech_tom",
			Bio:    "Software Engineer @ FutureTech. Coder for life.",
			Avatar: AvatarURL("tom"),
			Kind:   KindGenerated,
		},
		{
			ID:     "sam_dev",
			Name:   "Sam Wilson",
			Handle: "sam_codes",
			Bio:    "Fullstack developer and open source enthusiast.",
			Avatar: AvatarURL("sam"),
			Kind:   KindGenerated,
		},
		{
			ID:     "mia_music",
			Name:   "Mia Song",
			Handle: "mia_melodies",
			Bio:    "Singer/Songwriter. Music is my life. 🎵",
			Avatar: AvatarURL("mia"),
			Kind:   KindGenerated,
		},
	}
}
