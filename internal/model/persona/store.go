package persona

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store exposes persona retrieval and creation for HTTP handlers.
type Store interface {
	List() []Persona
	Search(query string) []Persona
	FindByID(id string) (Persona, bool)
	Create(draft Draft) (Persona, error)
}

// Draft carries the operator-authored fields for a new persona.
type Draft struct {
	Name       string `json:"fullName"`
	Handle     string `json:"username"`
	Bio        string `json:"bio"`
	AvatarSeed string `json:"avatarSeed,omitempty"`
}

// MemoryStore implements Store with an in-memory slice. New personas go to the front.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns every persona, newest operator-created first.
func (s *MemoryStore) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Persona(nil), s.items...)
}

// Search filters personas by case-insensitive substring of name or handle.
// A blank query returns the full list.
func (s *MemoryStore) Search(query string) []Persona {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Persona, 0, len(s.items))
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Handle), query) ||
			strings.Contains(strings.ToLower(item.Name), query) {
			matches = append(matches, item)
		}
	}
	return matches
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Create validates the draft and stores a new generated persona.
func (s *MemoryStore) Create(draft Draft) (Persona, error) {
	name := strings.TrimSpace(draft.Name)
	handle := NormalizeHandle(draft.Handle)
	bio := strings.TrimSpace(draft.Bio)
	if name == "" || handle == "" || bio == "" {
		return Persona{}, ErrInvalidPersona
	}

	seed := strings.TrimSpace(draft.AvatarSeed)
	if seed == "" {
		seed = uuid.NewString()[:8]
	}

	created := Persona{
		ID:     "ai_" + uuid.NewString(),
		Name:   name,
		Handle: handle,
		Bio:    bio,
		Avatar: AvatarURL(seed),
		Kind:   KindGenerated,
	}

	s.mu.Lock()
	s.items = append([]Persona{created}, s.items...)
	s.mu.Unlock()

	return created, nil
}
