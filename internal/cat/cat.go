// Package cat implements the three cat personas: identity, prompt
// construction, external CLI invocation, transport-specific output
// decoding, and quota fallback. One Agent produces one reply per turn.
package cat

import (
	"strings"
	"sync"
)

// Fallback describes the degraded invocation used when a cat's primary CLI
// reports quota exhaustion: another cat's command impersonates the original
// voice for a single attempt.
type Fallback struct {
	Command    []string
	HelperName string
}

// Cat is one persona. One instance per cat for the process lifetime.
// Everything is immutable after construction except the soul text, which
// hot-reloads through SetSoul; concurrent readers must go through
// CurrentSoul.
type Cat struct {
	ID        string
	Name      string
	Breed     string
	Role      string
	Nicknames []string
	Soul      string
	Command   []string
	Fallback  *Fallback
	Decoder   Decoder

	soulMu sync.RWMutex
}

// SetSoul replaces the persona text. Safe against concurrent prompt
// builds.
func (c *Cat) SetSoul(soul string) {
	c.soulMu.Lock()
	c.Soul = soul
	c.soulMu.Unlock()
}

// CurrentSoul returns the persona text under the lock SetSoul takes.
func (c *Cat) CurrentSoul() string {
	c.soulMu.RLock()
	defer c.soulMu.RUnlock()
	return c.Soul
}

// Registry holds the fixed cast of cats, looked up by id or by any
// name/nickname appearing in free text.
type Registry struct {
	cats []*Cat
	byID map[string]*Cat
}

// NewRegistry builds a registry. Cat ids must be unique; lookups are
// case-insensitive.
func NewRegistry(cats []*Cat) *Registry {
	r := &Registry{byID: make(map[string]*Cat)}
	for _, c := range cats {
		if c.Decoder == nil {
			c.Decoder = PlainDecoder{}
		}
		r.cats = append(r.cats, c)
		r.byID[strings.ToLower(c.ID)] = c
	}
	return r
}

// All returns the cats in registration order. The slice is a copy;
// callers may reorder it freely.
func (r *Registry) All() []*Cat {
	return append([]*Cat(nil), r.cats...)
}

// Get returns the cat with the given id.
func (r *Registry) Get(id string) (*Cat, bool) {
	c, ok := r.byID[strings.ToLower(id)]
	return c, ok
}

// Mentioned returns every cat whose name, id, or nickname appears in text,
// case-insensitive, in registration order.
func (r *Registry) Mentioned(text string) []*Cat {
	lower := strings.ToLower(text)
	var out []*Cat
	for _, c := range r.cats {
		if r.mentions(lower, c) {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) mentions(lowerText string, c *Cat) bool {
	names := append([]string{c.Name, c.ID}, c.Nicknames...)
	for _, n := range names {
		if n == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
