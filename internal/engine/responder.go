package engine

import (
	"math/rand"
	"strings"

	"github.com/superheromeZzh/meowdev/internal/cat"
)

// Topic keyword sets used when no cat is mentioned by name. Tech terms pull
// in the architect and the implementer; design terms pull in the designer.
var (
	techKeywords = []string{
		"code", "bug", "error", "crash", "api", "endpoint", "database",
		"deploy", "git", "python", "javascript", "react", "function",
		"algorithm", "architecture", "backend", "test",
	}
	designKeywords = []string{
		"design", "color", "palette", "ui", "ux", "layout", "font",
		"typography", "logo", "icon", "style", "pretty", "ugly",
	}
)

// ResponderPolicy decides which cats respond to an incoming user message.
// Mentions win; otherwise topic keywords bias the pick; otherwise a random
// 2-3 subset answers so the chat never goes silent.
type ResponderPolicy struct {
	registry *cat.Registry
	rng      *rand.Rand
}

// NewResponderPolicy builds a policy over the registry. The seed makes
// selection reproducible in tests.
func NewResponderPolicy(registry *cat.Registry, seed int64) *ResponderPolicy {
	return &ResponderPolicy{
		registry: registry,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Select returns the cats that should respond to text, in speaking order.
// Always returns at least one cat for a non-empty registry.
func (p *ResponderPolicy) Select(text string) []*cat.Cat {
	all := p.registry.All()
	if len(all) == 0 {
		return nil
	}

	if mentioned := p.registry.Mentioned(text); len(mentioned) > 0 {
		out := append([]*cat.Cat(nil), mentioned...)
		// Sometimes one unmentioned cat chimes in too.
		if extra := p.pickUnmentioned(all, mentioned); extra != nil && p.rng.Intn(2) == 0 {
			out = append(out, extra)
		}
		return out
	}

	lower := strings.ToLower(text)
	if containsAny(lower, techKeywords) {
		out := p.byID("arch", "stack")
		if c, ok := p.registry.Get("pixel"); ok && p.rng.Float64() > 0.5 {
			out = append(out, c)
		}
		return out
	}
	if containsAny(lower, designKeywords) {
		out := p.byID("pixel")
		if c, ok := p.registry.Get("stack"); ok && p.rng.Float64() > 0.4 {
			out = append(out, c)
		}
		if c, ok := p.registry.Get("arch"); ok && p.rng.Float64() > 0.6 {
			out = append(out, c)
		}
		return out
	}

	shuffled := append([]*cat.Cat(nil), all...)
	p.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	n := 2 + p.rng.Intn(2)
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func (p *ResponderPolicy) byID(ids ...string) []*cat.Cat {
	var out []*cat.Cat
	for _, id := range ids {
		if c, ok := p.registry.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (p *ResponderPolicy) pickUnmentioned(all, mentioned []*cat.Cat) *cat.Cat {
	in := make(map[string]bool, len(mentioned))
	for _, c := range mentioned {
		in[c.ID] = true
	}
	var rest []*cat.Cat
	for _, c := range all {
		if !in[c.ID] {
			rest = append(rest, c)
		}
	}
	if len(rest) == 0 {
		return nil
	}
	return rest[p.rng.Intn(len(rest))]
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
