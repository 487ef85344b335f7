// Package matching pairs eligible participants while steering away from
// people they have already met.
package matching

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"coffeebot/internal/models"
)

// Source is the randomness the engine draws on. *rand.Rand satisfies it.
type Source interface {
	Shuffle(n int, swap func(i, j int))
	IntN(n int) int
}

// Engine produces one run's pairs. It is greedy and queue-order dependent:
// each participant in a shuffled queue takes the first remaining person they
// have never met, else the remaining person they met longest ago, else a
// fallback identity.
type Engine struct {
	mu       sync.Mutex
	src      Source
	fallback []string
}

// NewEngine creates an engine. fallback is the pool used to absorb an odd
// participant out. A nil src uses a randomly seeded PCG generator.
func NewEngine(fallback []string, src Source) *Engine {
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		src:      src,
		fallback: append([]string(nil), fallback...),
	}
}

// Match pairs every identity in eligible exactly once. Duplicate identities
// are collapsed. history may include matches that involve people outside
// eligible; those are ignored.
func (e *Engine) Match(eligible []string, history []models.PastMatch) []models.Pair {
	queue := unique(eligible)
	if len(queue) == 0 {
		return []models.Pair{}
	}

	inEligible := make(map[string]bool, len(queue))
	for _, email := range queue {
		inEligible[email] = true
	}

	e.mu.Lock()
	e.src.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })
	e.mu.Unlock()

	partners := partnersByAge(history)
	pending := make(map[string]bool, len(queue))
	for _, email := range queue {
		pending[email] = true
	}

	pairs := make([]models.Pair, 0, len(queue)/2+1)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		delete(pending, current)

		// Only partners still waiting in the queue are candidates; anyone
		// consumed earlier in this run is already paired.
		pastPartners := make([]string, 0)
		met := make(map[string]bool)
		for _, partner := range partners[current] {
			if pending[partner] && !met[partner] {
				met[partner] = true
				pastPartners = append(pastPartners, partner)
			}
		}

		chosen := ""
		for _, candidate := range queue {
			if !met[candidate] {
				chosen = candidate
				break
			}
		}
		if chosen == "" && len(pastPartners) > 0 {
			chosen = pastPartners[0]
		}

		if chosen == "" {
			fallback, ok := e.pickFallback(current, inEligible)
			if ok {
				pairs = append(pairs, models.Pair{A: current, B: fallback, Fallback: true})
			}
			continue
		}

		pairs = append(pairs, models.Pair{A: current, B: chosen})
		queue = remove(queue, chosen)
		delete(pending, chosen)
	}

	return pairs
}

// pickFallback chooses a fallback partner for the odd one out. Identities that
// are not being matched today are preferred so nobody gets two chats; failing
// that any fallback other than current will do. ok is false when the only
// fallback is current itself.
func (e *Engine) pickFallback(current string, inEligible map[string]bool) (string, bool) {
	var idle, others []string
	for _, email := range e.fallback {
		if email == current {
			continue
		}
		others = append(others, email)
		if !inEligible[email] {
			idle = append(idle, email)
		}
	}

	pool := idle
	if len(pool) == 0 {
		pool = others
	}
	if len(pool) == 0 {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return pool[e.src.IntN(len(pool))], true
}

// partnersByAge indexes history by identity. Each identity's partners are
// listed oldest pairing first; unparseable dates count as oldest. A partner
// may appear more than once.
func partnersByAge(history []models.PastMatch) map[string][]string {
	type dated struct {
		match models.PastMatch
		at    time.Time
		valid bool
	}

	sorted := make([]dated, len(history))
	for i, m := range history {
		at, ok := m.ParsedDate()
		sorted[i] = dated{match: m, at: at, valid: ok}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.valid || !b.valid {
			return !a.valid && b.valid
		}
		return a.at.Before(b.at)
	})

	partners := make(map[string][]string)
	for _, d := range sorted {
		m := d.match
		if m.Email1 == m.Email2 {
			continue
		}
		partners[m.Email1] = append(partners[m.Email1], m.Email2)
		partners[m.Email2] = append(partners[m.Email2], m.Email1)
	}
	return partners
}

func unique(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		if seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

func remove(queue []string, email string) []string {
	for i, candidate := range queue {
		if candidate == email {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
