package matching

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeebot/internal/models"
)

const fallbackEmail = "fallback@example.com"

// inOrder keeps the queue as given and always picks the first fallback.
type inOrder struct{}

func (inOrder) Shuffle(int, func(i, j int)) {}
func (inOrder) IntN(int) int                { return 0 }

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func past(date, a, b string) models.PastMatch {
	return models.PastMatch{Date: date, Email1: a, Email2: b}
}

func samePair(p models.Pair, a, b string) bool {
	return (p.A == a && p.B == b) || (p.A == b && p.B == a)
}

// participation counts how often each identity appears, ignoring the
// fallback side of fallback pairs.
func participation(pairs []models.Pair) map[string]int {
	counts := make(map[string]int)
	for _, p := range pairs {
		counts[p.A]++
		if !p.Fallback {
			counts[p.B]++
		}
	}
	return counts
}

func TestMatch_Empty(t *testing.T) {
	engine := NewEngine([]string{fallbackEmail}, seeded(1))

	pairs := engine.Match(nil, nil)
	assert.NotNil(t, pairs)
	assert.Empty(t, pairs)
}

func TestMatch_SingleIdentityGetsFallback(t *testing.T) {
	engine := NewEngine([]string{fallbackEmail}, seeded(1))

	pairs := engine.Match([]string{"ada@example.com"}, nil)
	require.Len(t, pairs, 1)
	assert.Equal(t, models.Pair{A: "ada@example.com", B: fallbackEmail, Fallback: true}, pairs[0])
}

func TestMatch_CoverageAndNoSelfPairs(t *testing.T) {
	history := []models.PastMatch{
		past("2026-09-01", "p0@example.com", "p1@example.com"),
		past("2026-09-08", "p2@example.com", "p3@example.com"),
		past("2026-09-15", "p0@example.com", "p4@example.com"),
	}

	for n := 0; n <= 11; n++ {
		eligible := make([]string, n)
		for i := range eligible {
			eligible[i] = "p" + string(rune('0'+i)) + "@example.com"
		}

		for seed := uint64(0); seed < 25; seed++ {
			pairs := NewEngine([]string{fallbackEmail}, seeded(seed)).Match(eligible, history)

			for _, p := range pairs {
				assert.NotEqual(t, p.A, p.B, "self pair with n=%d seed=%d", n, seed)
			}

			counts := participation(pairs)
			assert.Len(t, counts, n)
			for _, email := range eligible {
				assert.Equal(t, 1, counts[email], "%s with n=%d seed=%d", email, n, seed)
			}

			fallbacks := 0
			for _, p := range pairs {
				if p.Fallback {
					fallbacks++
					assert.Equal(t, fallbackEmail, p.B)
				}
			}
			assert.Equal(t, n%2, fallbacks)
			assert.Len(t, pairs, (n+1)/2)
		}
	}
}

func TestMatch_AvoidsPastPartnerWhenOthersAvailable(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com"}
	history := []models.PastMatch{past("2026-10-01", "a@example.com", "b@example.com")}

	for seed := uint64(0); seed < 100; seed++ {
		pairs := NewEngine([]string{fallbackEmail}, seeded(seed)).Match(eligible, history)
		for _, p := range pairs {
			assert.False(t, samePair(p, "a@example.com", "b@example.com"), "seed %d rematched a and b", seed)
		}
	}
}

func TestMatch_ForcedRematch(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com"}
	history := []models.PastMatch{
		past("2026-09-01", "a@example.com", "b@example.com"),
		past("2026-10-01", "a@example.com", "b@example.com"),
	}

	for seed := uint64(0); seed < 20; seed++ {
		pairs := NewEngine([]string{fallbackEmail}, seeded(seed)).Match(eligible, history)
		require.Len(t, pairs, 1)
		assert.True(t, samePair(pairs[0], "a@example.com", "b@example.com"))
		assert.False(t, pairs[0].Fallback)
	}
}

func TestMatch_RematchesOldestPartnerFirst(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com"}

	history := []models.PastMatch{
		past("2026-06-01", "a@example.com", "c@example.com"),
		past("2026-03-01", "b@example.com", "c@example.com"),
		past("2026-01-01", "a@example.com", "b@example.com"),
	}
	pairs := NewEngine([]string{fallbackEmail}, inOrder{}).Match(eligible, history)
	require.Len(t, pairs, 2)
	assert.Equal(t, models.Pair{A: "a@example.com", B: "b@example.com"}, pairs[0])
	assert.Equal(t, models.Pair{A: "c@example.com", B: fallbackEmail, Fallback: true}, pairs[1])

	history = []models.PastMatch{
		past("2026-01-01", "a@example.com", "c@example.com"),
		past("2026-03-01", "b@example.com", "c@example.com"),
		past("2026-06-01", "a@example.com", "b@example.com"),
	}
	pairs = NewEngine([]string{fallbackEmail}, inOrder{}).Match(eligible, history)
	require.Len(t, pairs, 2)
	assert.Equal(t, models.Pair{A: "a@example.com", B: "c@example.com"}, pairs[0])
	assert.Equal(t, models.Pair{A: "b@example.com", B: fallbackEmail, Fallback: true}, pairs[1])
}

func TestMatch_MalformedDateSortsOldest(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com"}
	history := []models.PastMatch{
		past("2026-01-01", "a@example.com", "c@example.com"),
		past("not-a-date", "a@example.com", "b@example.com"),
		past("2026-02-01", "b@example.com", "c@example.com"),
	}

	pairs := NewEngine([]string{fallbackEmail}, inOrder{}).Match(eligible, history)
	require.Len(t, pairs, 2)
	assert.Equal(t, models.Pair{A: "a@example.com", B: "b@example.com"}, pairs[0])
}

func TestMatch_IgnoresPartnersAlreadyPaired(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"}
	history := []models.PastMatch{
		past("2026-01-01", "a@example.com", "c@example.com"),
		past("2026-02-01", "c@example.com", "d@example.com"),
	}

	pairs := NewEngine([]string{fallbackEmail}, inOrder{}).Match(eligible, history)
	assert.Equal(t, []models.Pair{
		{A: "a@example.com", B: "b@example.com"},
		{A: "c@example.com", B: "d@example.com"},
	}, pairs)
}

func TestMatch_OddOneOut(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com"}

	for seed := uint64(0); seed < 50; seed++ {
		pairs := NewEngine([]string{fallbackEmail}, seeded(seed)).Match(eligible, nil)
		require.Len(t, pairs, 2)

		var regular, fallback []models.Pair
		for _, p := range pairs {
			if p.Fallback {
				fallback = append(fallback, p)
			} else {
				regular = append(regular, p)
			}
		}
		require.Len(t, fallback, 1)
		require.Len(t, regular, 1)

		members := []string{regular[0].A, regular[0].B, fallback[0].A}
		sort.Strings(members)
		assert.Equal(t, eligible, members)
	}
}

func TestMatch_DuplicateIdentitiesCollapse(t *testing.T) {
	pairs := NewEngine([]string{fallbackEmail}, inOrder{}).Match(
		[]string{"a@example.com", "a@example.com", "b@example.com"}, nil)

	assert.Equal(t, []models.Pair{{A: "a@example.com", B: "b@example.com"}}, pairs)
}

func TestMatch_FallbackPrefersIdleIdentity(t *testing.T) {
	pool := []string{"busy@example.com", "idle@example.com"}
	eligible := []string{"a@example.com", "busy@example.com", "c@example.com"}

	for seed := uint64(0); seed < 30; seed++ {
		pairs := NewEngine(pool, seeded(seed)).Match(eligible, nil)
		for _, p := range pairs {
			if p.Fallback {
				assert.Equal(t, "idle@example.com", p.B)
			}
		}
	}
}

func TestMatch_FallbackAlreadyEligible(t *testing.T) {
	pool := []string{"f@example.com"}
	eligible := []string{"a@example.com", "f@example.com", "b@example.com"}

	pairs := NewEngine(pool, inOrder{}).Match(eligible, nil)
	assert.Equal(t, []models.Pair{
		{A: "a@example.com", B: "f@example.com"},
		{A: "b@example.com", B: "f@example.com", Fallback: true},
	}, pairs)
}

func TestMatch_FallbackNeverPairsWithItself(t *testing.T) {
	pairs := NewEngine([]string{"f@example.com"}, inOrder{}).Match([]string{"f@example.com"}, nil)
	assert.Empty(t, pairs)
}

func TestMatch_ShuffleVariesQueueOrder(t *testing.T) {
	eligible := []string{"a@example.com", "b@example.com", "c@example.com"}
	firsts := make(map[string]bool)

	for seed := uint64(0); seed < 60; seed++ {
		pairs := NewEngine([]string{fallbackEmail}, seeded(seed)).Match(eligible, nil)
		firsts[pairs[0].A] = true
	}
	assert.Len(t, firsts, 3, "every identity should lead the queue for some seed")
}
