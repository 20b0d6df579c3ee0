package questions

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_HasCountUniqueQuestions(t *testing.T) {
	all := All()
	require.Len(t, all, Count)

	seen := make(map[string]bool)
	for i, q := range all {
		assert.Equal(t, i, q.ID)
		assert.NotEmpty(t, q.Text)
		assert.False(t, seen[q.Text], "duplicate question text %q", q.Text)
		seen[q.Text] = true
	}
}

func TestGet(t *testing.T) {
	q, err := Get(34)
	require.NoError(t, err)
	assert.Equal(t, "What is your motto?", q.Text)

	_, err = Get(35)
	assert.Error(t, err)
	_, err = Get(-1)
	assert.Error(t, err)
}

func TestNewOrder_IsPermutation(t *testing.T) {
	rng, err := NewSessionRand()
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		order := NewOrder(rng)
		require.True(t, ValidOrder(order), "order %v is not a permutation", order)
	}
}

func TestShuffle_DeterministicForSeed(t *testing.T) {
	seed := [32]byte{1, 2, 3}
	a := NewOrder(rand.New(rand.NewChaCha8(seed)))
	b := NewOrder(rand.New(rand.NewChaCha8(seed)))
	assert.Equal(t, a, b)
}

func TestValidOrder_RejectsBrokenOrders(t *testing.T) {
	order := NewOrder(rand.New(rand.NewChaCha8([32]byte{9})))

	short := append([]int(nil), order[:Count-1]...)
	assert.False(t, ValidOrder(short))

	dup := append([]int(nil), order...)
	dup[0] = dup[1]
	assert.False(t, ValidOrder(dup))

	outOfRange := append([]int(nil), order...)
	outOfRange[0] = Count
	assert.False(t, ValidOrder(outOfRange))
}

func TestNextUnanswered_ScansLowestPosition(t *testing.T) {
	order := []int{4, 2, 9, 0}

	pos, id, ok := NextUnanswered(order, map[int]bool{})
	assert.True(t, ok)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 4, id)

	// Out-of-order answers: position 1 answered before position 0.
	pos, id, ok = NextUnanswered(order, map[int]bool{2: true})
	assert.True(t, ok)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 4, id)

	pos, id, ok = NextUnanswered(order, map[int]bool{4: true, 2: true})
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.Equal(t, 9, id)

	_, _, ok = NextUnanswered(order, map[int]bool{4: true, 2: true, 9: true, 0: true})
	assert.False(t, ok)
}

// 10,000 simulated sessions: every (position, question) cell must land
// within ±2 percentage points of 1/35, and the pooled chi-square statistic
// must sit well inside its distribution.
func TestShuffle_UniformDistribution(t *testing.T) {
	const trials = 10000
	rng := rand.New(rand.NewChaCha8([32]byte{'p', 'r', 'o', 'u', 's', 't'}))

	var counts [Count][Count]int
	for i := 0; i < trials; i++ {
		for pos, id := range NewOrder(rng) {
			counts[pos][id]++
		}
	}

	expected := float64(trials) / Count
	chi2 := 0.0
	for pos := 0; pos < Count; pos++ {
		for id := 0; id < Count; id++ {
			freq := float64(counts[pos][id]) / trials
			assert.InDelta(t, 1.0/Count, freq, 0.02, "position %d question %d", pos, id)

			d := float64(counts[pos][id]) - expected
			chi2 += d * d / expected
		}
	}

	// 35 positions × 34 degrees of freedom = 1190, sd ≈ 49.
	assert.Less(t, chi2, 1500.0, "chi-square %.1f suggests a biased shuffle", chi2)
}
