package questions

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
)

// Shuffle permutes ids in place with the Fisher–Yates (Knuth) algorithm:
// walk from the last index down to 1, swapping each element with a uniformly
// chosen element at or before it. Every permutation is equally likely.
func Shuffle(ids []int, rng *rand.Rand) {
	for i := len(ids) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// NewOrder returns a shuffled permutation of all question ids.
func NewOrder(rng *rand.Rand) []int {
	ids := make([]int, Count)
	for i := range ids {
		ids[i] = i
	}
	Shuffle(ids, rng)
	return ids
}

// NewSessionRand returns a ChaCha8 generator seeded from crypto/rand, one per
// session.
func NewSessionRand() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("questions: seeding shuffle: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}

// ValidOrder reports whether order is a permutation of exactly the question
// ids: Count entries, no repeats, none out of range.
func ValidOrder(order []int) bool {
	if len(order) != Count {
		return false
	}
	var seen [Count]bool
	for _, id := range order {
		if !Valid(id) || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

// NextUnanswered returns the position and id of the lowest position in order
// whose question is not in answered. ok is false when every question is
// answered.
func NextUnanswered(order []int, answered map[int]bool) (position, id int, ok bool) {
	for pos, qid := range order {
		if !answered[qid] {
			return pos, qid, true
		}
	}
	return 0, 0, false
}
