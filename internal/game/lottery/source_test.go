package lottery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDrawFirstReturnsBothPlayers(t *testing.T) {
	src := NewSeededSource(1)
	first, second := DrawFirst(src, "Alice", "Bob")
	assert.NotEqual(t, first, second)
	assert.Contains(t, []string{"Alice", "Bob"}, first)
	assert.Contains(t, []string{"Alice", "Bob"}, second)
}

func TestDrawFirstDeterministicForSeed(t *testing.T) {
	a1, b1 := DrawFirst(NewSeededSource(42), "Alice", "Bob")
	a2, b2 := DrawFirst(NewSeededSource(42), "Alice", "Bob")
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
}

func TestCryptoSourceInRange(t *testing.T) {
	src := NewCryptoSource()
	for i := 0; i < 100; i++ {
		v := src.Intn(2)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 2)
	}
}

func TestSeededSourceRoughlyFair(t *testing.T) {
	src := NewSeededSource(7)
	const rounds = 10000
	wins := 0
	for i := 0; i < rounds; i++ {
		first, _ := DrawFirst(src, "Alice", "Bob")
		if first == "Alice" {
			wins++
		}
	}
	// A fair coin lands on Alice close to half the time.
	assert.InDelta(t, rounds/2, wins, rounds/10)
}

func TestPropertyDrawFirstIsPartition(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-z]{3,10}`).Draw(t, "a")
		b := a + "x"
		seed := rapid.Int64().Draw(t, "seed")

		first, second := DrawFirst(NewSeededSource(seed), a, b)
		if first == second {
			t.Fatalf("draw returned the same player twice: %q", first)
		}
		if (first != a && first != b) || (second != a && second != b) {
			t.Fatalf("draw invented a player: %q, %q", first, second)
		}
	})
}
