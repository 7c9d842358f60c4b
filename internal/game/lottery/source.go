// Package lottery provides the randomness used for symbol assignment.
// A Source abstraction keeps match pairing unbiased in production and
// deterministic in tests.
package lottery

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"sync"
)

// Source yields uniformly distributed integers in [0, n).
type Source interface {
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
//
// Invariant: All values produced are uniformly distributed in [0, n) for any n > 0.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "lottery: Intn called with n <= 0" if n <= 0.
// Panics with "lottery: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("lottery: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("lottery: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// seededSource implements Source using a seeded math/rand generator.
// It exists so tests can replay a fixed pairing order.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a deterministic Source for tests.
func NewSeededSource(seed int64) Source {
	return &seededSource{rng: mrand.New(mrand.NewSource(seed))}
}

func (s *seededSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// DrawFirst flips an unbiased coin over the two ids and returns them in draw
// order. The first id takes X, the second takes O.
//
// Precondition: a and b must be distinct non-empty ids; src must be non-nil.
func DrawFirst(src Source, a, b string) (first, second string) {
	if src.Intn(2) == 0 {
		return a, b
	}
	return b, a
}
