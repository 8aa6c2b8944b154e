// Package shuffle provides a string-seeded, reproducible permutation.
//
// The generator state is derived only from the seed string, so the same
// (sequence, seed) pair yields the same order on every call, process and
// host. Option and question presentation orders are never persisted; they
// are recomputed through this package whenever a session is rendered.
package shuffle

import (
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// streamSalt separates the two PCG words so that a seed never produces the
// degenerate (x, x) state.
const streamSalt = 0x9e3779b97f4a7c15

// Source returns the deterministic generator for seed.
func Source(seed string) *rand.PCG {
	h := xxhash.Sum64String(seed)
	return rand.NewPCG(h, h^streamSalt)
}

// Shuffle returns a shuffled copy of items. The input slice is never
// modified. Empty and single-element inputs are returned as copies.
func Shuffle[T any](items []T, seed string) []T {
	out := make([]T, len(items))
	copy(out, items)
	if len(out) < 2 {
		return out
	}

	src := Source(seed)
	for i := len(out) - 1; i > 0; i-- {
		// PCG.Uint64 output is fixed across Go releases; the modulo keeps
		// the index derivation under our control as well.
		j := int(src.Uint64() % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Seed joins the parts of a seed with ":".
func Seed(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}
