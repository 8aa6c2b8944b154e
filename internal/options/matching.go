package options

import (
	"fmt"
	"strings"

	"github.com/medprep/session-engine/internal/model"
	"github.com/medprep/session-engine/internal/shuffle"
)

// Permutation sizes outside this range fall back to model.DefaultMatchingSize.
const (
	minMatchingSize = 2
	maxMatchingSize = 7
)

var romanNumerals = []string{"I", "II", "III", "IV", "V", "VI", "VII"}

// NormalizeKey validates key as a permutation of 0..size-1. An invalid or
// missing key yields the identity permutation and ok=false.
func NormalizeKey(key []int, size int) (perm []int, ok bool) {
	if len(key) == size {
		seen := make([]bool, size)
		valid := true
		for _, v := range key {
			if v < 0 || v >= size || seen[v] {
				valid = false
				break
			}
			seen[v] = true
		}
		if valid {
			return append([]int(nil), key...), true
		}
	}

	identity := make([]int, size)
	for i := range identity {
		identity[i] = i
	}
	return identity, false
}

// BuildMatching returns the five candidate permutations displayed for a
// matching question: the correct one plus four distinct distractors, in a
// seed-determined order, labelled M1..M5 by position.
//
// keyValid is false when the stored key was unusable and the identity
// permutation was graded as correct instead.
func BuildMatching(seed string, key []int, size int) (candidates []model.MatchingCandidate, keyValid bool) {
	if size < minMatchingSize || size > maxMatchingSize {
		size = model.DefaultMatchingSize
	}
	correct, keyValid := NormalizeKey(key, size)
	correctID := permKey(correct)

	var distractors [][]int
	for _, p := range permutations(size) {
		if permKey(p) != correctID {
			distractors = append(distractors, p)
		}
	}
	distractors = shuffle.Shuffle(distractors, seed+"-match")

	picked := make([][]int, 0, DisplayCount)
	picked = append(picked, correct)
	for i := 0; i < incorrectCount && len(distractors) > 0; i++ {
		// Repeats only happen when size! - 1 < 4, i.e. size 2.
		picked = append(picked, distractors[i%len(distractors)])
	}
	picked = shuffle.Shuffle(picked, seed+"-match-final")

	candidates = make([]model.MatchingCandidate, len(picked))
	for i, p := range picked {
		candidates[i] = model.MatchingCandidate{
			Label:       fmt.Sprintf("M%d", i+1),
			Text:        RenderPermutation(p),
			Permutation: p,
			IsCorrect:   permKey(p) == correctID,
		}
	}
	return candidates, keyValid
}

// FindCandidate returns the candidate carrying label.
func FindCandidate(candidates []model.MatchingCandidate, label string) (model.MatchingCandidate, bool) {
	for _, c := range candidates {
		if c.Label == label {
			return c, true
		}
	}
	return model.MatchingCandidate{}, false
}

// RenderPermutation formats p as "A-III, B-I, C-IV, D-II".
func RenderPermutation(p []int) string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprintf("%c-%s", 'A'+i, romanNumerals[v])
	}
	return strings.Join(parts, ", ")
}

// permutations enumerates all permutations of 0..n-1 in lexicographic order.
func permutations(n int) [][]int {
	var out [][]int
	cur := make([]int, 0, n)
	used := make([]bool, n)

	var walk func()
	walk = func() {
		if len(cur) == n {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for v := 0; v < n; v++ {
			if used[v] {
				continue
			}
			used[v] = true
			cur = append(cur, v)
			walk()
			cur = cur[:len(cur)-1]
			used[v] = false
		}
	}
	walk()
	return out
}

func permKey(p []int) string {
	var b strings.Builder
	for _, v := range p {
		b.WriteByte(byte('0' + v))
	}
	return b.String()
}
