// Package fuzzy scores free-text queries against candidate strings.
//
// Similarity is a character-sequence-alignment ratio: twice the total
// length of the longest common matching runs divided by the combined
// length of both strings. The algorithm is deterministic; for fixed
// inputs the ranking is stable and reproducible.
package fuzzy

import (
	"sort"
	"strings"
	"unicode"
)

// Clean strips emoji and symbol runes from a name and collapses
// whitespace. Letters, digits, underscores, apostrophes and hyphens
// survive; everything else becomes a word boundary.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Ratio computes the alignment ratio between a and b in [0, 1].
// Matching runs are found greedily: the longest common substring first,
// then recursively to its left and right.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	matched := matchingRunTotal(ra, rb)
	return 2.0 * float64(matched) / float64(total)
}

type span struct{ alo, ahi, blo, bhi int }

func matchingRunTotal(a, b []rune) int {
	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		i, j, size := longestMatch(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if size == 0 {
			continue
		}
		matched += size
		queue = append(queue,
			span{s.alo, i, s.blo, j},
			span{i + size, s.ahi, j + size, s.bhi},
		)
	}
	return matched
}

// longestMatch finds the leftmost longest common run of a[alo:ahi] and
// b[blo:bhi]. Ties resolve to the earliest position in a, then b, which
// keeps the overall ratio deterministic.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	b2j := make(map[rune][]int, bhi-blo)
	for j := blo; j < bhi; j++ {
		b2j[b[j]] = append(b2j[b[j]], j)
	}
	besti, bestj = alo, blo
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}

// Score rates candidate against query using, in order: exact match
// (1.0), query-as-substring (proportional, capped at 0.9), and the
// alignment ratio. The substring heuristic only wins when it clears
// threshold; otherwise the ratio decides.
func Score(query, candidate string, threshold float64) float64 {
	q := strings.ToLower(Clean(query))
	c := strings.ToLower(Clean(candidate))
	if q == c {
		return 1.0
	}
	if q != "" && c != "" && strings.Contains(c, q) {
		s := float64(len([]rune(q))) / float64(len([]rune(c))) * 0.9
		if s >= threshold {
			return s
		}
	}
	return Ratio(q, c)
}

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index int
	Score float64
}

// Rank scores every candidate against query and returns those at or
// above threshold, best first. Equal scores keep candidate order.
func Rank(query string, candidates []string, threshold float64) []Match {
	var out []Match
	for i, c := range candidates {
		if s := Score(query, c, threshold); s >= threshold {
			out = append(out, Match{Index: i, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
