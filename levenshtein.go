package objgraph

import "strings"

// levenshtein computes the edit distance between two strings, counting
// runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// nameSimilarity scores member names in [0, 1]: 1 for equal names, slightly
// less for names differing only in case, and the normalized edit distance
// otherwise.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return 0.95
	}
	n := max(len([]rune(la)), len([]rune(lb)))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein(la, lb))/float64(n)
}
