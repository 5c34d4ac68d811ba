package matching

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	editdist "github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/aegisshield/network-intel/internal/config"
)

// Ratio is a symmetric string similarity in [0,1]. Either-empty input scores 0.
type Ratio func(a, b string) float64

// LevenshteinRatio returns 1 - distance/maxLen over runes
func LevenshteinRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// IndelRatio returns the insertion/deletion ratio (lenA+lenB-indel)/(lenA+lenB)
func IndelRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	return editdist.RatioForStrings([]rune(a), []rune(b), editdist.DefaultOptions)
}

// RatioFor resolves a configured metric name, defaulting to Levenshtein
func RatioFor(metric string) Ratio {
	switch metric {
	case config.FuzzyMetricIndel:
		return IndelRatio
	default:
		return LevenshteinRatio
	}
}
