// Package token provides character-ratio token estimation and content-type detection.
//
// Counts are approximations: a single linear pass over the text divided by a
// per-content-type characters-per-token ratio. They are not tokenizer-exact,
// only internally consistent, which is all budget admission needs.
package token

import (
	"math"
	"unicode"
	"unicode/utf8"
)

// ContentType selects the characters-per-token ratio used for estimation.
type ContentType string

const (
	Prose ContentType = "prose" // natural language, ~4.0 chars/token
	Code  ContentType = "code"  // source code, ~3.5 chars/token
	Mixed ContentType = "mixed" // interleaved prose and code, ~3.75 chars/token
)

// MethodCharacterBased identifies the estimation method in results.
const MethodCharacterBased = "character-based"

// Estimate is the result of a token count.
type Estimate struct {
	Tokens     int    `json:"tokens"`
	Characters int    `json:"characters"`
	Method     string `json:"method"`
}

// Ratio returns the characters-per-token ratio for the content type.
// Unknown types fall back to the mixed ratio.
func Ratio(ct ContentType) float64 {
	switch ct {
	case Prose:
		return 4.0
	case Code:
		return 3.5
	default:
		return 3.75
	}
}

// Count estimates tokens for text as ceil(runes / ratio). Empty text is zero tokens.
func Count(text string, ct ContentType) Estimate {
	chars := utf8.RuneCountInString(text)
	tokens := 0
	if chars > 0 {
		tokens = int(math.Ceil(float64(chars) / Ratio(ct)))
	}
	return Estimate{Tokens: tokens, Characters: chars, Method: MethodCharacterBased}
}

// CountAuto detects the content type and counts with the matching ratio.
func CountAuto(text string) (Estimate, ContentType) {
	ct := DetectContentType(text)
	return Count(text, ct), ct
}

// EstimateChars is the algebraic inverse of Count: the number of characters
// that fit in the given token budget at the content type's ratio.
func EstimateChars(tokens int, ct ContentType) int {
	if tokens <= 0 {
		return 0
	}
	return int(float64(tokens) * Ratio(ct))
}

// Density thresholds for content-type detection. Text whose code-indicator
// density is at or above codeThreshold is classified as code; at or below
// proseThreshold as prose; anything between is mixed.
const (
	codeThreshold  = 0.15
	proseThreshold = 0.05
)

// DetectContentType classifies text by the density of code-indicative runes
// (braces, operators, punctuation clusters) among non-space runes.
// Empty or whitespace-only text defaults to Mixed.
func DetectContentType(text string) ContentType {
	var indicators, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isCodeIndicator(r) {
			indicators++
		}
	}
	if total == 0 {
		return Mixed
	}
	density := float64(indicators) / float64(total)
	switch {
	case density >= codeThreshold:
		return Code
	case density <= proseThreshold:
		return Prose
	default:
		return Mixed
	}
}

func isCodeIndicator(r rune) bool {
	switch r {
	case '{', '}', '(', ')', '[', ']', ';', '=', '<', '>', '+', '*', '/', '&', '|', '%', '^', '~', '#', '$', '\\', '`', ':':
		return true
	}
	return false
}
