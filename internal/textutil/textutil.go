// Package textutil normalizes and tokenizes natural-language queries.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var tokenizeRe = regexp.MustCompile(`[\p{L}\p{N}_]+(?:['’][\p{L}\p{N}_]+)*`)

// Token is a word token with its byte span in the source text.
type Token struct {
	Text  string
	Start int
	End   int
}

// TokenizeSpans extracts word tokens from text keeping their byte offsets.
// Inner apostrophes are kept ("don't" is one token).
func TokenizeSpans(text string) []Token {
	locs := tokenizeRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	tokens := make([]Token, len(locs))
	for i, loc := range locs {
		tokens[i] = Token{Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]}
	}
	return tokens
}

// Tokenize extracts word tokens from text.
func Tokenize(text string) []string {
	return tokenizeRe.FindAllString(text, -1)
}

// NormalizeToken applies NFKC normalization and Unicode case folding.
func NormalizeToken(token string) string {
	// A Caser is stateful and cannot be shared between goroutines.
	return cases.Fold().String(norm.NFKC.String(token))
}

// NormalizeTokens normalizes every token, dropping ones that become empty.
func NormalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if n := NormalizeToken(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// TokenNgrams returns n-grams from a list of tokens, joined by space.
func TokenNgrams(tokens []string, minN, maxN int) []string {
	tLen := len(tokens)
	var res []string
	for n := minN; n <= maxN && n <= tLen; n++ {
		for i := 0; i <= tLen-n; i++ {
			res = append(res, strings.Join(tokens[i:i+n], " "))
		}
	}
	return res
}

var (
	newlineRe    = regexp.MustCompile(`[\n\r\t]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeWhitespaces replaces newlines and runs of whitespace with a single space.
func NormalizeWhitespaces(text string) string {
	text = newlineRe.ReplaceAllString(text, " ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}

// Normalize folds case and normalizes Unicode and whitespace of a whole text.
func Normalize(text string) string {
	return strings.TrimSpace(NormalizeWhitespaces(NormalizeToken(text)))
}

// Shape maps a token to a coarse word shape: letters to x/X, digits to d,
// with runs of the same class collapsed ("McDonald's" -> "XxXx'x").
func Shape(token string) string {
	var buf strings.Builder
	var last rune
	for _, r := range token {
		var c rune
		switch {
		case unicode.IsUpper(r):
			c = 'X'
		case unicode.IsLetter(r):
			c = 'x'
		case unicode.IsDigit(r):
			c = 'd'
		default:
			c = r
		}
		if c != last {
			buf.WriteRune(c)
			last = c
		}
	}
	return buf.String()
}

var digitRe = regexp.MustCompile(`\d`)

// NumberPattern replaces digits with X and letters with C if the digit ratio >= threshold.
// Returns empty string otherwise.
func NumberPattern(text string, ratio float64) string {
	if text == "" {
		return ""
	}

	total := utf8.RuneCountInString(text)
	digitCount := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			digitCount++
		}
	}

	if float64(digitCount)/float64(total) < ratio {
		return ""
	}
	result := digitRe.ReplaceAllString(text, "X")
	var buf strings.Builder
	for _, r := range result {
		if r == 'X' || !unicode.IsLetter(r) {
			buf.WriteRune(r)
		} else {
			buf.WriteRune('C')
		}
	}
	return buf.String()
}
