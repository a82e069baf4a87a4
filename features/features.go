// Package features derives per-token gazetteer tags and sequence lengths from
// the feature bags produced by a feature extractor.
package features

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/happyhackingspace/tagger/encoding"
)

// Query is an ordered sequence of normalized tokens.
type Query struct {
	Text   string   `json:"text"`
	Tokens []string `json:"tokens"`
}

// Bag maps feature names to values for one token.
type Bag map[string]any

// Extractor returns one feature bag per token of a query.
type Extractor interface {
	Extract(q Query) ([]Bag, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(q Query) ([]Bag, error)

// Extract calls f(q).
func (f ExtractorFunc) Extract(q Query) ([]Bag, error) { return f(q) }

// ErrLengthMismatch is wrapped by IntegrityError.
var ErrLengthMismatch = errors.New("features: sequence length mismatch")

// IntegrityError reports an example whose feature sequence does not line up
// with its tokens.
type IntegrityError struct {
	Index   int
	Kind    string
	Tokens  int
	Derived int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("features: example %d: %d %s entries for %d tokens", e.Index, e.Derived, e.Kind, e.Tokens)
}

func (e *IntegrityError) Unwrap() error { return ErrLengthMismatch }

// gazPattern matches keys like "in-gaz|type:city|pos:start|p_fe".
var gazPattern = regexp.MustCompile(`^in-gaz\|type:(\w+)\|pos:(\w+)\|`)

// GazTag collapses the gazetteer keys of one bag into a tag. Positional
// sub-tags are dropped, so start and end matches of the same type give one
// type. Several types are sorted and joined by encoding.GazSeparator.
func GazTag(bag Bag) string {
	types := make(map[string]bool)
	for key := range bag {
		if m := gazPattern.FindStringSubmatch(key); m != nil {
			types[m[1]] = true
		}
	}
	if len(types) == 0 {
		return encoding.DefaultGazTag
	}
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Strings(out)
	return strings.Join(out, encoding.GazSeparator)
}

// GazTags derives one gazetteer tag per bag.
func GazTags(bags []Bag) []string {
	tags := make([]string, len(bags))
	for i, b := range bags {
		tags[i] = GazTag(b)
	}
	return tags
}

// SequenceLength is the number of token slots a query of n tokens occupies.
func SequenceLength(n, paddingLength int) int {
	return min(n, paddingLength)
}

// Example is a query with its derived features.
type Example struct {
	Tokens  []string
	GazTags []string
	Bags    []Bag
	Length  int
}

// Pipeline runs an Extractor over queries and validates the result.
type Pipeline struct {
	Extractor     Extractor
	PaddingLength int
}

// Extract derives the examples of the given queries. A query whose gazetteer
// tags do not match its token count aborts with an *IntegrityError.
func (p *Pipeline) Extract(queries []Query) ([]Example, error) {
	examples := make([]Example, len(queries))
	for i, q := range queries {
		var bags []Bag
		if p.Extractor != nil {
			var err error
			bags, err = p.Extractor.Extract(q)
			if err != nil {
				return nil, fmt.Errorf("features: extract example %d: %w", i, err)
			}
		} else {
			bags = make([]Bag, len(q.Tokens))
		}
		gaz := GazTags(bags)
		if err := CheckLengths(i, "gazetteer", q.Tokens, gaz); err != nil {
			return nil, err
		}
		examples[i] = Example{
			Tokens:  q.Tokens,
			GazTags: gaz,
			Bags:    bags,
			Length:  SequenceLength(len(q.Tokens), p.PaddingLength),
		}
	}
	return examples, nil
}

// CheckLengths returns an *IntegrityError if derived is not aligned with tokens.
func CheckLengths(index int, kind string, tokens, derived []string) error {
	if len(tokens) != len(derived) {
		return &IntegrityError{Index: index, Kind: kind, Tokens: len(tokens), Derived: len(derived)}
	}
	return nil
}

// Lengths returns the true sequence length of each example.
func Lengths(examples []Example) []int {
	out := make([]int, len(examples))
	for i, e := range examples {
		out[i] = e.Length
	}
	return out
}
