package features

import (
	"math"
	"strings"

	"github.com/happyhackingspace/tagger/internal/textutil"
)

// GazetteerExtractor emits lexical features and gazetteer membership
// features for every token of a query.
type GazetteerExtractor struct {
	Resources Resources
	// MaxNgram bounds the phrase length looked up in gazetteers. Zero means 5.
	MaxNgram int
}

// Extract implements Extractor.
func (x *GazetteerExtractor) Extract(q Query) ([]Bag, error) {
	n := len(q.Tokens)
	bags := make([]Bag, n)
	for i, tok := range q.Tokens {
		bags[i] = lexicalFeatures(q.Tokens, i, tok)
	}

	maxN := x.MaxNgram
	if maxN <= 0 {
		maxN = 5
	}
	for _, typ := range x.Resources.GazTypes() {
		g := x.Resources.Gazetteers[typ]
		limit := min(maxN, g.MaxTokens)
		for start := range n {
			for l := 1; l <= limit && start+l <= n; l++ {
				phrase := strings.Join(q.Tokens[start:start+l], " ")
				pop, ok := g.Lookup(phrase)
				if !ok {
					continue
				}
				logLen := math.Log(float64(len([]rune(phrase))))
				for i := start; i < start+l; i++ {
					key := gazKey(typ, gazPosition(i, start, l))
					setMax(bags[i], key+"log-char-len", logLen)
					setMax(bags[i], key+"pop", pop)
				}
			}
		}
	}
	return bags, nil
}

func gazKey(typ, pos string) string {
	return "in-gaz|type:" + typ + "|pos:" + pos + "|"
}

func gazPosition(i, start, length int) string {
	switch {
	case length == 1:
		return "unit"
	case i == start:
		return "start"
	case i == start+length-1:
		return "end"
	default:
		return "cont"
	}
}

func setMax(b Bag, key string, v float64) {
	if old, ok := b[key].(float64); ok && old >= v {
		return
	}
	b[key] = v
}

func lexicalFeatures(tokens []string, i int, tok string) Bag {
	b := Bag{
		"bag-of-words|word": tok,
		"shape":             textutil.Shape(tok),
	}
	runes := []rune(tok)
	if len(runes) > 3 {
		b["prefix"] = string(runes[:3])
		b["suffix"] = string(runes[len(runes)-3:])
	}
	if np := textutil.NumberPattern(tok, 0.3); np != "" {
		b["number-pattern"] = np
	}
	if i > 0 {
		b["bag-of-words|prev"] = tokens[i-1]
	} else {
		b["bos"] = true
	}
	if i < len(tokens)-1 {
		b["bag-of-words|next"] = tokens[i+1]
	} else {
		b["eos"] = true
	}
	return b
}
