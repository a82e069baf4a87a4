package storage

import (
	"fmt"
	"strings"

	"github.com/happyhackingspace/tagger/encoding"
	"github.com/happyhackingspace/tagger/internal/textutil"
)

// ParseMarkup strips entity markup from a line such as
// "play {thriller|song} by {michael jackson|artist}" and returns the plain
// text with the entity spans over it.
func ParseMarkup(line string) (string, []Span, error) {
	var b strings.Builder
	var spans []Span
	open := -1
	sep := -1
	for i, r := range line {
		switch r {
		case '{':
			if open >= 0 {
				return "", nil, fmt.Errorf("storage: nested '{' at byte %d", i)
			}
			open, sep = b.Len(), -1
		case '|':
			if open < 0 {
				b.WriteRune(r)
				continue
			}
			if sep >= 0 {
				return "", nil, fmt.Errorf("storage: second '|' in entity at byte %d", i)
			}
			sep = i
		case '}':
			if open < 0 || sep < 0 {
				return "", nil, fmt.Errorf("storage: unexpected '}' at byte %d", i)
			}
			typ := strings.TrimSpace(line[sep+1 : i])
			if typ == "" {
				return "", nil, fmt.Errorf("storage: entity without type at byte %d", i)
			}
			spans = append(spans, Span{Start: open, End: b.Len(), Type: typ})
			open, sep = -1, -1
		default:
			if open >= 0 && sep >= 0 {
				continue // inside the type name
			}
			b.WriteRune(r)
		}
	}
	if open >= 0 {
		return "", nil, fmt.Errorf("storage: unclosed '{'")
	}
	return b.String(), spans, nil
}

// Markup renders text with spans in the syntax read by ParseMarkup. Spans
// must be sorted and not overlap.
func Markup(text string, spans []Span) string {
	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.Start < pos || s.End > len(text) {
			continue
		}
		b.WriteString(text[pos:s.Start])
		fmt.Fprintf(&b, "{%s|%s}", text[s.Start:s.End], s.Type)
		pos = s.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

// TagTokens tokenizes text and tags every token with the BIO tag of the
// span it starts in.
func TagTokens(text string, spans []Span) (tokens, tags []string) {
	toks := textutil.TokenizeSpans(text)
	tokens = make([]string, len(toks))
	tags = make([]string, len(toks))
	prev := -1
	for i, tok := range toks {
		tokens[i] = textutil.NormalizeToken(tok.Text)
		tags[i] = Outside + "|"
		for j, s := range spans {
			if tok.Start < s.Start || tok.Start >= s.End {
				continue
			}
			if j == prev {
				tags[i] = Inside + "|" + s.Type
			} else {
				tags[i] = Begin + "|" + s.Type
			}
			prev = j
			break
		}
		if tags[i] == Outside+"|" {
			prev = -1
		}
	}
	return tokens, tags
}

// TagSpans turns per-token BIO tags back into spans over text. An I tag
// that does not continue an entity of the same type starts a new one. The
// padding label counts as outside.
func TagSpans(text string, tags []string) []Span {
	toks := textutil.TokenizeSpans(text)
	var spans []Span
	for i, tok := range toks {
		if i >= len(tags) {
			break
		}
		if tags[i] == encoding.DefaultLabel {
			continue
		}
		prefix, typ, _ := strings.Cut(tags[i], "|")
		if prefix == Outside || typ == "" {
			continue
		}
		if prefix == Inside && len(spans) > 0 {
			last := &spans[len(spans)-1]
			if last.Type == typ && i > 0 && last.End == toks[i-1].End {
				last.End = tok.End
				continue
			}
		}
		spans = append(spans, Span{Start: tok.Start, End: tok.End, Type: typ})
	}
	return spans
}
