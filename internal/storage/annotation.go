// Package storage provides access to annotated queries and gazetteers for
// tagger training.
package storage

// Tag prefixes of the BIO scheme. A tag is the prefix, "|" and the entity
// type; outside tokens are tagged "O|".
const (
	Begin   = "B"
	Inside  = "I"
	Outside = "O"
)

// AnnotationSchema holds the entity types and their mappings.
type AnnotationSchema struct {
	Types       map[string]string // full_name -> short_name
	TypesInv    map[string]string // short_name -> full_name
	SkipValue   string
	SimplifyMap map[string]string
}

// Span is an entity annotation over a byte range of the query text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

// QueryAnnotation is one annotated query.
type QueryAnnotation struct {
	Text   string   // query text without markup
	Tokens []string // normalized tokens
	Tags   []string // one BIO tag per token
	Spans  []Span
	File   string // file the query was read from, relative to the queries folder
	Line   int
	Group  int // index of File, for grouped cross-validation
}
