package encoding

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Sentinel tokens of the four encoders.
const (
	DefaultLabel       = "B|UNK"
	DefaultPaddedToken = "<UNK>"
	DefaultGazTag      = "O"
	DefaultCharToken   = "`"

	// GazSeparator joins multiple gazetteer types matched by one token.
	GazSeparator = ","
)

// SequenceEncoder encodes token sequences into fixed-length index sequences.
type SequenceEncoder struct {
	Vocab         *Vocabulary `json:"vocab"`
	PaddingLength int         `json:"padding_length"`
}

// NewSequenceEncoder creates an encoder padding with defaultToken.
func NewSequenceEncoder(paddingLength int, defaultToken string, reserved ...string) *SequenceEncoder {
	return &SequenceEncoder{
		Vocab:         NewVocabulary(defaultToken, reserved...),
		PaddingLength: paddingLength,
	}
}

// Encode maps the first PaddingLength tokens to indices and pads the rest.
// While the vocabulary is not frozen unseen tokens get new indices.
func (e *SequenceEncoder) Encode(tokens []string) []int {
	out := make([]int, e.PaddingLength)
	pad := e.Vocab.DefaultID()
	for i := range out {
		if i < len(tokens) {
			out[i] = e.Vocab.Add(tokens[i])
		} else {
			out[i] = pad
		}
	}
	return out
}

// EncodeAll encodes a batch of token sequences.
func (e *SequenceEncoder) EncodeAll(sequences [][]string) [][]int {
	out := make([][]int, len(sequences))
	for i, s := range sequences {
		out[i] = e.Encode(s)
	}
	return out
}

// Decode maps indices back to tokens.
func (e *SequenceEncoder) Decode(ids []int) ([]string, error) {
	out := make([]string, len(ids))
	for i, id := range ids {
		tok, ok := e.Vocab.Token(id)
		if !ok {
			return nil, fmt.Errorf("encoding: index %d out of vocabulary of size %d", id, e.Vocab.Size())
		}
		out[i] = tok
	}
	return out, nil
}

// Freeze freezes the underlying vocabulary.
func (e *SequenceEncoder) Freeze() { e.Vocab.Freeze() }

// LabelEncoder encodes tag sequences.
type LabelEncoder struct {
	*SequenceEncoder
}

// NewLabelEncoder creates a label encoder padding with DefaultLabel.
func NewLabelEncoder(paddingLength int) *LabelEncoder {
	return &LabelEncoder{NewSequenceEncoder(paddingLength, DefaultLabel)}
}

// Dimension is the tag-space size.
func (e *LabelEncoder) Dimension() int { return e.Vocab.Size() }

// Embeddings returns one-hot rows shaped [len(encodings), PaddingLength, Dimension].
func (e *LabelEncoder) Embeddings(encodings [][]int) *tensors.Tensor {
	dim := e.Dimension()
	data := make([]float32, len(encodings)*e.PaddingLength*dim)
	for i, enc := range encodings {
		for p, id := range enc {
			data[(i*e.PaddingLength+p)*dim+id] = 1
		}
	}
	return tensors.FromFlatDataAndDimensions(data, len(encodings), e.PaddingLength, dim)
}

// GazEncoder encodes per-token gazetteer tags. Its vocabulary starts with
// DefaultGazTag and the known gazetteer types, so tags are projected onto a
// fixed multi-hot space of len(Types)+1 buckets; bucket 0 is "other".
type GazEncoder struct {
	*SequenceEncoder
	Types []string `json:"types"`
}

// NewGazEncoder creates a gazetteer encoder for the given entity types.
func NewGazEncoder(paddingLength int, types []string) *GazEncoder {
	return &GazEncoder{
		SequenceEncoder: NewSequenceEncoder(paddingLength, DefaultGazTag, types...),
		Types:           append([]string(nil), types...),
	}
}

// Dimension is the number of gazetteer buckets.
func (e *GazEncoder) Dimension() int { return len(e.Types) + 1 }

// Buckets returns the multi-hot bucket indices of a gazetteer tag. Each type
// of a combined tag is looked up on its own.
func (e *GazEncoder) Buckets(tag string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(tag, GazSeparator) {
		b := 0
		if id := e.Vocab.Get(part); id > 0 && id <= len(e.Types) {
			b = id
		}
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// Embeddings returns multi-hot rows shaped [len(sequences), PaddingLength, Dimension]
// for sequences of gazetteer tags. Sequences are truncated to PaddingLength
// and padded with DefaultGazTag.
func (e *GazEncoder) Embeddings(sequences [][]string) *tensors.Tensor {
	dim := e.Dimension()
	data := make([]float32, len(sequences)*e.PaddingLength*dim)
	for i, tags := range sequences {
		for p := range e.PaddingLength {
			tag := DefaultGazTag
			if p < len(tags) {
				tag = tags[p]
			}
			for _, b := range e.Buckets(tag) {
				data[(i*e.PaddingLength+p)*dim+b] = 1
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(data, len(sequences), e.PaddingLength, dim)
}
