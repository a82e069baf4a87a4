package encoding

import "math/rand"

// WordEncoder encodes query tokens and builds the initial word lookup table.
type WordEncoder struct {
	*SequenceEncoder
	Dimension int `json:"dimension"`
}

// NewWordEncoder creates a word encoder padding with DefaultPaddedToken.
func NewWordEncoder(paddingLength, dimension int) *WordEncoder {
	return &WordEncoder{
		SequenceEncoder: NewSequenceEncoder(paddingLength, DefaultPaddedToken),
		Dimension:       dimension,
	}
}

// Table builds the [Vocab.Size(), Dimension] word table, row-major.
// Rows of tokens found in pretrained take that vector and get 1 in the
// returned mask; other rows are drawn uniformly from a seeded source.
func (e *WordEncoder) Table(pretrained map[string][]float32, seed int64) (table, mask []float32) {
	rng := rand.New(rand.NewSource(seed))
	n := e.Vocab.Size()
	table = make([]float32, n*e.Dimension)
	mask = make([]float32, n)
	for id, tok := range e.Vocab.ToStr {
		row := table[id*e.Dimension : (id+1)*e.Dimension]
		if vec, ok := pretrained[tok]; ok && len(vec) == e.Dimension {
			copy(row, vec)
			mask[id] = 1
			continue
		}
		for j := range row {
			row[j] = float32(rng.Float64()*0.5 - 0.25)
		}
	}
	return table, mask
}
