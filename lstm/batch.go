package lstm

import (
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/happyhackingspace/tagger/encoding"
	"github.com/happyhackingspace/tagger/features"
)

// dataset is the encoded form of a list of examples. All slices are aligned.
// Gazetteer tags stay strings until they are projected onto buckets.
type dataset struct {
	words   [][]int
	gaz     [][]string
	chars   [][]int
	labels  [][]int
	lengths []int
}

func (d *dataset) Len() int { return len(d.words) }

// subset returns the rows at idx, in that order.
func (d *dataset) subset(idx []int) *dataset {
	out := &dataset{
		words:   make([][]int, len(idx)),
		gaz:     make([][]string, len(idx)),
		lengths: make([]int, len(idx)),
	}
	for i, j := range idx {
		out.words[i] = d.words[j]
		out.gaz[i] = d.gaz[j]
		out.lengths[i] = d.lengths[j]
		if d.chars != nil {
			out.chars = append(out.chars, d.chars[j])
		}
		if d.labels != nil {
			out.labels = append(out.labels, d.labels[j])
		}
	}
	return out
}

// encode runs the encoders over examples. labels may be nil at inference.
func encode(set *encoding.Set, examples []features.Example, labels [][]string) *dataset {
	d := &dataset{
		words:   make([][]int, len(examples)),
		gaz:     make([][]string, len(examples)),
		lengths: features.Lengths(examples),
	}
	for i, ex := range examples {
		d.words[i] = set.Word.Encode(ex.Tokens)
		d.gaz[i] = ex.GazTags
		if set.Char != nil {
			d.chars = append(d.chars, set.Char.Encode(ex.Tokens))
		}
	}
	if labels != nil {
		d.labels = set.Label.EncodeAll(labels)
	}
	return d
}

// tensors returns the executor inputs of d: words, gaz, lengths, then chars
// when set has a char encoder and labels when withLabels.
func (d *dataset) tensors(set *encoding.Set, withLabels bool) []any {
	n, padding := d.Len(), set.Word.PaddingLength
	words := make([]int32, 0, n*padding)
	for _, row := range d.words {
		words = appendInt32(words, row)
	}
	lengths := make([]int32, n)
	for i, l := range d.lengths {
		lengths[i] = int32(l)
	}
	out := []any{
		tensors.FromFlatDataAndDimensions(words, n, padding),
		set.Gaz.Embeddings(d.gaz),
		tensors.FromFlatDataAndDimensions(lengths, n),
	}
	if set.Char != nil {
		chars := make([]int32, 0, n*padding*set.Char.MaxChars)
		for _, row := range d.chars {
			chars = appendInt32(chars, row)
		}
		out = append(out, tensors.FromFlatDataAndDimensions(chars, n, padding, set.Char.MaxChars))
	}
	if withLabels {
		out = append(out, set.Label.Embeddings(d.labels))
	}
	return out
}

func appendInt32(dst []int32, src []int) []int32 {
	for _, v := range src {
		dst = append(dst, int32(v))
	}
	return dst
}

// newShuffler returns the source of per-epoch permutations.
func newShuffler(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// batches splits n rows into consecutive [start, end) ranges of at most size
// rows. The last range may be shorter.
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}
