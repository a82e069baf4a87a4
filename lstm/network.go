package lstm

import (
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
)

// inputs are the graph nodes of one batch. chars is nil unless character
// embeddings are enabled; labels is nil at inference.
type inputs struct {
	words   *Node // [batch, padding] int32
	gaz     *Node // [batch, padding, gazDim] float32
	lengths *Node // [batch] int32
	chars   *Node // [batch, padding, maxChars] int32
	labels  *Node // [batch, padding, numLabels] float32
}

// unpack maps the executor's inputs back to their roles. The order matches
// batch.tensors.
func (m *Model) unpack(nodes []*Node, withLabels bool) inputs {
	in := inputs{words: nodes[0], gaz: nodes[1], lengths: nodes[2]}
	next := 3
	if m.params.UseCharEmbeddings {
		in.chars = nodes[next]
		next++
	}
	if withLabels {
		in.labels = nodes[next]
	}
	return in
}

// wordEmbeddings looks words up in the word table. Rows loaded from a
// pretrained file are held constant unless fine-tuning is enabled.
func (m *Model) wordEmbeddings(ctx *context.Context, words *Node) *Node {
	g := words.Graph()
	vocab, dim := m.encoders.Word.Vocab.Size(), m.params.TokenEmbeddingDimension

	var tableVar, maskVar *context.Variable
	if m.wordTable != nil {
		tableVar = ctx.VariableWithValue("table", tensors.FromFlatDataAndDimensions(m.wordTable, vocab, dim))
		maskVar = ctx.VariableWithValue("pretrained_mask", tensors.FromFlatDataAndDimensions(m.wordMask, vocab, 1))
	} else {
		// Loaded models restore both from the checkpoint.
		tableVar = ctx.VariableWithShape("table", shapes.Make(dtypes.Float32, vocab, dim))
		maskVar = ctx.WithInitializer(initializers.Zero).VariableWithShape("pretrained_mask", shapes.Make(dtypes.Float32, vocab, 1))
	}
	maskVar.SetTrainable(false)

	ids := ExpandAxes(words, -1)
	emb := Gather(tableVar.ValueGraph(g), ids) // [batch, padding, dim]
	if m.params.FineTunePretrained {
		return emb
	}
	pretrained := Gather(maskVar.ValueGraph(g), ids) // [batch, padding, 1]
	return Add(Mul(StopGradient(emb), pretrained), Mul(emb, OneMinus(pretrained)))
}

// gazProjection projects the multi-hot gazetteer rows,
// [batch, padding, gazDim], to gazEncDim.
func gazProjection(ctx *context.Context, gaz *Node, gazEncDim int) *Node {
	return layers.DenseWithBias(ctx, gaz, gazEncDim)
}

// logits builds the network and returns unnormalized tag scores shaped
// [batch*padding, numLabels].
func (m *Model) logits(ctx *context.Context, in inputs) *Node {
	p := m.params
	parts := []*Node{m.wordEmbeddings(ctx.In("word_embeddings"), in.words)}
	if p.UseCharEmbeddings {
		parts = append(parts, charFeatures(ctx.In("char_cnn"), in.chars,
			m.encoders.Char.Vocab.Size(), p.CharWindowSizes, p.CharEmbeddingDimension))
	}
	parts = append(parts, gazProjection(ctx.In("gaz_projection"), in.gaz, p.GazEncodingDimension))
	x := Concatenate(parts, -1)

	h := bidirectional(ctx.In("bilstm"), x, in.lengths, p.HiddenDimension, p.LSTMInputKeepProb, p.LSTMOutputKeepProb)
	return outputLayer(ctx.In("output"), h, m.encoders.Label.Dimension(), p.DenseKeepProb)
}
