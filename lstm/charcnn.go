package lstm

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
)

// charFeatures encodes the characters of every token slot, chars shaped
// [batch, padding, maxChars], into [batch, padding, len(windows)*embDim].
//
// Each window size runs a 1-D convolution along the characters of a token,
// max-pools over them and adds a bias before the ReLU.
func charFeatures(ctx *context.Context, chars *Node, vocabSize int, windows []int, embDim int) *Node {
	g := chars.Graph()
	dims := chars.Shape().Dimensions
	batch, padding, maxChars := dims[0], dims[1], dims[2]

	table := ctx.VariableWithShape("table", shapes.Make(dtypes.Float32, vocabSize, embDim)).ValueGraph(g)
	x := Gather(table, ExpandAxes(chars, -1)) // [batch, padding, maxChars, embDim]
	x = Reshape(x, batch*padding, maxChars, embDim)

	outputs := make([]*Node, 0, len(windows))
	for _, w := range windows {
		wCtx := ctx.In(fmt.Sprintf("window_%d", w))
		conv := layers.Convolution(wCtx, x).KernelSize(w).Channels(embDim).PadSame().UseBias(false).Done()
		pooled := ReduceMax(conv, 1)
		bias := wCtx.WithInitializer(initializers.Zero).VariableWithShape("bias", shapes.Make(dtypes.Float32, 1, embDim)).ValueGraph(g)
		pooled = activations.Relu(Add(pooled, bias))
		outputs = append(outputs, Reshape(pooled, batch, padding, embDim))
	}
	if len(outputs) == 1 {
		return outputs[0]
	}
	return Concatenate(outputs, -1)
}
