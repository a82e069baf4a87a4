package lstm

import (
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// outputLayer flattens h, [batch, padding, features], applies dense dropout
// and projects every position onto numLabels scores.
func outputLayer(ctx *context.Context, h *Node, numLabels int, denseKeep float64) *Node {
	dims := h.Shape().Dimensions
	x := Reshape(h, dims[0]*dims[1], dims[2])
	x = layers.DropoutStatic(ctx.In("dropout"), x, 1-denseKeep)
	return layers.DenseWithBias(ctx, x, numLabels)
}

// crossEntropy is the mean softmax cross-entropy of logits, [n, numLabels],
// against one-hot labels of any shape flattening to the same. Padding
// positions are included; they carry the padding label.
func crossEntropy(logits, labels *Node) *Node {
	labels = Reshape(labels, logits.Shape().Dimensions...)
	return losses.CategoricalCrossEntropyLogits([]*Node{labels}, []*Node{logits})
}

// predictions returns the argmax label of every position, [batch, padding].
func predictions(logits *Node, batch, padding int) *Node {
	return Reshape(ArgMax(logits, -1, dtypes.Int32), batch, padding)
}

// newOptimizer creates the named optimizer reading learning_rate from ctx.
func newOptimizer(ctx *context.Context, name string, learningRate float64) (optimizers.Interface, error) {
	build, ok := optimizers.KnownOptimizers[name]
	if !ok {
		return nil, errors.Errorf("lstm: unknown optimizer %q", name)
	}
	ctx.SetParam(optimizers.ParamLearningRate, learningRate)
	return build(ctx), nil
}
