package lstm

import (
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
)

// forgetBias is added to the forget gate before the sigmoid.
const forgetBias = 1.0

// cifgCell is a coupled input/forget gate LSTM cell: the input gate is
// 1 - forget gate, so a step projects to three gates instead of four.
type cifgCell struct {
	ctx        *context.Context
	hidden     int
	inputKeep  float64
	outputKeep float64

	weights *Node // [inputDim+hidden, 3*hidden]
	bias    *Node // [1, 3*hidden]
}

func newCIFGCell(ctx *context.Context, g *Graph, inputDim, hidden int, inputKeep, outputKeep float64) *cifgCell {
	weights := ctx.VariableWithShape("weights", shapes.Make(dtypes.Float32, inputDim+hidden, 3*hidden))
	bias := ctx.WithInitializer(initializers.Zero).VariableWithShape("bias", shapes.Make(dtypes.Float32, 1, 3*hidden))
	return &cifgCell{
		ctx:        ctx,
		hidden:     hidden,
		inputKeep:  inputKeep,
		outputKeep: outputKeep,
		weights:    weights.ValueGraph(g),
		bias:       bias.ValueGraph(g),
	}
}

// initialState returns the learned initial cell and hidden states broadcast
// to the batch.
func (c *cifgCell) initialState(g *Graph, batch int) (cell, hidden *Node) {
	shape := shapes.Make(dtypes.Float32, 1, c.hidden)
	cell = c.ctx.VariableWithShape("initial_cell", shape).ValueGraph(g)
	hidden = c.ctx.VariableWithShape("initial_hidden", shape).ValueGraph(g)
	return BroadcastToDims(cell, batch, c.hidden), BroadcastToDims(hidden, batch, c.hidden)
}

// step runs one position. x is [batch, inputDim]; the returned output is the
// new hidden state after output dropout.
func (c *cifgCell) step(x, prevCell, prevHidden *Node) (cell, hidden, output *Node) {
	x = layers.DropoutStatic(c.ctx.In("input_dropout"), x, 1-c.inputKeep)
	proj := Add(MatMul(Concatenate([]*Node{x, prevHidden}, -1), c.weights), c.bias)
	gates := Split(proj, -1, 3)
	j, f, o := gates[0], gates[1], gates[2]

	forget := Sigmoid(AddScalar(f, forgetBias))
	input := OneMinus(forget)
	cell = Add(Mul(forget, prevCell), Mul(input, Tanh(j)))
	hidden = Mul(Sigmoid(o), Tanh(cell))
	output = layers.DropoutStatic(c.ctx.In("output_dropout"), hidden, 1-c.outputKeep)
	return cell, hidden, output
}

// bidirectional runs a forward and a backward CIFG cell over x, shaped
// [batch, padding, features], and concatenates their outputs into
// [batch, padding, 2*hidden].
//
// Positions at or past a sequence's length keep the previous state and emit
// zeros, so the backward cell starts from the last true token.
func bidirectional(ctx *context.Context, x, lengths *Node, hidden int, inputKeep, outputKeep float64) *Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	batch, padding, inputDim := dims[0], dims[1], dims[2]
	lengths = ConvertDType(lengths, dtypes.Int32)

	steps := make([]*Node, padding)
	for p := range padding {
		steps[p] = Reshape(Slice(x, AxisRange(), AxisElem(p), AxisRange()), batch, inputDim)
	}

	directions := make([][]*Node, 2)
	for dir, scope := range []string{"forward", "backward"} {
		cell := newCIFGCell(ctx.In(scope), g, inputDim, hidden, inputKeep, outputKeep)
		c, h := cell.initialState(g, batch)
		outputs := make([]*Node, padding)
		for i := range padding {
			pos := i
			if dir == 1 {
				pos = padding - 1 - i
			}
			newC, newH, out := cell.step(steps[pos], c, h)
			valid := LessThan(Scalar(g, dtypes.Int32, pos), lengths) // [batch]
			c = Where(valid, newC, c)
			h = Where(valid, newH, h)
			outputs[pos] = Where(valid, out, ZerosLike(out))
		}
		directions[dir] = outputs
	}

	forward := Stack(directions[0], 1)  // [batch, padding, hidden]
	backward := Stack(directions[1], 1) // [batch, padding, hidden]
	return Concatenate([]*Node{forward, backward}, -1)
}
