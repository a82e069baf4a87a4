// Package lstm implements a bidirectional LSTM sequence tagger.
//
// Tokens are embedded with a word table seeded from pretrained vectors,
// optionally joined by a character CNN and a projection of gazetteer
// membership, encoded by two coupled input/forget gate LSTM cells and
// classified per position. Graphs are built and executed with gomlx.
package lstm

import (
	gocontext "context"
	"log/slog"
	"math"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"

	"github.com/happyhackingspace/tagger/encoding"
	"github.com/happyhackingspace/tagger/features"
	"github.com/happyhackingspace/tagger/internal/embeddings"
)

// randomSeed fixes the variable initializers and the word table.
const randomSeed = 1

var (
	// ErrNonFiniteLoss is returned by Fit when a training step yields NaN or Inf.
	ErrNonFiniteLoss = errors.New("lstm: loss is not finite")
	// ErrNotTrained is returned when predicting or saving before Fit or Load.
	ErrNotTrained = errors.New("lstm: model is not trained")
)

// BatchStats describes one training step.
type BatchStats struct {
	Epoch   int
	Batch   int
	Batches int
	Loss    float64
	// Scored is set on display batches, when Accuracy holds the share of
	// the batch's queries tagged exactly right.
	Scored   bool
	Accuracy float64
}

// Model is a trainable sequence tagger. It is not safe for concurrent use.
type Model struct {
	// OnBatch, if set, is called after every training step.
	OnBatch func(BatchStats)

	params   Params
	pipeline *features.Pipeline
	types    []string

	encoders            *encoding.Set
	wordTable, wordMask []float32

	backend     backends.Backend
	ctx         *context.Context
	optimizer   optimizers.Interface
	trainExec   *context.Exec
	predictExec *context.Exec
}

// New returns an untrained model. Gazetteer types are read from resources;
// extractor produces the per-token feature bags.
func New(params Params, resources features.Resources, extractor features.Extractor) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		params:   params,
		pipeline: &features.Pipeline{Extractor: extractor, PaddingLength: params.PaddingLength},
		types:    resources.GazTypes(),
	}, nil
}

// SetBackend sets the backend graphs run on. By default the first call to
// SetupModel creates one with DefaultBackend. Training needs a backend that
// passes CheckTrainable.
func (m *Model) SetBackend(b backends.Backend) { m.backend = b }

// Config returns the typed parameters.
func (m *Model) Config() Params { return m.params }

// Params returns the parameters keyed by name.
func (m *Model) Params() map[string]any { return m.params.Map() }

// SetParams overrides the given parameters. Unknown keys are an error.
// Changing parameters discards the trained model.
func (m *Model) SetParams(values map[string]any) error {
	p, err := m.params.With(values)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.params = p
	m.pipeline.PaddingLength = p.PaddingLength
	m.reset()
	m.encoders, m.wordTable, m.wordMask = nil, nil, nil
	return nil
}

// ExtractFeatures derives gazetteer tags and true lengths of queries.
func (m *Model) ExtractFeatures(queries []features.Query) ([]features.Example, error) {
	return m.pipeline.Extract(queries)
}

// SetupModel discards all learned parameters and optimizer state and
// prepares fresh training and inference executors. The encoders must have
// been built by Fit or loaded by Load.
func (m *Model) SetupModel() error {
	if m.encoders == nil {
		return ErrNotTrained
	}
	if m.backend == nil {
		backend, err := DefaultBackend()
		if err != nil {
			return err
		}
		m.backend = backend
	}
	m.reset()

	m.ctx = newContext()
	opt, err := newOptimizer(m.ctx, m.params.Optimizer, m.params.LearningRate)
	if err != nil {
		return err
	}
	m.optimizer = opt

	if m.trainExec, err = context.NewExec(m.backend, m.ctx, m.trainGraph); err != nil {
		return errors.Wrap(err, "lstm: build training executor")
	}
	if m.predictExec, err = context.NewExec(m.backend, m.ctx, m.predictGraph); err != nil {
		return errors.Wrap(err, "lstm: build inference executor")
	}
	return nil
}

// newContext returns a context whose variables start from Xavier-uniform
// values drawn from the RNG seeded with randomSeed.
func newContext() *context.Context {
	ctx := context.New().Checked(false)
	ctx.RngStateFromSeed(randomSeed)
	return ctx.WithInitializer(initializers.XavierUniformFn(ctx))
}

func (m *Model) reset() {
	if m.trainExec != nil {
		m.trainExec.Finalize()
	}
	if m.predictExec != nil {
		m.predictExec.Finalize()
	}
	m.trainExec, m.predictExec = nil, nil
	m.ctx, m.optimizer = nil, nil
}

func (m *Model) trainGraph(ctx *context.Context, nodes []*Node) []*Node {
	g := nodes[0].Graph()
	ctx.SetTraining(g, true)
	in := m.unpack(nodes, true)
	logits := m.logits(ctx, in)
	loss := crossEntropy(logits, in.labels)
	m.optimizer.UpdateGraph(ctx, g, loss)
	dims := in.words.Shape().Dimensions
	return []*Node{loss, predictions(logits, dims[0], dims[1])}
}

func (m *Model) predictGraph(ctx *context.Context, nodes []*Node) []*Node {
	g := nodes[0].Graph()
	ctx.SetTraining(g, false)
	in := m.unpack(nodes, false)
	dims := in.words.Shape().Dimensions
	return []*Node{predictions(m.logits(ctx, in), dims[0], dims[1])}
}

func (m *Model) newEncoders() *encoding.Set {
	p := m.params
	set := &encoding.Set{
		Word:  encoding.NewWordEncoder(p.PaddingLength, p.TokenEmbeddingDimension),
		Gaz:   encoding.NewGazEncoder(p.PaddingLength, m.types),
		Label: encoding.NewLabelEncoder(p.PaddingLength),
	}
	if p.UseCharEmbeddings {
		set.Char = encoding.NewCharEncoder(p.PaddingLength, p.MaxCharsPerWord, p.CharEmbeddingDimension)
	}
	return set
}

// Fit trains the model from scratch on queries and their per-token tags.
// Encoders are rebuilt from the training data, so a previous fit is lost.
func (m *Model) Fit(queries []features.Query, tags [][]string) error {
	if len(queries) != len(tags) {
		return errors.Errorf("lstm: %d queries but %d tag sequences", len(queries), len(tags))
	}
	examples, err := m.ExtractFeatures(queries)
	if err != nil {
		return err
	}
	for i, ex := range examples {
		if err := features.CheckLengths(i, "label", ex.Tokens, tags[i]); err != nil {
			return err
		}
	}

	var pretrained map[string][]float32
	if path := m.params.PretrainedEmbeddingPath; path != "" {
		pretrained, err = embeddings.Load(gocontext.Background(), path, m.params.TokenEmbeddingDimension)
		if err != nil {
			return errors.Wrap(err, "lstm: pretrained embeddings")
		}
	}

	m.encoders = m.newEncoders()
	data := encode(m.encoders, examples, tags)
	m.encoders.Freeze()
	m.wordTable, m.wordMask = m.encoders.Word.Table(pretrained, randomSeed)
	slog.Debug("Encoders built",
		"words", m.encoders.Word.Vocab.Size(),
		"labels", m.encoders.Label.Dimension(),
		"gaz_dim", m.encoders.Gaz.Dimension(),
		"pretrained", len(pretrained))

	if err := m.SetupModel(); err != nil {
		return err
	}
	if err := CheckTrainable(m.backend); err != nil {
		return err
	}
	return m.train(data)
}

func (m *Model) train(data *dataset) error {
	p := m.params
	rng := newShuffler(p.ShuffleSeed)
	ranges := batches(data.Len(), p.BatchSize)
	for epoch := range p.NumberOfEpochs {
		perm := rng.Perm(data.Len())
		for b, r := range ranges {
			batch := data.subset(perm[r[0]:r[1]])
			outputs, err := m.trainExec.Exec(batch.tensors(m.encoders, true)...)
			if err != nil {
				return errors.Wrapf(err, "lstm: epoch %d batch %d", epoch, b)
			}
			loss := scalar(outputs[0])
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return errors.Wrapf(ErrNonFiniteLoss, "epoch %d batch %d: %g", epoch, b, loss)
			}
			stats := BatchStats{Epoch: epoch, Batch: b, Batches: len(ranges), Loss: loss}
			if b%p.DisplayEpoch == 0 {
				predicted := rows(outputs[1], m.encoders.Word.PaddingLength)
				score := SequenceScore(predicted, batch.labels, batch.lengths)
				stats.Scored = true
				stats.Accuracy = float64(score) / float64(batch.Len())
				slog.Info("Training", "epoch", epoch, "batch", b, "loss", loss, "accuracy", stats.Accuracy)
			}
			if m.OnBatch != nil {
				m.OnBatch(stats)
			}
		}
	}
	return nil
}

// Predict returns the tags of every query, one per token up to the padding
// length. It does not change the model.
func (m *Model) Predict(queries []features.Query) ([][]string, error) {
	if m.predictExec == nil {
		return nil, ErrNotTrained
	}
	examples, err := m.ExtractFeatures(queries)
	if err != nil {
		return nil, err
	}
	data := encode(m.encoders, examples, nil)
	out := make([][]string, 0, len(queries))
	for _, r := range batches(data.Len(), m.params.BatchSize) {
		idx := make([]int, 0, r[1]-r[0])
		for i := r[0]; i < r[1]; i++ {
			idx = append(idx, i)
		}
		batch := data.subset(idx)
		outputs, err := m.predictExec.Exec(batch.tensors(m.encoders, false)...)
		if err != nil {
			return nil, errors.Wrap(err, "lstm: predict")
		}
		for i, row := range rows(outputs[0], m.encoders.Word.PaddingLength) {
			tags, err := m.encoders.Label.Decode(row[:batch.lengths[i]])
			if err != nil {
				return nil, errors.Wrap(err, "lstm: decode")
			}
			out = append(out, tags)
		}
	}
	return out, nil
}

func scalar(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return math.NaN()
}

// rows splits an int32 tensor shaped [n, width] into n rows.
func rows(t *tensors.Tensor, width int) [][]int {
	flat := tensors.CopyFlatData[int32](t)
	out := make([][]int, len(flat)/width)
	for i := range out {
		row := make([]int, width)
		for j := range row {
			row[j] = int(flat[i*width+j])
		}
		out[i] = row
	}
	return out
}
