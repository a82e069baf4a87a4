package lstm

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/tagger/features"
	"github.com/happyhackingspace/tagger/internal/embeddings"
)

func testResources() features.Resources {
	city := features.NewGazetteer("city")
	for _, name := range []string{"paris", "rome", "new york"} {
		city.Add(name, 1)
	}
	return features.Resources{Gazetteers: map[string]*features.Gazetteer{"city": city}}
}

func testParams() Params {
	p := DefaultParams()
	p.NumberOfEpochs = 40
	p.BatchSize = 4
	p.HiddenDimension = 8
	p.TokenEmbeddingDimension = 8
	p.GazEncodingDimension = 4
	p.PaddingLength = 5
	p.LearningRate = 0.05
	p.DisplayEpoch = 1
	p.DenseKeepProb = 1
	p.LSTMInputKeepProb = 1
	p.LSTMOutputKeepProb = 1
	p.ShuffleSeed = 7
	return p
}

func query(text string) features.Query {
	return features.Query{Text: text, Tokens: strings.Fields(text)}
}

func trainingSet() ([]features.Query, [][]string) {
	queries := []features.Query{
		query("weather in paris"),
		query("weather in rome"),
		query("flights to new york"),
		query("flights to paris"),
		query("hello there"),
		query("rome weather"),
	}
	tags := [][]string{
		{"O|", "O|", "B|city"},
		{"O|", "O|", "B|city"},
		{"O|", "O|", "B|city", "I|city"},
		{"O|", "O|", "B|city"},
		{"O|", "O|"},
		{"B|city", "O|"},
	}
	return queries, tags
}

func newTestModel(t *testing.T, p Params) *Model {
	t.Helper()
	res := testResources()
	m, err := New(p, res, &features.GazetteerExtractor{Resources: res})
	require.NoError(t, err)
	return m
}

var (
	backendOnce sync.Once
	testBackend backends.Backend
	backendErr  error
)

// trainableBackend returns a backend shared by the tests that train, and
// skips t when the default backend cannot train.
func trainableBackend(t *testing.T) backends.Backend {
	t.Helper()
	backendOnce.Do(func() {
		testBackend, backendErr = DefaultBackend()
		if backendErr == nil {
			backendErr = CheckTrainable(testBackend)
		}
	})
	if backendErr != nil {
		t.Skipf("no trainable backend: %v", backendErr)
	}
	return testBackend
}

// newTrainableModel is newTestModel on a backend that can train.
func newTrainableModel(t *testing.T, p Params) *Model {
	t.Helper()
	m := newTestModel(t, p)
	m.SetBackend(trainableBackend(t))
	return m
}

func TestSequenceScore(t *testing.T) {
	const (
		b = iota
		i
		o
	)
	predicted := [][]int{{b, i, o}, {o, o}}
	truth := [][]int{{b, i, o}, {o, i}}
	assert.Equal(t, 1, SequenceScore(predicted, truth, []int{3, 2}))

	// Differences past the true length do not count.
	assert.Equal(t, 2, SequenceScore(predicted, truth, []int{3, 1}))
	assert.Equal(t, 0, SequenceScore(nil, nil, nil))
}

func TestBatches(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, batches(10, 4))
	assert.Equal(t, [][2]int{{0, 3}}, batches(3, 20))
	assert.Empty(t, batches(0, 4))
}

func TestFitPredict(t *testing.T) {
	m := newTrainableModel(t, testParams())
	var losses []float64
	m.OnBatch = func(s BatchStats) {
		losses = append(losses, s.Loss)
		assert.True(t, s.Scored)
		assert.GreaterOrEqual(t, s.Accuracy, 0.0)
		assert.LessOrEqual(t, s.Accuracy, 1.0)
	}

	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))
	require.Len(t, losses, 40*2)
	assert.Less(t, losses[len(losses)-1], losses[0])

	got, err := m.Predict(queries)
	require.NoError(t, err)
	require.Len(t, got, len(queries))
	for i, q := range queries {
		assert.Len(t, got[i], len(q.Tokens), "query %q", q.Text)
	}
	labels := m.encoders.Label.Vocab
	for _, row := range got {
		for _, tag := range row {
			assert.NotEqual(t, -1, labels.Get(tag))
		}
	}

	again, err := m.Predict(queries)
	require.NoError(t, err)
	assert.Equal(t, got, again, "inference must be deterministic")
}

func TestPredictIgnoresDropout(t *testing.T) {
	p := testParams()
	p.NumberOfEpochs = 3
	p.DenseKeepProb = 0.5
	p.LSTMInputKeepProb = 0.5
	p.LSTMOutputKeepProb = 0.5
	m := newTrainableModel(t, p)
	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))

	want, err := m.Predict(queries)
	require.NoError(t, err)
	for range 5 {
		got, err := m.Predict(queries)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestCheckTrainablePureGo(t *testing.T) {
	backend, err := backends.NewWithConfig(simplego.BackendName)
	require.NoError(t, err)
	assert.ErrorIs(t, CheckTrainable(backend), ErrUntrainableBackend)

	m := newTestModel(t, testParams())
	m.SetBackend(backend)
	queries, tags := trainingSet()
	assert.ErrorIs(t, m.Fit(queries, tags), ErrUntrainableBackend)
}

func TestPredictTruncatesToPaddingLength(t *testing.T) {
	p := testParams()
	p.NumberOfEpochs = 1
	m := newTrainableModel(t, p)
	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))

	long := query("one two three four five six seven")
	got, err := m.Predict([]features.Query{long, query("")})
	require.NoError(t, err)
	assert.Len(t, got[0], p.PaddingLength)
	assert.Empty(t, got[1])
}

func TestFitWithCharEmbeddings(t *testing.T) {
	p := testParams()
	p.NumberOfEpochs = 2
	p.UseCharEmbeddings = true
	p.CharWindowSizes = []int{2, 3}
	p.MaxCharsPerWord = 6
	p.CharEmbeddingDimension = 3
	m := newTrainableModel(t, p)

	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))
	require.NotNil(t, m.encoders.Char)

	got, err := m.Predict([]features.Query{query("weather in paris")})
	require.NoError(t, err)
	assert.Len(t, got[0], 3)
}

func TestFitLengthMismatch(t *testing.T) {
	m := newTestModel(t, testParams())
	err := m.Fit([]features.Query{query("weather in paris")}, [][]string{{"O|", "O|"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, features.ErrLengthMismatch))

	err = m.Fit([]features.Query{query("a")}, nil)
	assert.Error(t, err)
}

func TestFitUnreadablePretrained(t *testing.T) {
	p := testParams()
	p.PretrainedEmbeddingPath = filepath.Join(t.TempDir(), "missing.vec")
	m := newTestModel(t, p)
	queries, tags := trainingSet()
	err := m.Fit(queries, tags)
	require.Error(t, err)
	assert.True(t, errors.Is(err, embeddings.ErrUnreadable))
	assert.Nil(t, m.trainExec, "no training should start")
}

func TestPredictBeforeFit(t *testing.T) {
	m := newTestModel(t, testParams())
	_, err := m.Predict([]features.Query{query("paris")})
	assert.ErrorIs(t, err, ErrNotTrained)
	assert.ErrorIs(t, m.Save(t.TempDir()), ErrNotTrained)
}

func TestSaveLoad(t *testing.T) {
	p := testParams()
	p.NumberOfEpochs = 5
	m := newTrainableModel(t, p)
	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))
	want, err := m.Predict(queries)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, m.Save(dir))

	res := testResources()
	loaded, err := Load(dir, &features.GazetteerExtractor{Resources: res})
	require.NoError(t, err)
	assert.Equal(t, m.Params(), loaded.Params())
	got, err := loaded.Predict(queries)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetParamsResetsModel(t *testing.T) {
	p := testParams()
	p.NumberOfEpochs = 1
	m := newTrainableModel(t, p)
	queries, tags := trainingSet()
	require.NoError(t, m.Fit(queries, tags))

	require.NoError(t, m.SetParams(map[string]any{"batch_size": 2}))
	assert.Equal(t, 2, m.Config().BatchSize)
	_, err := m.Predict(queries)
	assert.ErrorIs(t, err, ErrNotTrained)
}
