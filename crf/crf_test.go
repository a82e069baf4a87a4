package crf

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/happyhackingspace/tagger/features"
)

func TestFeaturesToAttributes(t *testing.T) {
	bag := features.Bag{
		"bag-of-words|word":                  "paris",
		"ngrams":                             []string{"pa", "ar"},
		"bos":                                true,
		"eos":                                false,
		"bias":                               1,
		"in-gaz|type:city|pos:unit|pop":      float64(0.5),
		"in-gaz|type:city|pos:unit|char-len": float32(2),
	}
	attrs := FeaturesToAttributes(bag)

	want := map[string]float64{
		"bag-of-words|word=paris":            1,
		"ngrams:pa":                          1,
		"ngrams:ar":                          1,
		"bos":                                1,
		"bias":                               1,
		"in-gaz|type:city|pos:unit|pop":      0.5,
		"in-gaz|type:city|pos:unit|char-len": 2,
	}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("FeaturesToAttributes = %v, want %v", attrs, want)
	}
}

func TestViterbiSimple(t *testing.T) {
	stateScores := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
	}
	transScores := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}

	path, score := Viterbi(stateScores, transScores)
	// [0,1]: 1.0 + 0.2 + 2.0 = 3.2 beats [1,1]: 2.6, [0,0]: 1.4, [1,0]: 1.1.
	if !reflect.DeepEqual(path, []int{0, 1}) {
		t.Errorf("path = %v, want [0 1]", path)
	}
	if math.Abs(score-3.2) > 1e-10 {
		t.Errorf("score = %v, want 3.2", score)
	}

	if path, _ := Viterbi(nil, transScores); path != nil {
		t.Errorf("empty path = %v", path)
	}
}

func TestForwardBackward(t *testing.T) {
	stateScores := [][]float64{
		{1.0, 0.5},
		{0.3, 2.0},
		{0.0, -1.0},
	}
	transScores := [][]float64{
		{0.1, 0.2},
		{0.3, 0.1},
	}

	lat := ForwardBackward(stateScores, transScores)

	// Brute force over all 2^3 paths.
	z := 0.0
	for p := range 8 {
		y := []int{p & 1, (p >> 1) & 1, (p >> 2) & 1}
		s := stateScores[0][y[0]] + stateScores[1][y[1]] + stateScores[2][y[2]] +
			transScores[y[0]][y[1]] + transScores[y[1]][y[2]]
		z += math.Exp(s)
	}
	if math.Abs(lat.LogZ-math.Log(z)) > 1e-9 {
		t.Errorf("LogZ = %v, want %v", lat.LogZ, math.Log(z))
	}

	for pos, row := range lat.Marginals() {
		sum := row[0] + row[1]
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("marginals at %d sum to %v", pos, sum)
		}
	}

	sum := 0.0
	for i := range 2 {
		for j := range 2 {
			sum += lat.TransitionMarginal(0, i, j, stateScores, transScores)
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("transition marginals sum to %v", sum)
	}
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	model := NewModel()
	for _, a := range []string{"w=a", "w=b"} {
		model.Attributes.Add(a)
	}
	for _, l := range []string{"X", "Y"} {
		model.Labels.Add(l)
	}
	model.NumLabels = model.Labels.Size()
	p := &problem{
		seqs: [][][]entry{
			model.entries([]map[string]float64{{"w=a": 1}, {"w=b": 1}}),
			model.entries([]map[string]float64{{"w=b": 1}, {"w=a": 0.5}}),
		},
		labels:      [][]int{{1, 2}, {2, 1}},
		numLabels:   model.NumLabels,
		transOffset: model.TransOffset(),
		c2:          0.1,
	}

	n := model.NumWeights()
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.1 * float64(i%5-2)
	}
	grad := make([]float64, n)
	p.objective(w, grad)

	const h = 1e-6
	for i := range n {
		plus := append([]float64(nil), w...)
		minus := append([]float64(nil), w...)
		plus[i] += h
		minus[i] -= h
		numeric := (p.objective(plus, nil) - p.objective(minus, nil)) / (2 * h)
		if math.Abs(numeric-grad[i]) > 1e-5 {
			t.Errorf("grad[%d] = %v, finite difference %v", i, grad[i], numeric)
		}
	}
}

func TestTrainSimple(t *testing.T) {
	sequences := []TrainingSequence{
		{
			Attributes: []map[string]float64{{"word=hello": 1, "bias": 1}, {"word=world": 1, "bias": 1}},
			Labels:     []string{"A", "B"},
		},
		{
			Attributes: []map[string]float64{{"word=world": 1, "bias": 1}, {"word=hello": 1, "bias": 1}},
			Labels:     []string{"B", "A"},
		},
	}
	config := DefaultTrainerConfig()
	config.MaxIterations = 50
	config.C1 = 0.01
	config.C2 = 0.01

	model := Train(sequences, config)
	for _, seq := range sequences {
		if got := model.Decode(seq.Attributes); !reflect.DeepEqual(got, seq.Labels) {
			t.Errorf("Decode = %v, want %v", got, seq.Labels)
		}
	}
}

func TestModelMarshalRoundTrip(t *testing.T) {
	model := NewModel()
	model.Labels.Add("A")
	model.Attributes.Add("bias")
	model.NumLabels = model.Labels.Size()
	model.Weights = make([]float64, model.NumWeights())
	for i := range model.Weights {
		model.Weights[i] = float64(i) / 10
	}

	data, err := MarshalModel(model)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalModel(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumLabels != model.NumLabels || !reflect.DeepEqual(loaded.Weights, model.Weights) {
		t.Errorf("loaded model differs: %+v", loaded)
	}
	if !loaded.Labels.Frozen || !loaded.Attributes.Frozen {
		t.Error("loaded vocabularies should be frozen")
	}
	if _, err := UnmarshalModel([]byte(`{"weights": []}`)); err == nil {
		t.Error("expected error for a model without vocabularies")
	}
}

func TestTagger(t *testing.T) {
	extractor := features.ExtractorFunc(func(q features.Query) ([]features.Bag, error) {
		bags := make([]features.Bag, len(q.Tokens))
		for i, tok := range q.Tokens {
			bags[i] = features.Bag{"word": tok, "bias": 1}
		}
		return bags, nil
	})
	queries := []features.Query{
		{Tokens: strings.Fields("call mom")},
		{Tokens: strings.Fields("call dad now")},
		{Tokens: strings.Fields("text mom")},
	}
	tags := [][]string{
		{"O|", "B|contact"},
		{"O|", "B|contact", "O|"},
		{"O|", "B|contact"},
	}

	tagger := NewTagger(DefaultTrainerConfig(), extractor)
	if _, err := tagger.Predict(queries); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Predict before Fit: %v", err)
	}
	if err := tagger.SetParams(map[string]any{"c1": 0.01, "max_iterations": 60}); err != nil {
		t.Fatal(err)
	}
	if err := tagger.SetParams(map[string]any{"learning_rate": 1}); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if err := tagger.Fit(queries, tags); err != nil {
		t.Fatal(err)
	}
	got, err := tagger.Predict(queries)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, tags) {
		t.Errorf("Predict = %v, want %v", got, tags)
	}

	dir := t.TempDir()
	if err := tagger.Save(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadTagger(dir, extractor)
	if err != nil {
		t.Fatal(err)
	}
	again, err := loaded.Predict(queries)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Errorf("loaded Predict = %v, want %v", again, got)
	}
	if loaded.Params()["max_iterations"] != 60 {
		t.Errorf("loaded params = %v", loaded.Params())
	}

	err = tagger.Fit(queries[:1], [][]string{{"O|"}})
	if !errors.Is(err, features.ErrLengthMismatch) {
		t.Errorf("Fit mismatch error = %v", err)
	}
}
