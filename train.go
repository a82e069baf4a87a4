package tagger

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/happyhackingspace/tagger/crf"
	"github.com/happyhackingspace/tagger/features"
	"github.com/happyhackingspace/tagger/internal/storage"
	"github.com/happyhackingspace/tagger/lstm"
)

// TrainConfig holds configuration for training.
type TrainConfig struct {
	// Model selects the tagger; empty means KindLSTM.
	Model Kind
	// Params overrides model parameters by key, e.g. "number_of_epochs"
	// for the LSTM or "max_iterations" for the CRF.
	Params map[string]any
	// CRF is the base CRF trainer configuration; nil means the defaults.
	CRF     *crf.TrainerConfig
	Verbose bool
	// OnBatch receives LSTM training progress.
	OnBatch func(lstm.BatchStats)
}

// DefaultTrainConfig returns a configuration training the LSTM with its
// default parameters.
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{Model: KindLSTM}
}

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	Folds   int
	Train   *TrainConfig
	Verbose bool
}

// TypeScore counts entity matches of one type. An entity matches when both
// its span and type are predicted exactly.
type TypeScore struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
}

func (s TypeScore) Precision() float64 {
	return ratio(s.TruePositives, s.TruePositives+s.FalsePositives)
}

func (s TypeScore) Recall() float64 {
	return ratio(s.TruePositives, s.TruePositives+s.FalseNegatives)
}

func (s TypeScore) F1() float64 {
	p, r := s.Precision(), s.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// EvalResult holds cross-validation evaluation results.
type EvalResult struct {
	Folds            int
	TokenAccuracy    float64
	SequenceAccuracy float64
	TokenCorrect     int
	TokenTotal       int
	SequenceCorrect  int
	SequenceTotal    int
	Types            map[string]*TypeScore
}

// SortedTypes returns the entity types of Types in sorted order.
func (r *EvalResult) SortedTypes() []string {
	types := make([]string, 0, len(r.Types))
	for t := range r.Types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Train trains a recognizer on the annotated queries and gazetteers in the
// given data directory.
func Train(dataDir string, config *TrainConfig) (*Recognizer, error) {
	if config == nil {
		config = DefaultTrainConfig()
	}
	annotations, resources, err := loadData(dataDir, config.Verbose)
	if err != nil {
		return nil, err
	}
	r, err := New(resources, config)
	if err != nil {
		return nil, err
	}
	queries, tags := trainingData(annotations)
	if config.Verbose {
		slog.Info("Training", "model", r.kind, "queries", len(queries), "gazetteers", len(resources.Gazetteers))
	}
	if err := r.Fit(queries, tags); err != nil {
		return nil, err
	}
	return r, nil
}

// Evaluate runs grouped k-fold cross-validation on annotated data. Queries
// from one file always fall in the same fold.
func Evaluate(dataDir string, config *EvalConfig) (*EvalResult, error) {
	nFolds := 10
	verbose := false
	trainConfig := DefaultTrainConfig()
	if config != nil {
		if config.Folds > 0 {
			nFolds = config.Folds
		}
		verbose = config.Verbose
		if config.Train != nil {
			trainConfig = config.Train
		}
	}

	annotations, resources, err := loadData(dataDir, verbose)
	if err != nil {
		return nil, err
	}
	queries, tags := trainingData(annotations)
	groups := make([]int, len(annotations))
	for i, ann := range annotations {
		groups[i] = ann.Group
	}
	folds := groupKFold(groups, nFolds)

	result := &EvalResult{Folds: len(folds), Types: make(map[string]*TypeScore)}
	for f, testIdx := range folds {
		testSet := makeTestSet(len(queries), testIdx)
		trainQueries, trainTags := filterByIndex(queries, tags, testSet, false)
		testQueries, testTags := filterByIndex(queries, tags, testSet, true)
		if len(trainQueries) == 0 {
			continue
		}

		r, err := New(resources, trainConfig)
		if err != nil {
			return nil, err
		}
		if err := r.Fit(trainQueries, trainTags); err != nil {
			return nil, fmt.Errorf("tagger: fold %d: %w", f, err)
		}
		predicted, err := r.tagger.Predict(testQueries)
		if err != nil {
			return nil, fmt.Errorf("tagger: fold %d: %w", f, err)
		}
		for i, q := range testQueries {
			result.add(q.Text, testTags[i], predicted[i])
		}
		if verbose {
			slog.Info("Fold evaluated", "fold", f+1, "folds", len(folds), "train", len(trainQueries), "test", len(testQueries))
		}
	}

	result.TokenAccuracy = ratio(result.TokenCorrect, result.TokenTotal)
	result.SequenceAccuracy = ratio(result.SequenceCorrect, result.SequenceTotal)
	return result, nil
}

// add scores one query. Tokens past the end of predicted count as wrong.
func (r *EvalResult) add(text string, truth, predicted []string) {
	allCorrect := true
	for j := range truth {
		if j < len(predicted) && predicted[j] == truth[j] {
			r.TokenCorrect++
		} else {
			allCorrect = false
		}
		r.TokenTotal++
	}
	if allCorrect {
		r.SequenceCorrect++
	}
	r.SequenceTotal++

	want := storage.TagSpans(text, truth)
	got := storage.TagSpans(text, predicted)
	matched := make(map[storage.Span]bool, len(want))
	for _, s := range want {
		matched[s] = false
	}
	for _, s := range got {
		if seen, ok := matched[s]; ok && !seen {
			matched[s] = true
			r.score(s.Type).TruePositives++
		} else {
			r.score(s.Type).FalsePositives++
		}
	}
	for _, s := range want {
		if !matched[s] {
			r.score(s.Type).FalseNegatives++
		}
	}
}

func (r *EvalResult) score(typ string) *TypeScore {
	s, ok := r.Types[typ]
	if !ok {
		s = &TypeScore{}
		r.Types[typ] = s
	}
	return s
}

func loadData(dataDir string, verbose bool) ([]storage.QueryAnnotation, features.Resources, error) {
	store := storage.NewStorage(dataDir)
	opts := storage.DefaultIterOptions()
	opts.Verbose = verbose
	annotations, err := store.IterAnnotations(opts)
	if err != nil {
		return nil, features.Resources{}, fmt.Errorf("tagger: %w", err)
	}
	if len(annotations) == 0 {
		return nil, features.Resources{}, fmt.Errorf("tagger: no annotations found in %s", dataDir)
	}
	gaz, err := store.Gazetteers()
	if err != nil {
		return nil, features.Resources{}, fmt.Errorf("tagger: %w", err)
	}
	return annotations, features.Resources{Gazetteers: gaz}, nil
}

func trainingData(annotations []storage.QueryAnnotation) ([]features.Query, [][]string) {
	queries := make([]features.Query, len(annotations))
	tags := make([][]string, len(annotations))
	for i, ann := range annotations {
		queries[i] = features.Query{Text: ann.Text, Tokens: ann.Tokens}
		tags[i] = ann.Tags
	}
	return queries, tags
}

func groupKFold(groups []int, nFolds int) [][]int {
	uniqueGroups := make(map[int]bool)
	for _, g := range groups {
		uniqueGroups[g] = true
	}
	sortedGroups := make([]int, 0, len(uniqueGroups))
	for g := range uniqueGroups {
		sortedGroups = append(sortedGroups, g)
	}
	sort.Ints(sortedGroups)

	if nFolds > len(sortedGroups) {
		nFolds = len(sortedGroups)
	}

	groupToFold := make(map[int]int)
	for i, g := range sortedGroups {
		groupToFold[g] = i % nFolds
	}

	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}

func filterByIndex(queries []features.Query, tags [][]string, testSet []bool, isTest bool) ([]features.Query, [][]string) {
	var outQueries []features.Query
	var outTags [][]string
	for i := range queries {
		if testSet[i] == isTest {
			outQueries = append(outQueries, queries[i])
			outTags = append(outTags, tags[i])
		}
	}
	return outQueries, outTags
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
