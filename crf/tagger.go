package crf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/happyhackingspace/tagger/features"
)

// ModelFile is the file Tagger.Save writes under the model directory.
const ModelFile = "crf.json"

var (
	// ErrNotTrained is returned when predicting or saving before Fit.
	ErrNotTrained = errors.New("crf: model is not trained")

	errMissingVocabulary = errors.New("crf: model has no vocabulary")
)

// Tagger tags queries with a CRF trained on extractor feature bags.
type Tagger struct {
	config   TrainerConfig
	pipeline *features.Pipeline
	model    *Model
}

// NewTagger returns an untrained tagger.
func NewTagger(config TrainerConfig, extractor features.Extractor) *Tagger {
	return &Tagger{
		config:   config,
		pipeline: &features.Pipeline{Extractor: extractor, PaddingLength: math.MaxInt},
	}
}

// SetupModel discards the trained weights.
func (t *Tagger) SetupModel() error {
	t.model = nil
	return nil
}

// ExtractFeatures derives the examples of queries.
func (t *Tagger) ExtractFeatures(queries []features.Query) ([]features.Example, error) {
	return t.pipeline.Extract(queries)
}

// Fit trains the CRF on queries and their per-token tags.
func (t *Tagger) Fit(queries []features.Query, tags [][]string) error {
	if len(queries) != len(tags) {
		return fmt.Errorf("crf: %d queries but %d tag sequences", len(queries), len(tags))
	}
	examples, err := t.ExtractFeatures(queries)
	if err != nil {
		return err
	}
	seqs := make([]TrainingSequence, len(examples))
	for i, ex := range examples {
		if err := features.CheckLengths(i, "label", ex.Tokens, tags[i]); err != nil {
			return err
		}
		seqs[i] = TrainingSequence{Attributes: BagsToAttributes(ex.Bags), Labels: tags[i]}
	}
	start := time.Now()
	t.model = Train(seqs, t.config)
	slog.Info("CRF trained",
		"sequences", len(seqs),
		"labels", t.model.NumLabels,
		"attributes", t.model.Attributes.Size(),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Predict returns the tags of every token of every query.
func (t *Tagger) Predict(queries []features.Query) ([][]string, error) {
	if t.model == nil {
		return nil, ErrNotTrained
	}
	examples, err := t.ExtractFeatures(queries)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(examples))
	for i, ex := range examples {
		out[i] = t.model.Decode(BagsToAttributes(ex.Bags))
	}
	return out, nil
}

// Model returns the trained model, or nil.
func (t *Tagger) Model() *Model { return t.model }

// Params returns the trainer configuration keyed by name.
func (t *Tagger) Params() map[string]any {
	return map[string]any{
		"c1":             t.config.C1,
		"c2":             t.config.C2,
		"max_iterations": t.config.MaxIterations,
		"epsilon":        t.config.Epsilon,
		"memory":         t.config.Memory,
	}
}

// SetParams overrides trainer parameters. Unknown keys are an error.
func (t *Tagger) SetParams(values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("crf: %w", err)
	}
	config := t.config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return fmt.Errorf("crf: set params: %w", err)
	}
	t.config = config
	return nil
}

type savedTagger struct {
	Config TrainerConfig `json:"config"`
	Model  *Model        `json:"model"`
}

// Save writes the configuration and model to dir/crf.json.
func (t *Tagger) Save(dir string) error {
	if t.model == nil {
		return ErrNotTrained
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("crf: %w", err)
	}
	data, err := json.Marshal(savedTagger{Config: t.config, Model: t.model})
	if err != nil {
		return fmt.Errorf("crf: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ModelFile), data, 0644)
}

// LoadTagger restores a tagger written by Save.
func LoadTagger(dir string, extractor features.Extractor) (*Tagger, error) {
	data, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("crf: %w", err)
	}
	var saved savedTagger
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("crf: decode %s: %w", ModelFile, err)
	}
	if saved.Model == nil || saved.Model.Labels == nil || saved.Model.Attributes == nil {
		return nil, errMissingVocabulary
	}
	saved.Model.Labels.Freeze()
	saved.Model.Attributes.Freeze()
	t := NewTagger(saved.Config, extractor)
	t.model = saved.Model
	return t, nil
}
