// Package tagger recognizes entities in short natural-language queries.
//
// A Recognizer pairs a trained sequence tagger (a bidirectional LSTM or a
// linear-chain CRF) with the gazetteers its features are drawn from.
//
//	r, _ := tagger.Train("data", nil)
//	entities, _ := r.Tag("play thriller by michael jackson")
//	for _, e := range entities {
//	    fmt.Println(e.Type, e.Text) // "artist michael jackson"
//	}
package tagger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/tagger/crf"
	"github.com/happyhackingspace/tagger/features"
	"github.com/happyhackingspace/tagger/internal/storage"
	"github.com/happyhackingspace/tagger/lstm"
)

// Tagger is a trainable model assigning one tag per query token.
type Tagger interface {
	// SetupModel discards learned state and prepares a fresh model.
	SetupModel() error
	ExtractFeatures(queries []features.Query) ([]features.Example, error)
	Fit(queries []features.Query, tags [][]string) error
	Predict(queries []features.Query) ([][]string, error)
	Params() map[string]any
	SetParams(values map[string]any) error
	Save(dir string) error
}

var (
	_ Tagger = (*lstm.Model)(nil)
	_ Tagger = (*crf.Tagger)(nil)
)

// Kind names a tagging model.
type Kind string

const (
	KindLSTM Kind = "lstm"
	KindCRF  Kind = "crf"
)

// Files written by Recognizer.Save next to the model files.
const (
	ManifestFile  = "manifest.json"
	GazetteersDir = "gazetteers"
)

const gazetteerExtractor = "gazetteer"

var errNoModel = errors.New("tagger: recognizer has no model")

// Entity is a recognized entity with its byte span in the query text.
type Entity struct {
	Text  string `json:"text"`
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Recognizer tags entities in raw query text.
type Recognizer struct {
	kind      Kind
	tagger    Tagger
	resources features.Resources
	extractor *features.GazetteerExtractor
}

type manifest struct {
	Kind      Kind     `json:"kind"`
	Extractor string   `json:"extractor"`
	MaxNgram  int      `json:"max_ngram,omitempty"`
	GazTypes  []string `json:"gaz_types"`
}

// New returns an untrained recognizer using the given gazetteers.
func New(resources features.Resources, config *TrainConfig) (*Recognizer, error) {
	if config == nil {
		config = DefaultTrainConfig()
	}
	extractor := &features.GazetteerExtractor{Resources: resources}
	r := &Recognizer{
		kind:      config.Model,
		resources: resources,
		extractor: extractor,
	}
	switch config.Model {
	case KindLSTM, "":
		r.kind = KindLSTM
		params, err := lstm.DefaultParams().With(config.Params)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		m, err := lstm.New(params, resources, extractor)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		m.OnBatch = config.OnBatch
		r.tagger = m
	case KindCRF:
		crfConfig := crf.DefaultTrainerConfig()
		if config.CRF != nil {
			crfConfig = *config.CRF
		}
		t := crf.NewTagger(crfConfig, extractor)
		if err := t.SetParams(config.Params); err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		r.tagger = t
	default:
		return nil, fmt.Errorf("tagger: unknown model kind %q", config.Model)
	}
	return r, nil
}

// Kind returns the kind of the underlying model.
func (r *Recognizer) Kind() Kind { return r.kind }

// Tagger returns the underlying model.
func (r *Recognizer) Tagger() Tagger { return r.tagger }

// Resources returns the gazetteers features are drawn from.
func (r *Recognizer) Resources() features.Resources { return r.resources }

// Fit trains the model on tokenized queries and their BIO tags.
func (r *Recognizer) Fit(queries []features.Query, tags [][]string) error {
	if r.tagger == nil {
		return errNoModel
	}
	if err := r.tagger.Fit(queries, tags); err != nil {
		return fmt.Errorf("tagger: %w", err)
	}
	return nil
}

// NewQuery tokenizes and normalizes raw text.
func NewQuery(text string) features.Query {
	tokens, _ := storage.TagTokens(text, nil)
	return features.Query{Text: text, Tokens: tokens}
}

// Tag returns the entities found in text.
func (r *Recognizer) Tag(text string) ([]Entity, error) {
	out, err := r.TagQueries([]string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// TagQueries tags several texts in one prediction call. Texts without word
// tokens yield no entities.
func (r *Recognizer) TagQueries(texts []string) ([][]Entity, error) {
	if r.tagger == nil {
		return nil, errNoModel
	}
	var queries []features.Query
	var index []int
	for i, text := range texts {
		q := NewQuery(text)
		if len(q.Tokens) == 0 {
			continue
		}
		queries = append(queries, q)
		index = append(index, i)
	}

	out := make([][]Entity, len(texts))
	for i := range out {
		out[i] = []Entity{}
	}
	if len(queries) == 0 {
		return out, nil
	}
	tags, err := r.tagger.Predict(queries)
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	for j, i := range index {
		out[i] = entities(texts[i], tags[j])
	}
	return out, nil
}

func entities(text string, tags []string) []Entity {
	spans := storage.TagSpans(text, tags)
	out := make([]Entity, len(spans))
	for i, s := range spans {
		out[i] = Entity{Text: text[s.Start:s.End], Type: s.Type, Start: s.Start, End: s.End}
	}
	return out
}

// Save writes the model, its gazetteers and a manifest to dir.
func (r *Recognizer) Save(dir string) error {
	if r.tagger == nil {
		return errNoModel
	}
	if err := r.tagger.Save(dir); err != nil {
		return fmt.Errorf("tagger: %w", err)
	}
	if err := features.SaveGazetteers(filepath.Join(dir, GazetteersDir), r.resources.Gazetteers); err != nil {
		return fmt.Errorf("tagger: %w", err)
	}
	data, err := json.MarshalIndent(manifest{
		Kind:      r.kind,
		Extractor: gazetteerExtractor,
		MaxNgram:  r.extractor.MaxNgram,
		GazTypes:  r.resources.GazTypes(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("tagger: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644)
}

// Load restores a recognizer written by Save.
func Load(dir string) (*Recognizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tagger: decode %s: %w", ManifestFile, err)
	}
	if m.Extractor != gazetteerExtractor {
		return nil, fmt.Errorf("tagger: unknown extractor %q", m.Extractor)
	}
	gaz, err := features.LoadGazetteers(filepath.Join(dir, GazetteersDir))
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	resources := features.Resources{Gazetteers: gaz}
	extractor := &features.GazetteerExtractor{Resources: resources, MaxNgram: m.MaxNgram}

	r := &Recognizer{kind: m.Kind, resources: resources, extractor: extractor}
	switch m.Kind {
	case KindLSTM:
		model, err := lstm.Load(dir, extractor)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		r.tagger = model
	case KindCRF:
		t, err := crf.LoadTagger(dir, extractor)
		if err != nil {
			return nil, fmt.Errorf("tagger: %w", err)
		}
		r.tagger = t
	default:
		return nil, fmt.Errorf("tagger: unknown model kind %q", m.Kind)
	}
	return r, nil
}
