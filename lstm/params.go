package lstm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Params configures the tagger. JSON keys are the parameter names accepted
// by SetParams.
type Params struct {
	NumberOfEpochs          int     `json:"number_of_epochs"`
	BatchSize               int     `json:"batch_size"`
	HiddenDimension         int     `json:"token_lstm_hidden_state_dimension"`
	LearningRate            float64 `json:"learning_rate"`
	Optimizer               string  `json:"optimizer"`
	PaddingLength           int     `json:"padding_length"`
	DisplayEpoch            int     `json:"display_epoch"`
	TokenEmbeddingDimension int     `json:"token_embedding_dimension"`
	PretrainedEmbeddingPath string  `json:"token_pretrained_embedding_filepath"`
	DenseKeepProb           float64 `json:"dense_keep_prob"`
	LSTMInputKeepProb       float64 `json:"lstm_input_keep_prob"`
	LSTMOutputKeepProb      float64 `json:"lstm_output_keep_prob"`
	GazEncodingDimension    int     `json:"gaz_encoding_dimension"`
	UseCharEmbeddings       bool    `json:"use_character_embeddings"`
	CharWindowSizes         []int   `json:"char_window_sizes"`
	MaxCharsPerWord         int     `json:"maximum_characters_per_word"`
	CharEmbeddingDimension  int     `json:"character_embedding_dimension"`

	// ShuffleSeed seeds the per-epoch permutation. Zero shuffles from the clock.
	ShuffleSeed int64 `json:"shuffle_seed"`
	// FineTunePretrained lets the optimizer update rows loaded from the
	// pretrained embedding file.
	FineTunePretrained bool `json:"fine_tune_pretrained_embeddings"`
}

// DefaultParams returns the default configuration.
func DefaultParams() Params {
	return Params{
		NumberOfEpochs:          20,
		BatchSize:               20,
		HiddenDimension:         300,
		LearningRate:            0.005,
		Optimizer:               "adam",
		PaddingLength:           20,
		DisplayEpoch:            20,
		TokenEmbeddingDimension: 300,
		DenseKeepProb:           0.5,
		LSTMInputKeepProb:       0.5,
		LSTMOutputKeepProb:      0.5,
		GazEncodingDimension:    100,
		CharWindowSizes:         []int{5},
		MaxCharsPerWord:         20,
		CharEmbeddingDimension:  10,
	}
}

// Validate checks the parameters before a model is built.
func (p Params) Validate() error {
	positive := map[string]int{
		"number_of_epochs":                  p.NumberOfEpochs,
		"batch_size":                        p.BatchSize,
		"token_lstm_hidden_state_dimension": p.HiddenDimension,
		"padding_length":                    p.PaddingLength,
		"display_epoch":                     p.DisplayEpoch,
		"token_embedding_dimension":         p.TokenEmbeddingDimension,
		"gaz_encoding_dimension":            p.GazEncodingDimension,
	}
	if p.UseCharEmbeddings {
		positive["maximum_characters_per_word"] = p.MaxCharsPerWord
		positive["character_embedding_dimension"] = p.CharEmbeddingDimension
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			return errors.Errorf("lstm: %s must be positive, got %d", key, positive[key])
		}
	}
	if p.LearningRate <= 0 {
		return errors.Errorf("lstm: learning_rate must be positive, got %g", p.LearningRate)
	}
	for key, keep := range map[string]float64{
		"dense_keep_prob":       p.DenseKeepProb,
		"lstm_input_keep_prob":  p.LSTMInputKeepProb,
		"lstm_output_keep_prob": p.LSTMOutputKeepProb,
	} {
		if keep <= 0 || keep > 1 {
			return errors.Errorf("lstm: %s must be in (0, 1], got %g", key, keep)
		}
	}
	if _, ok := optimizers.KnownOptimizers[p.Optimizer]; !ok {
		return errors.Errorf("lstm: unknown optimizer %q, known: %s",
			p.Optimizer, strings.Join(sortedKeys(optimizers.KnownOptimizers), ", "))
	}
	if p.UseCharEmbeddings {
		if len(p.CharWindowSizes) == 0 {
			return errors.New("lstm: char_window_sizes is empty")
		}
		for _, w := range p.CharWindowSizes {
			if w <= 0 {
				return errors.Errorf("lstm: char window size must be positive, got %d", w)
			}
		}
	}
	return nil
}

// Map returns the parameters keyed by name.
func (p Params) Map() map[string]any {
	return map[string]any{
		"number_of_epochs":                    p.NumberOfEpochs,
		"batch_size":                          p.BatchSize,
		"token_lstm_hidden_state_dimension":   p.HiddenDimension,
		"learning_rate":                       p.LearningRate,
		"optimizer":                           p.Optimizer,
		"padding_length":                      p.PaddingLength,
		"display_epoch":                       p.DisplayEpoch,
		"token_embedding_dimension":           p.TokenEmbeddingDimension,
		"token_pretrained_embedding_filepath": p.PretrainedEmbeddingPath,
		"dense_keep_prob":                     p.DenseKeepProb,
		"lstm_input_keep_prob":                p.LSTMInputKeepProb,
		"lstm_output_keep_prob":               p.LSTMOutputKeepProb,
		"gaz_encoding_dimension":              p.GazEncodingDimension,
		"use_character_embeddings":            p.UseCharEmbeddings,
		"char_window_sizes":                   append([]int(nil), p.CharWindowSizes...),
		"maximum_characters_per_word":         p.MaxCharsPerWord,
		"character_embedding_dimension":       p.CharEmbeddingDimension,
		"shuffle_seed":                        p.ShuffleSeed,
		"fine_tune_pretrained_embeddings":     p.FineTunePretrained,
	}
}

// With returns a copy of p with the given keys overridden. Unknown keys and
// values of the wrong type are errors; keys not given keep their value.
func (p Params) With(values map[string]any) (Params, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return p, errors.Wrap(err, "lstm: encode params")
	}
	out := p
	out.CharWindowSizes = append([]int(nil), p.CharWindowSizes...)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return p, errors.Wrap(err, "lstm: set params")
	}
	return out, nil
}

func (p Params) String() string {
	m := p.Map()
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
