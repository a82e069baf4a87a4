// Package crf implements a linear-chain Conditional Random Field tagger
// over the same feature bags as the neural tagger.
package crf

import "github.com/happyhackingspace/tagger/encoding"

// unknownAttribute occupies attribute index 0 so unseen attributes have a
// slot that never carries weight.
const unknownAttribute = "<UNK>"

// Model holds the CRF parameters.
//
// Weight layout: [state features | transition features]. The state feature
// of attribute a and label y is at a*NumLabels+y; the transition from label
// i to label j is at TransOffset()+i*NumLabels+j.
type Model struct {
	Labels     *encoding.Vocabulary `json:"labels"`
	Attributes *encoding.Vocabulary `json:"attributes"`
	Weights    []float64            `json:"weights"`
	NumLabels  int                  `json:"num_labels"`
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		Labels:     encoding.NewVocabulary(encoding.DefaultLabel),
		Attributes: encoding.NewVocabulary(unknownAttribute),
	}
}

// TransOffset is the index of the first transition weight.
func (m *Model) TransOffset() int {
	return m.Attributes.Size() * m.NumLabels
}

// NumWeights returns the total number of weights.
func (m *Model) NumWeights() int {
	return m.TransOffset() + m.NumLabels*m.NumLabels
}

// StateFeatureIndex returns the weight index for a state feature.
func (m *Model) StateFeatureIndex(attrID, labelID int) int {
	return attrID*m.NumLabels + labelID
}

// TransFeatureIndex returns the weight index for a transition feature.
func (m *Model) TransFeatureIndex(fromLabelID, toLabelID int) int {
	return m.TransOffset() + fromLabelID*m.NumLabels + toLabelID
}

// entry is an attribute id with its value.
type entry struct {
	attrID int
	value  float64
}

// entries maps attribute names to ids, dropping unknown ones.
func (m *Model) entries(attrs []map[string]float64) [][]entry {
	out := make([][]entry, len(attrs))
	for t, position := range attrs {
		for name, v := range position {
			if id := m.Attributes.Get(name); id > 0 {
				out[t] = append(out[t], entry{id, v})
			}
		}
	}
	return out
}

// scores returns the [T][L] state scores and the [L][L] transition scores
// of a sequence under weights w.
func scores(w []float64, seq [][]entry, numLabels, transOffset int) (state, trans [][]float64) {
	state = make([][]float64, len(seq))
	for t, position := range seq {
		state[t] = make([]float64, numLabels)
		for _, e := range position {
			base := e.attrID * numLabels
			for y := range numLabels {
				state[t][y] += w[base+y] * e.value
			}
		}
	}
	trans = make([][]float64, numLabels)
	for i := range numLabels {
		trans[i] = w[transOffset+i*numLabels : transOffset+(i+1)*numLabels]
	}
	return state, trans
}

// Scores returns the state and transition scores of one attribute sequence.
func (m *Model) Scores(attrs []map[string]float64) (state, trans [][]float64) {
	return scores(m.Weights, m.entries(attrs), m.NumLabels, m.TransOffset())
}
