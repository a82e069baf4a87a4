package encoding

import (
	"encoding/json"
	"os"
)

// Set holds the encoders of one trained model.
type Set struct {
	Word  *WordEncoder  `json:"word"`
	Gaz   *GazEncoder   `json:"gaz"`
	Char  *CharEncoder  `json:"char,omitempty"`
	Label *LabelEncoder `json:"label"`
}

// Freeze freezes every encoder vocabulary.
func (s *Set) Freeze() {
	s.Word.Freeze()
	s.Gaz.Freeze()
	s.Label.Freeze()
	if s.Char != nil {
		s.Char.Freeze()
	}
}

// SaveSet writes the encoders as JSON.
func SaveSet(s *Set, path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadSet reads encoders written by SaveSet. Loaded vocabularies are frozen.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.Freeze()
	return &s, nil
}
