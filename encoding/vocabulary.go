// Package encoding turns token, gazetteer, character and label sequences into
// fixed-length index encodings and their tensor embeddings.
package encoding

// Vocabulary maps between string tokens and integer indices.
//
// Index 0 always holds the default token, which doubles as the unknown and
// padding sentinel. Once frozen, unseen tokens resolve to the default index.
type Vocabulary struct {
	ToID    map[string]int `json:"to_id"`
	ToStr   []string       `json:"to_str"`
	Default string         `json:"default"`
	Frozen  bool           `json:"frozen"`
}

// NewVocabulary creates a vocabulary holding defaultToken at index 0 followed
// by the reserved tokens in order.
func NewVocabulary(defaultToken string, reserved ...string) *Vocabulary {
	v := &Vocabulary{
		ToID:    make(map[string]int),
		Default: defaultToken,
	}
	v.add(defaultToken)
	for _, r := range reserved {
		v.add(r)
	}
	return v
}

// Add returns the index of s, assigning a new one if the vocabulary is still
// being built. A frozen vocabulary returns the default index for unseen tokens.
func (v *Vocabulary) Add(s string) int {
	if v.Frozen {
		return v.Index(s)
	}
	return v.add(s)
}

func (v *Vocabulary) add(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	id := len(v.ToStr)
	v.ToID[s] = id
	v.ToStr = append(v.ToStr, s)
	return id
}

// Get returns the index for s, or -1 if not found.
func (v *Vocabulary) Get(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	return -1
}

// Index returns the index for s, or the default index if not found.
func (v *Vocabulary) Index(s string) int {
	if id, ok := v.ToID[s]; ok {
		return id
	}
	return v.DefaultID()
}

// DefaultID returns the index of the default token.
func (v *Vocabulary) DefaultID() int {
	return v.ToID[v.Default]
}

// Token returns the string for an index.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.ToStr) {
		return "", false
	}
	return v.ToStr[id], true
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int {
	return len(v.ToStr)
}

// Freeze stops the vocabulary from growing.
func (v *Vocabulary) Freeze() {
	v.Frozen = true
}
