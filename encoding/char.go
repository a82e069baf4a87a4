package encoding

// CharEncoder encodes each token as a fixed-length window of character indices.
type CharEncoder struct {
	Vocab         *Vocabulary `json:"vocab"`
	PaddingLength int         `json:"padding_length"`
	MaxChars      int         `json:"max_chars"`
	Dimension     int         `json:"dimension"`
}

// NewCharEncoder creates a character encoder padding with DefaultCharToken.
func NewCharEncoder(paddingLength, maxChars, dimension int) *CharEncoder {
	return &CharEncoder{
		Vocab:         NewVocabulary(DefaultCharToken),
		PaddingLength: paddingLength,
		MaxChars:      maxChars,
		Dimension:     dimension,
	}
}

// Encode returns PaddingLength*MaxChars indices, one row of MaxChars per
// token slot. Tokens are cut at MaxChars runes.
func (e *CharEncoder) Encode(tokens []string) []int {
	pad := e.Vocab.DefaultID()
	out := make([]int, e.PaddingLength*e.MaxChars)
	for i := range out {
		out[i] = pad
	}
	for p := 0; p < e.PaddingLength && p < len(tokens); p++ {
		c := 0
		for _, r := range tokens[p] {
			if c == e.MaxChars {
				break
			}
			out[p*e.MaxChars+c] = e.Vocab.Add(string(r))
			c++
		}
	}
	return out
}

// Decode returns the characters of each token slot with padding removed.
func (e *CharEncoder) Decode(ids []int) []string {
	words := make([]string, 0, len(ids)/e.MaxChars)
	pad := e.Vocab.DefaultID()
	for p := 0; p+e.MaxChars <= len(ids); p += e.MaxChars {
		var word []rune
		for _, id := range ids[p : p+e.MaxChars] {
			if id == pad {
				continue
			}
			if tok, ok := e.Vocab.Token(id); ok {
				word = append(word, []rune(tok)...)
			}
		}
		words = append(words, string(word))
	}
	return words
}

// Freeze freezes the character vocabulary.
func (e *CharEncoder) Freeze() { e.Vocab.Freeze() }
