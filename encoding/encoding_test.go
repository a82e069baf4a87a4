package encoding

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

func TestVocabulary(t *testing.T) {
	v := NewVocabulary("<UNK>")
	id0 := v.Add("hello")
	id1 := v.Add("world")
	id2 := v.Add("hello")

	if id0 != 1 || id1 != 2 || id2 != 1 {
		t.Errorf("IDs: %d, %d, %d; want 1, 2, 1", id0, id1, id2)
	}
	if v.Size() != 3 {
		t.Errorf("Size = %d, want 3", v.Size())
	}
	if v.Get("missing") != -1 {
		t.Error("Get missing should return -1")
	}

	v.Freeze()
	if got := v.Add("unseen"); got != v.DefaultID() {
		t.Errorf("frozen Add(unseen) = %d, want default %d", got, v.DefaultID())
	}
	if v.Size() != 3 {
		t.Errorf("frozen vocabulary grew to %d", v.Size())
	}
	if _, ok := v.Token(99); ok {
		t.Error("Token(99) should not be found")
	}
}

func TestLabelRoundTrip(t *testing.T) {
	enc := NewLabelEncoder(5)
	sequences := [][]string{
		{"B|city", "I|city", "O|"},
		{"O|", "B|date"},
		{"B|date", "I|date", "I|date", "O|", "B|city"},
	}
	encoded := enc.EncodeAll(sequences)
	enc.Freeze()
	for i, seq := range sequences {
		decoded, err := enc.Decode(encoded[i][:len(seq)])
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(decoded, seq) {
			t.Errorf("round trip %d = %v, want %v", i, decoded, seq)
		}
	}
}

func TestEncodePadsAndTruncates(t *testing.T) {
	enc := NewWordEncoder(4, 3)
	short := enc.Encode([]string{"a", "b"})
	pad := enc.Vocab.DefaultID()
	if short[2] != pad || short[3] != pad {
		t.Errorf("padding = %v, want trailing %d", short, pad)
	}

	long := enc.Encode([]string{"a", "b", "c", "d", "e", "f"})
	if len(long) != 4 {
		t.Fatalf("len = %d, want 4", len(long))
	}
	if enc.Vocab.Get("e") != -1 || enc.Vocab.Get("f") != -1 {
		t.Error("tokens past the padding length should not enter the vocabulary")
	}
	want := enc.Encode([]string{"a", "b", "c", "d"})
	if !reflect.DeepEqual(long, want) {
		t.Errorf("truncated = %v, want %v", long, want)
	}
}

func TestEncodeDeterministicWhenFrozen(t *testing.T) {
	enc := NewWordEncoder(6, 3)
	enc.Encode([]string{"play", "some", "jazz"})
	enc.Freeze()

	tokens := []string{"play", "unknown", "jazz"}
	first := enc.Encode(tokens)
	second := enc.Encode(tokens)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("encodings differ: %v vs %v", first, second)
	}
	if first[1] != enc.Vocab.DefaultID() {
		t.Errorf("unseen token = %d, want unknown %d", first[1], enc.Vocab.DefaultID())
	}
}

func TestGazEmbeddings(t *testing.T) {
	enc := NewGazEncoder(3, []string{"city", "state"})
	if enc.Dimension() != 3 {
		t.Fatalf("Dimension = %d, want 3", enc.Dimension())
	}
	got := tensors.CopyFlatData[float32](enc.Embeddings([][]string{{"city", "city,state"}}))
	want := []float32{
		0, 1, 0, // city
		0, 1, 1, // city,state
		1, 0, 0, // padding O
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Embeddings = %v, want %v", got, want)
	}
}

func TestGazEmbeddingsUnseenCombination(t *testing.T) {
	enc := NewGazEncoder(2, []string{"city", "state"})
	enc.Encode([]string{"city", "state"})
	enc.Freeze()

	got := tensors.CopyFlatData[float32](enc.Embeddings([][]string{{"state,city", "O"}}))
	want := []float32{
		0, 1, 1,
		1, 0, 0,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Embeddings = %v, want %v", got, want)
	}
	if got := enc.Buckets("city,planet"); !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("Buckets(city,planet) = %v, want [1 0]", got)
	}
}

func TestGazBucketsUnknownType(t *testing.T) {
	enc := NewGazEncoder(2, []string{"city"})
	if got := enc.Buckets("planet"); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("Buckets(planet) = %v, want [0]", got)
	}
	if got := enc.Buckets("O"); !reflect.DeepEqual(got, []int{0}) {
		t.Errorf("Buckets(O) = %v, want [0]", got)
	}
}

func TestLabelEmbeddingsOneHot(t *testing.T) {
	enc := NewLabelEncoder(2)
	encoded := [][]int{enc.Encode([]string{"O|"})}
	emb := enc.Embeddings(encoded)
	if dims := emb.Shape().Dimensions; !reflect.DeepEqual(dims, []int{1, 2, 2}) {
		t.Fatalf("dims = %v, want [1 2 2]", dims)
	}
	got := tensors.CopyFlatData[float32](emb)
	want := []float32{0, 1, 1, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Embeddings = %v, want %v", got, want)
	}
}

func TestCharEncoder(t *testing.T) {
	enc := NewCharEncoder(3, 4, 10)
	ids := enc.Encode([]string{"ab", "abcdef"})
	if len(ids) != 12 {
		t.Fatalf("len = %d, want 12", len(ids))
	}
	pad := enc.Vocab.DefaultID()
	for _, i := range []int{2, 3, 8, 9, 10, 11} {
		if ids[i] != pad {
			t.Errorf("ids[%d] = %d, want pad", i, ids[i])
		}
	}
	got := enc.Decode(ids)
	want := []string{"ab", "abcd", ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode = %v, want %v", got, want)
	}
}

func TestWordTable(t *testing.T) {
	enc := NewWordEncoder(3, 2)
	enc.Encode([]string{"paris", "rome"})
	pretrained := map[string][]float32{"paris": {1, 2}, "bad": {1}}

	table, mask := enc.Table(pretrained, 1)
	if len(table) != enc.Vocab.Size()*2 || len(mask) != enc.Vocab.Size() {
		t.Fatalf("table %d / mask %d for vocabulary %d", len(table), len(mask), enc.Vocab.Size())
	}
	id := enc.Vocab.Get("paris")
	if table[id*2] != 1 || table[id*2+1] != 2 || mask[id] != 1 {
		t.Errorf("pretrained row = %v mask %v", table[id*2:id*2+2], mask[id])
	}
	if mask[enc.Vocab.Get("rome")] != 0 {
		t.Error("rome should not be marked pretrained")
	}

	again, _ := enc.Table(pretrained, 1)
	if !reflect.DeepEqual(table, again) {
		t.Error("same seed should give the same table")
	}
}

func TestSetSaveLoad(t *testing.T) {
	set := &Set{
		Word:  NewWordEncoder(3, 2),
		Gaz:   NewGazEncoder(3, []string{"city"}),
		Label: NewLabelEncoder(3),
	}
	set.Word.Encode([]string{"to", "paris"})
	set.Label.Encode([]string{"O|", "B|city"})
	set.Freeze()

	path := filepath.Join(t.TempDir(), "encoders.json")
	if err := SaveSet(set, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Word.Encode([]string{"to", "paris"}), set.Word.Encode([]string{"to", "paris"})) {
		t.Error("loaded word encoder disagrees")
	}
	if loaded.Gaz.Dimension() != 2 || loaded.Label.Dimension() != 3 {
		t.Errorf("dims gaz=%d label=%d", loaded.Gaz.Dimension(), loaded.Label.Dimension())
	}
	if loaded.Char != nil {
		t.Error("char encoder should stay nil")
	}
	if !loaded.Word.Vocab.Frozen {
		t.Error("loaded vocabulary should be frozen")
	}
}
