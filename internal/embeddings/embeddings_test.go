package embeddings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const glove = "paris 0.1 0.2 0.3\nrome -1 0 1\n"

func TestRead(t *testing.T) {
	vecs, err := Read(strings.NewReader(glove), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if v := vecs["rome"]; v[0] != -1 || v[2] != 1 {
		t.Errorf("rome = %v", v)
	}
}

func TestReadWord2VecHeader(t *testing.T) {
	vecs, err := Read(strings.NewReader("2 3\n"+glove), 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := vecs["2"]; ok {
		t.Error("header should be skipped")
	}
}

func TestReadDimensionMismatch(t *testing.T) {
	if _, err := Read(strings.NewReader(glove), 4); err == nil {
		t.Error("expected dimension error")
	}
	if _, err := Read(strings.NewReader("paris a b c\n"), 3); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadCompressed(t *testing.T) {
	dir := t.TempDir()

	gzPath := filepath.Join(dir, "vectors.txt.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(glove)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	zstPath := filepath.Join(dir, "vectors.txt.zst")
	f, err = os.Create(zstPath)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Write([]byte(glove)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	for _, p := range []string{gzPath, zstPath} {
		vecs, err := Load(context.Background(), p, 3)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if len(vecs) != 2 {
			t.Errorf("%s: got %d vectors", p, len(vecs))
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), 3)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("error %v should wrap ErrUnreadable", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v should wrap os.ErrNotExist", err)
	}
}

func TestParseS3(t *testing.T) {
	tests := []struct {
		path        string
		bucket, key string
		ok          bool
	}{
		{"s3://models/glove/100d.txt.gz", "models", "glove/100d.txt.gz", true},
		{"s3://models", "", "", false},
		{"s3:///key", "", "", false},
		{"/tmp/glove.txt", "", "", false},
	}
	for _, tt := range tests {
		b, k, ok := parseS3(tt.path)
		if b != tt.bucket || k != tt.key || ok != tt.ok {
			t.Errorf("parseS3(%q) = %q %q %v", tt.path, b, k, ok)
		}
	}
}
