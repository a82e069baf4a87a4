package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/happyhackingspace/tagger"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams(map[string]string{
		"number_of_epochs":         "5",
		"use_character_embeddings": "true",
		"optimizer":                "sgd",
		"char_window_sizes":        "[3,5]",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"number_of_epochs":         float64(5),
		"use_character_embeddings": true,
		"optimizer":                "sgd",
		"char_window_sizes":        []any{float64(3), float64(5)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseParams = %v, want %v", got, want)
	}
	if _, err := parseParams(map[string]string{"": "1"}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestTrainBarEpochs(t *testing.T) {
	b := newTrainBar(map[string]any{"number_of_epochs": float64(7)}, true)
	if b.epochs != 7 {
		t.Errorf("epochs = %d, want 7", b.epochs)
	}
	b = newTrainBar(map[string]any{"bogus": 1}, true)
	if b.epochs != 20 {
		t.Errorf("epochs = %d, want default 20", b.epochs)
	}
}

func TestHighlight(t *testing.T) {
	text := "weather in paris today"
	got := highlight(text, []tagger.Entity{{Text: "paris", Type: "city", Start: 11, End: 16}})
	if !strings.HasPrefix(got, "weather in ") || !strings.HasSuffix(got, " today") {
		t.Errorf("highlight = %q", got)
	}
	if !strings.Contains(got, "paris") || !strings.Contains(got, "/city") {
		t.Errorf("highlight = %q misses the entity", got)
	}
	if got := highlight(text, nil); got != text {
		t.Errorf("highlight without entities = %q", got)
	}
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("  first query \n\nsecond\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"first query", "second"}) {
		t.Errorf("lines = %v", lines)
	}
	if _, err := readLines(strings.NewReader("\n \n")); err == nil {
		t.Error("expected error for empty input")
	}
}

func writeData(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"queries/weather.txt": "weather in {paris|city}\nrain in {rome|city} on {monday|date}\n",
		"gazetteers/city.txt": "paris\nrome\n",
	}
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDataStats(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir)
	var buf bytes.Buffer
	if err := dataStats(&buf, dir); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Queries: 2", "Tokens: 8", "city", "date", "Gazetteers:"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output misses %q:\n%s", want, out)
		}
	}
}

func TestDataPackUnpack(t *testing.T) {
	for _, ext := range []string{".tar.gz", ".tar.zst"} {
		t.Run(ext, func(t *testing.T) {
			src := t.TempDir()
			writeData(t, src)
			archive := filepath.Join(t.TempDir(), "data"+ext)
			if err := dataPack(src, archive); err != nil {
				t.Fatal(err)
			}
			dst := filepath.Join(t.TempDir(), "restored")
			if err := dataUnpack(archive, dst); err != nil {
				t.Fatal(err)
			}
			got, err := os.ReadFile(filepath.Join(dst, "queries", "weather.txt"))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(got), "{paris|city}") {
				t.Errorf("restored file = %q", got)
			}
		})
	}

	if err := dataPack(t.TempDir(), filepath.Join(t.TempDir(), "data.zip")); err == nil {
		t.Error("expected error for unsupported archive")
	}
}
