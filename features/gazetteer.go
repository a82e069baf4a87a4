package features

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/happyhackingspace/tagger/internal/textutil"
	"golang.org/x/sync/errgroup"
)

// Gazetteer is a lexicon of entity phrases of one type.
type Gazetteer struct {
	Type      string
	Entities  map[string]float64 // normalized phrase -> popularity
	MaxTokens int
}

// NewGazetteer creates an empty gazetteer. The type name is reduced to word
// characters so it can appear in gazetteer feature keys.
func NewGazetteer(entityType string) *Gazetteer {
	return &Gazetteer{
		Type:     TypeName(entityType),
		Entities: make(map[string]float64),
	}
}

var nonWordRe = regexp.MustCompile(`\W+`)

// TypeName maps an entity type to the form used in feature keys.
func TypeName(entityType string) string {
	return nonWordRe.ReplaceAllString(strings.TrimSpace(entityType), "_")
}

// Add inserts a phrase, keeping the highest popularity seen for it.
func (g *Gazetteer) Add(phrase string, popularity float64) {
	tokens := textutil.NormalizeTokens(textutil.Tokenize(phrase))
	if len(tokens) == 0 {
		return
	}
	key := strings.Join(tokens, " ")
	if old, ok := g.Entities[key]; !ok || popularity > old {
		g.Entities[key] = popularity
	}
	g.MaxTokens = max(g.MaxTokens, len(tokens))
}

// Lookup returns the popularity of a normalized phrase.
func (g *Gazetteer) Lookup(phrase string) (float64, bool) {
	pop, ok := g.Entities[phrase]
	return pop, ok
}

// ReadGazetteer parses one entity per line, optionally followed by a tab and
// a popularity score. Blank lines and lines starting with '#' are skipped.
func ReadGazetteer(entityType string, r io.Reader) (*Gazetteer, error) {
	g := NewGazetteer(entityType)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		phrase, popText, found := strings.Cut(text, "\t")
		pop := 1.0
		if found {
			v, err := strconv.ParseFloat(strings.TrimSpace(popText), 64)
			if err != nil {
				return nil, fmt.Errorf("gazetteer %s line %d: %w", entityType, line, err)
			}
			pop = v
		}
		g.Add(phrase, pop)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

// WriteTo writes the gazetteer in the format read by ReadGazetteer, phrases
// sorted.
func (g *Gazetteer) WriteTo(w io.Writer) (int64, error) {
	phrases := make([]string, 0, len(g.Entities))
	for p := range g.Entities {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)

	bw := bufio.NewWriter(w)
	var n int64
	for _, p := range phrases {
		m, err := fmt.Fprintf(bw, "%s\t%s\n", p, strconv.FormatFloat(g.Entities[p], 'g', -1, 64))
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// SaveGazetteers writes every gazetteer to dir/<type>.txt.
func SaveGazetteers(dir string, gazetteers map[string]*Gazetteer) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, g := range gazetteers {
		f, err := os.Create(filepath.Join(dir, g.Type+".txt"))
		if err != nil {
			return err
		}
		_, err = g.WriteTo(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("save gazetteer %s: %w", g.Type, err)
		}
	}
	return nil
}

// LoadGazetteer reads a gazetteer file named <type>.txt.
func LoadGazetteer(path string) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadGazetteer(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f)
}

// LoadGazetteers reads every *.txt file of dir concurrently.
// A missing directory yields no gazetteers.
func LoadGazetteers(dir string) (map[string]*Gazetteer, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]*Gazetteer, len(paths))
	var eg errgroup.Group
	eg.SetLimit(4)
	for _, p := range paths {
		eg.Go(func() error {
			g, err := LoadGazetteer(p)
			if err != nil {
				return fmt.Errorf("load gazetteer %s: %w", p, err)
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := out[g.Type]; dup {
				return fmt.Errorf("duplicate gazetteer type %q", g.Type)
			}
			out[g.Type] = g
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	slog.Debug("Gazetteers loaded", "dir", dir, "count", len(out))
	return out, nil
}

// Resources holds the gazetteers available to feature extraction.
type Resources struct {
	Gazetteers map[string]*Gazetteer
}

// GazTypes returns the gazetteer types in sorted order.
func (r Resources) GazTypes() []string {
	types := make([]string, 0, len(r.Gazetteers))
	for t := range r.Gazetteers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// GazDimension is the number of gazetteer types plus the "other" bucket.
func (r Resources) GazDimension() int {
	return len(r.Gazetteers) + 1
}
