package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/happyhackingspace/tagger/features"
)

// Folder names inside the data folder.
const (
	QueriesDir    = "queries"
	GazetteersDir = "gazetteers"
	ConfigFile    = "config.json"
)

// Storage wraps the annotation data folder:
//
//	<folder>/config.json        optional entity type schema
//	<folder>/queries/*.txt      one annotated query per line
//	<folder>/gazetteers/*.txt   one gazetteer per entity type
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given data folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

// configJSON is the structure of config.json.
type configJSON struct {
	EntityTypes typeConfig `json:"entity_types"`
}

type typeConfig struct {
	Types       []typeEntry       `json:"types"`
	SkipValue   string            `json:"skip_value"`
	SimplifyMap map[string]string `json:"simplify_map"`
}

type typeEntry struct {
	Full  string `json:"full"`
	Short string `json:"short"`
}

// GetSchema reads the entity schema from config.json. A missing file gives
// an empty schema.
func (s *Storage) GetSchema() (*AnnotationSchema, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, ConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return buildSchema(typeConfig{}), nil
	}
	if err != nil {
		return nil, err
	}
	var config configJSON
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", ConfigFile, err)
	}
	return buildSchema(config.EntityTypes), nil
}

func buildSchema(tc typeConfig) *AnnotationSchema {
	types := make(map[string]string, len(tc.Types))
	typesInv := make(map[string]string, len(tc.Types))
	for _, t := range tc.Types {
		types[t.Full] = t.Short
		typesInv[t.Short] = t.Full
	}
	return &AnnotationSchema{
		Types:       types,
		TypesInv:    typesInv,
		SkipValue:   tc.SkipValue,
		SimplifyMap: tc.SimplifyMap,
	}
}

// QueryFiles lists the query files relative to the queries folder, sorted.
func (s *Storage) QueryFiles() ([]string, error) {
	root := filepath.Join(s.Folder, QueriesDir)
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".txt" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list queries: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// IterAnnotations reads every annotated query. Queries are ordered by file
// and line, and queries of one file share a group.
func (s *Storage) IterAnnotations(opts IterOptions) ([]QueryAnnotation, error) {
	schema, err := s.GetSchema()
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	files, err := s.QueryFiles()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var annotations []QueryAnnotation
	for group, file := range files {
		anns, err := s.readFile(file, group, schema, opts)
		if err != nil {
			return nil, err
		}
		for _, ann := range anns {
			if opts.DropDuplicates {
				key := strings.Join(ann.Tokens, " ") + "\x00" + strings.Join(ann.Tags, " ")
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			annotations = append(annotations, ann)
		}
	}
	if opts.Verbose {
		slog.Info("Annotations loaded", "files", len(files), "queries", len(annotations))
	}
	return annotations, nil
}

func (s *Storage) readFile(file string, group int, schema *AnnotationSchema, opts IterOptions) ([]QueryAnnotation, error) {
	f, err := os.Open(filepath.Join(s.Folder, QueriesDir, filepath.FromSlash(file)))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	defer f.Close()

	var out []QueryAnnotation
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		text, spans, err := ParseMarkup(raw)
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Cannot parse query", "file", file, "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("%s:%d: %w", file, line, err)
		}
		spans = applySchema(spans, schema, opts)
		tokens, tags := TagTokens(text, spans)
		if len(tokens) == 0 {
			continue
		}
		out = append(out, QueryAnnotation{
			Text:   text,
			Tokens: tokens,
			Tags:   tags,
			Spans:  spans,
			File:   file,
			Line:   line,
			Group:  group,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", file, err)
	}
	return out, nil
}

// applySchema maps entity types to their short names, simplifies them and
// drops skipped entities.
func applySchema(spans []Span, schema *AnnotationSchema, opts IterOptions) []Span {
	out := spans[:0]
	for _, sp := range spans {
		typ := sp.Type
		if short, ok := schema.Types[typ]; ok {
			typ = short
		}
		if opts.SimplifyTypes {
			if simplified, ok := schema.SimplifyMap[typ]; ok {
				typ = simplified
			}
		}
		if opts.DropSkipped && schema.SkipValue != "" && typ == schema.SkipValue {
			continue
		}
		sp.Type = features.TypeName(typ)
		out = append(out, sp)
	}
	return out
}

// Gazetteers loads the gazetteers folder. A missing folder gives none.
func (s *Storage) Gazetteers() (map[string]*features.Gazetteer, error) {
	return features.LoadGazetteers(filepath.Join(s.Folder, GazetteersDir))
}

// IterOptions controls annotation iteration behavior.
type IterOptions struct {
	DropDuplicates bool
	DropSkipped    bool
	SimplifyTypes  bool
	SkipInvalid    bool
	Verbose        bool
}

// DefaultIterOptions returns the default options for iterating annotations.
func DefaultIterOptions() IterOptions {
	return IterOptions{
		DropDuplicates: true,
		DropSkipped:    true,
		SimplifyTypes:  true,
	}
}

// GetGroup returns the group name of a query file, its path without the
// extension.
func GetGroup(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}
