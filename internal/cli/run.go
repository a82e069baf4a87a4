package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/tagger"
)

var (
	entityStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4"))
	typeStyle   = lipgloss.NewStyle().Faint(true)
)

func (c *CLI) newRunCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <model-dir> [query...]",
		Short: "Tag entities in queries given as arguments or on stdin",
		Args:  cobra.MinimumNArgs(1),
		Example: `  # Tag a query
  tagger run model "play thriller by michael jackson"

  # Tag one query per line from stdin
  cat queries.txt | tagger run model

  # JSON output
  tagger run model "weather in paris" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := args[1:]
			if len(queries) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				var err error
				queries, err = readLines(os.Stdin)
				if err != nil {
					return err
				}
			}

			start := time.Now()
			r, err := tagger.Load(args[0])
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "kind", r.Kind(), "duration", time.Since(start))

			start = time.Now()
			results, err := r.TagQueries(queries)
			if err != nil {
				return err
			}
			slog.Debug("Queries tagged", "queries", len(queries), "duration", time.Since(start))

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for i, q := range queries {
					if err := enc.Encode(struct {
						Query    string          `json:"query"`
						Entities []tagger.Entity `json:"entities"`
					}{q, results[i]}); err != nil {
						return err
					}
				}
				return nil
			}
			for i, q := range queries {
				fmt.Fprintln(out, highlight(q, results[i]))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per query")
	return cmd
}

// highlight renders text with every entity styled and followed by its type.
func highlight(text string, entities []tagger.Entity) string {
	var b strings.Builder
	pos := 0
	for _, e := range entities {
		if e.Start < pos {
			continue
		}
		b.WriteString(text[pos:e.Start])
		b.WriteString(entityStyle.Render(e.Text))
		b.WriteString(typeStyle.Render("/" + e.Type))
		pos = e.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// readLines returns the non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	slog.Debug("Reading from stdin")
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return lines, nil
}
