package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/tagger"
)

var (
	cellStyle         = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var dataFolder string
	var cvFolds int
	var useCRF bool
	var rawParams map[string]string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate tagging accuracy via grouped cross-validation",
		Example: `  tagger evaluate --data-folder data --cv 5
  tagger evaluate --crf --cv 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			train := &tagger.TrainConfig{Model: tagger.KindLSTM, Params: params}
			if useCRF {
				train.Model = tagger.KindCRF
			}

			slog.Info("Evaluating", "model", train.Model, "folds", cvFolds, "data-folder", dataFolder)
			start := time.Now()
			result, err := tagger.Evaluate(dataFolder, &tagger.EvalConfig{
				Folds:   cvFolds,
				Train:   train,
				Verbose: c.verbose,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))
			printEvalResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to annotation data folder")
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	cmd.Flags().BoolVar(&useCRF, "crf", false, "Evaluate the CRF instead of the LSTM")
	cmd.Flags().StringToStringVar(&rawParams, "param", nil, "Model parameter as key=value, repeatable")
	return cmd
}

func printEvalResult(w io.Writer, result *tagger.EvalResult) {
	fmt.Fprintf(w, "Folds: %d\n", result.Folds)
	fmt.Fprintf(w, "Token accuracy: %.1f%% (%d/%d tokens)\n",
		result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
	fmt.Fprintf(w, "Sequence accuracy: %.1f%% (%d/%d queries)\n",
		result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)

	types := result.SortedTypes()
	if len(types) == 0 {
		return
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return cellStyle
			}
			return rightAlignedStyle
		}).
		Headers("type", "prec", "recall", "f1", "support")
	for _, typ := range types {
		s := result.Types[typ]
		table.Row(typ,
			fmt.Sprintf("%.1f%%", s.Precision()*100),
			fmt.Sprintf("%.1f%%", s.Recall()*100),
			fmt.Sprintf("%.1f%%", s.F1()*100),
			fmt.Sprintf("%d", s.TruePositives+s.FalseNegatives),
		)
	}
	fmt.Fprintln(w, table.Render())
}
