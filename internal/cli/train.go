package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/tagger"
	"github.com/happyhackingspace/tagger/lstm"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var dataFolder string
	var useCRF bool
	var epochs int
	var rawParams map[string]string

	cmd := &cobra.Command{
		Use:   "train <model-dir>",
		Short: "Train a tagger on annotated queries",
		Args:  cobra.ExactArgs(1),
		Example: `  tagger train model --data-folder data
  tagger train model --epochs 40 --param learning_rate=0.01 --param use_character_embeddings=true
  tagger train model --crf --param c1=0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelDir := args[0]
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			config := &tagger.TrainConfig{Model: tagger.KindLSTM, Params: params, Verbose: c.verbose}
			if useCRF {
				config.Model = tagger.KindCRF
			} else {
				if epochs > 0 {
					params["number_of_epochs"] = epochs
				}
				bar := newTrainBar(params, c.silent)
				config.OnBatch = bar.update
				defer bar.finish()
			}

			slog.Info("Training tagger", "model", config.Model, "data-folder", dataFolder, "output", modelDir)
			start := time.Now()
			r, err := tagger.Train(dataFolder, config)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			if err := r.Save(modelDir); err != nil {
				return err
			}
			slog.Info("Model saved", "path", modelDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to annotation data folder")
	cmd.Flags().BoolVar(&useCRF, "crf", false, "Train a CRF instead of the LSTM")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "Number of LSTM training epochs (default: model default)")
	cmd.Flags().StringToStringVar(&rawParams, "param", nil, "Model parameter as key=value, repeatable")
	return cmd
}

// parseParams decodes each value as JSON, falling back to the raw string.
func parseParams(raw map[string]string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "" {
			return nil, fmt.Errorf("empty parameter name")
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		params[k] = decoded
	}
	return params, nil
}

// trainBar renders LSTM training steps. The bar is created on the first step
// once the number of batches per epoch is known.
type trainBar struct {
	epochs int
	silent bool
	bar    *progressbar.ProgressBar
}

func newTrainBar(params map[string]any, silent bool) *trainBar {
	epochs := lstm.DefaultParams().NumberOfEpochs
	if p, err := lstm.DefaultParams().With(params); err == nil {
		epochs = p.NumberOfEpochs
	}
	return &trainBar{epochs: epochs, silent: silent}
}

func (b *trainBar) update(s lstm.BatchStats) {
	if b.silent {
		return
	}
	if b.bar == nil {
		b.bar = progressbar.NewOptions(b.epochs*s.Batches,
			progressbar.OptionSetDescription("Training"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("steps"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	desc := fmt.Sprintf("Epoch %d/%d loss=%.4f", s.Epoch+1, b.epochs, s.Loss)
	if s.Scored {
		desc += fmt.Sprintf(" acc=%.2f", s.Accuracy)
	}
	b.bar.Describe(desc)
	_ = b.bar.Add(1)
}

func (b *trainBar) finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
