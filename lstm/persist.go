package lstm

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"

	"github.com/happyhackingspace/tagger/encoding"
	"github.com/happyhackingspace/tagger/features"
)

// Files written by Save under the model directory.
const (
	CheckpointDir = "checkpoint"
	EncodersFile  = "encoders.json"
	ParamsFile    = "params.json"
)

// Save writes the parameters, the frozen encoders and a checkpoint of the
// model variables under dir.
func (m *Model) Save(dir string) error {
	if m.ctx == nil || m.encoders == nil {
		return ErrNotTrained
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "lstm: save")
	}
	data, err := json.MarshalIndent(m.params, "", "  ")
	if err != nil {
		return errors.Wrap(err, "lstm: encode params")
	}
	if err := os.WriteFile(filepath.Join(dir, ParamsFile), data, 0644); err != nil {
		return errors.Wrap(err, "lstm: save params")
	}
	if err := encoding.SaveSet(m.encoders, filepath.Join(dir, EncodersFile)); err != nil {
		return errors.Wrap(err, "lstm: save encoders")
	}

	ckptDir := filepath.Join(dir, CheckpointDir)
	if err := os.RemoveAll(ckptDir); err != nil {
		return errors.Wrap(err, "lstm: clear checkpoint")
	}
	h, err := checkpoints.Build(m.ctx).Dir(ckptDir).Keep(1).Done()
	if err != nil {
		return errors.Wrap(err, "lstm: checkpoint")
	}
	return errors.Wrap(h.Save(), "lstm: save checkpoint")
}

// Load restores a model written by Save. The extractor must produce the same
// features the model was trained with.
func Load(dir string, extractor features.Extractor) (*Model, error) {
	data, err := os.ReadFile(filepath.Join(dir, ParamsFile))
	if err != nil {
		return nil, errors.Wrap(err, "lstm: load params")
	}
	params := DefaultParams()
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrap(err, "lstm: decode params")
	}
	set, err := encoding.LoadSet(filepath.Join(dir, EncodersFile))
	if err != nil {
		return nil, errors.Wrap(err, "lstm: load encoders")
	}

	m, err := New(params, features.Resources{}, extractor)
	if err != nil {
		return nil, err
	}
	m.types = set.Gaz.Types
	m.encoders = set
	if err := m.SetupModel(); err != nil {
		return nil, err
	}
	if _, err := checkpoints.Load(m.ctx).Dir(filepath.Join(dir, CheckpointDir)).Immediate().Done(); err != nil {
		return nil, errors.Wrap(err, "lstm: load checkpoint")
	}
	return m, nil
}
