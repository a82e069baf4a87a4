package lstm

import (
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph" //nolint
	"github.com/pkg/errors"
)

// ErrUntrainableBackend is returned by Fit when the backend cannot compute
// the gradients of the recurrent layer.
var ErrUntrainableBackend = errors.New("lstm: backend cannot train the model")

// CheckTrainable runs the gradient of a slice on backend. Every recurrent
// step slices its input, and the gradient of a slice is a pad: XLA has it,
// the pure Go backend does not.
func CheckTrainable(backend backends.Backend) error {
	exec, err := NewExec(backend, func(x *Node) *Node {
		return Gradient(ReduceAllSum(Slice(x, AxisElem(0))), x)[0]
	})
	if err != nil {
		return errors.Wrap(err, "lstm: build gradient check")
	}
	defer exec.Finalize()
	if _, err := exec.Exec([]float32{1, 2}); err != nil {
		return errors.Wrapf(ErrUntrainableBackend, "%s: %v", backend.Name(), err)
	}
	return nil
}

// DefaultBackend creates the backend selected by $GOMLX_BACKEND, or the
// first registered one.
func DefaultBackend() (backends.Backend, error) {
	backend, err := backends.New()
	if err != nil {
		return nil, errors.Wrap(err, "lstm: create backend")
	}
	return backend, nil
}
