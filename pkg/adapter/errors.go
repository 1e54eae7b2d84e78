package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid construction parameters: bad dimensions,
	// empty or duplicate injection layers, unknown layer names or
	// unusable encoder hyperparameters.
	ErrConfig = errors.New("adapter configuration error")

	// ErrShape marks a forward pass whose tensors disagree with the
	// adapter's expected shapes.
	ErrShape = errors.New("adapter shape error")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShape, fmt.Sprintf(format, args...))
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }

// IsShapeError reports whether err is a runtime shape error.
func IsShapeError(err error) bool { return errors.Is(err, ErrShape) }

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case IsShapeError(err):
		return "shape"
	case IsConfigError(err):
		return "config"
	default:
		return "base_model"
	}
}
