package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Activation is an element-wise non-linearity.
type Activation int

const (
	GELU Activation = iota
	ReLU
	Tanh
	SiLU
)

var activationNames = map[string]Activation{
	"gelu": GELU,
	"relu": ReLU,
	"tanh": Tanh,
	"silu": SiLU,
}

// ParseActivation maps a config name to an Activation.
func ParseActivation(name string) (Activation, error) {
	a, ok := activationNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown activation %q (want gelu, relu, tanh or silu)", name)
	}
	return a, nil
}

func (a Activation) String() string {
	for name, v := range activationNames {
		if v == a {
			return name
		}
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// Apply runs the activation over x in place.
func (a Activation) Apply(x *mat.Dense) {
	var fn func(float64) float64
	switch a {
	case ReLU:
		fn = func(v float64) float64 { return math.Max(v, 0) }
	case Tanh:
		fn = math.Tanh
	case SiLU:
		fn = func(v float64) float64 { return v / (1 + math.Exp(-v)) }
	default:
		fn = gelu
	}
	x.Apply(func(_, _ int, v float64) float64 { return fn(v) }, x)
}

// gelu is the tanh approximation of the Gaussian Error Linear Unit.
func gelu(x float64) float64 {
	return 0.5 * x * (1.0 + math.Tanh(math.Sqrt(2.0/math.Pi)*(x+0.044715*x*x*x)))
}
