package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout zeroes elements with probability Rate while Training is set and
// scales the survivors by 1/(1-Rate). It is the identity otherwise.
// A Dropout in training mode is not safe for concurrent use.
type Dropout struct {
	Rate     float64
	Training bool
	rng      *rand.Rand
}

// NewDropout creates a dropout layer in inference mode. A nil rng uses
// the global source.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// Children implements Module.
func (d *Dropout) Children() []Module { return nil }

// Forward applies dropout to x in place.
func (d *Dropout) Forward(x *mat.Dense) {
	if !d.Training || d.Rate <= 0 {
		return
	}
	draw := rand.Float64
	if d.rng != nil {
		draw = d.rng.Float64
	}
	scale := 1 / (1 - d.Rate)
	x.Apply(func(_, _ int, v float64) float64 {
		if draw() < d.Rate {
			return 0
		}
		return v * scale
	}, x)
}
