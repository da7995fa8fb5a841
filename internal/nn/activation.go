package nn

import (
	"math/rand"

	"gorgonia.org/tensor"
)

// ReLU is the rectified-linear activation.
type ReLU struct{}

func (ReLU) OutShape(in tensor.Shape) tensor.Shape { return in }

func (ReLU) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	out := NewTensor(x.Shape()...)
	src := data32(x)
	dst := data32(out)
	for i, v := range src {
		if v > 0 {
			dst[i] = v
		}
	}
	return out
}

// Dropout zeroes activations with probability Rate during training, scaling
// the survivors by 1/(1-Rate). In inference mode it is the identity.
type Dropout struct {
	Rate float64
	rng  *rand.Rand
}

func NewDropout(rate float64, seed int64) *Dropout {
	if rate < 0 || rate >= 1 {
		rate = 0
	}
	return &Dropout{Rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (d *Dropout) OutShape(in tensor.Shape) tensor.Shape { return in }

func (d *Dropout) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	if !train || d.Rate == 0 {
		return x
	}
	out := NewTensor(x.Shape()...)
	src := data32(x)
	dst := data32(out)
	scale := float32(1 / (1 - d.Rate))
	for i, v := range src {
		if d.rng.Float64() >= d.Rate {
			dst[i] = v * scale
		}
	}
	return out
}
