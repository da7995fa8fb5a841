package nn

import (
	"math"

	"gorgonia.org/tensor"
)

// BatchNorm2d normalizes each channel of an NCHW tensor. In train mode it
// uses batch statistics and updates the running estimates; in inference
// mode it uses the running estimates.
type BatchNorm2d struct {
	C        int
	Eps      float64
	Momentum float64

	Gamma *tensor.Dense
	Beta  *tensor.Dense
	Mean  *tensor.Dense
	Var   *tensor.Dense
}

// NewBatchNorm2d uses the defaults every convolution unit in this zoo
// shares: eps 0.001, momentum 0.9997.
func NewBatchNorm2d(channels int) *BatchNorm2d {
	bn := &BatchNorm2d{
		C:        channels,
		Eps:      0.001,
		Momentum: 0.9997,
		Gamma:    NewTensor(channels),
		Beta:     NewTensor(channels),
		Mean:     NewTensor(channels),
		Var:      NewTensor(channels),
	}
	gamma := data32(bn.Gamma)
	vars := data32(bn.Var)
	for i := 0; i < channels; i++ {
		gamma[i] = 1
		vars[i] = 1
	}
	return bn
}

func (bn *BatchNorm2d) OutShape(in tensor.Shape) tensor.Shape {
	_, c, _, _ := mustNCHW("batchnorm", in)
	mustChannels("batchnorm", c, bn.C)
	return in
}

func (bn *BatchNorm2d) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	shape := x.Shape()
	n, c, h, w := mustNCHW("batchnorm", shape)
	mustChannels("batchnorm", c, bn.C)

	out := NewTensor(shape...)
	src := data32(x)
	dst := data32(out)
	gamma := data32(bn.Gamma)
	beta := data32(bn.Beta)
	runMean := data32(bn.Mean)
	runVar := data32(bn.Var)

	plane := h * w
	count := n * plane

	parallelFor(c, func(lo, hi int) {
		for ch := lo; ch < hi; ch++ {
			mean := float64(runMean[ch])
			variance := float64(runVar[ch])
			if train {
				var sum, sqSum float64
				for b := 0; b < n; b++ {
					base := ((b*c + ch) * plane)
					for i := 0; i < plane; i++ {
						v := float64(src[base+i])
						sum += v
						sqSum += v * v
					}
				}
				mean = sum / float64(count)
				variance = sqSum/float64(count) - mean*mean
				if variance < 0 {
					variance = 0
				}
				m := bn.Momentum
				runMean[ch] = float32(m*float64(runMean[ch]) + (1-m)*mean)
				runVar[ch] = float32(m*float64(runVar[ch]) + (1-m)*variance)
			}
			scale := float32(float64(gamma[ch]) / math.Sqrt(variance+bn.Eps))
			shift := beta[ch] - scale*float32(mean)
			for b := 0; b < n; b++ {
				base := ((b*c + ch) * plane)
				for i := 0; i < plane; i++ {
					dst[base+i] = scale*src[base+i] + shift
				}
			}
		}
	})
	return out
}

func (bn *BatchNorm2d) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".gamma", Data: bn.Gamma},
		{Name: prefix + ".beta", Data: bn.Beta},
		{Name: prefix + ".moving_mean", Data: bn.Mean},
		{Name: prefix + ".moving_variance", Data: bn.Var},
	}
}
