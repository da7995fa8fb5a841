package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Linear is a fully connected layer over NxIn tensors.
type Linear struct {
	In, Out int

	Weight *tensor.Dense // Out x In
	Bias   *tensor.Dense // Out
}

func NewLinear(in, out int) *Linear {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("nn: invalid linear config in=%d out=%d", in, out))
	}
	return &Linear{
		In: in, Out: out,
		Weight: NewTensor(out, in),
		Bias:   NewTensor(out),
	}
}

func (l *Linear) OutShape(in tensor.Shape) tensor.Shape {
	if len(in) != 2 {
		panic(fmt.Sprintf("nn: linear expects NxF input, got shape %v", in))
	}
	mustChannels("linear", in[1], l.In)
	return tensor.Shape{in[0], l.Out}
}

func (l *Linear) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	in := x.Shape()
	outShape := l.OutShape(in)
	n := in[0]

	out := NewTensor(outShape...)
	src := data32(x)
	dst := data32(out)
	wgt := data32(l.Weight)
	bias := data32(l.Bias)

	for b := 0; b < n; b++ {
		row := src[b*l.In : (b+1)*l.In]
		parallelFor(l.Out, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				sum := bias[o]
				wRow := wgt[o*l.In : (o+1)*l.In]
				for i, v := range row {
					sum += wRow[i] * v
				}
				dst[b*l.Out+o] = sum
			}
		})
	}
	return out
}

func (l *Linear) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Data: l.Weight},
		{Name: prefix + ".bias", Data: l.Bias},
	}
}
