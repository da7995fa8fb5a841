package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// ConcatChannels joins tensors along the channel axis. Every input must
// agree on batch and spatial dimensions; only channel counts may differ.
func ConcatChannels(xs ...*tensor.Dense) *tensor.Dense {
	if len(xs) == 0 {
		panic("nn: concat of zero tensors")
	}
	first := xs[0].Shape()
	n, _, h, w := mustNCHW("concat", first)
	totalC := 0
	for _, x := range xs {
		s := x.Shape()
		bn, c, bh, bw := mustNCHW("concat", s)
		if bn != n || bh != h || bw != w {
			panic(fmt.Sprintf("nn: concat branch shape %v incompatible with %v", s, first))
		}
		totalC += c
	}

	out := NewTensor(n, totalC, h, w)
	dst := data32(out)
	plane := h * w

	cOff := 0
	for _, x := range xs {
		c := x.Shape()[1]
		src := data32(x)
		for b := 0; b < n; b++ {
			from := b * c * plane
			to := (b*totalC + cOff) * plane
			copy(dst[to:to+c*plane], src[from:from+c*plane])
		}
		cOff += c
	}
	return out
}

// ConcatOutShape computes the channel-concatenated shape of branch outputs
// without running them.
func ConcatOutShape(shapes ...tensor.Shape) tensor.Shape {
	if len(shapes) == 0 {
		panic("nn: concat of zero shapes")
	}
	n, _, h, w := mustNCHW("concat", shapes[0])
	totalC := 0
	for _, s := range shapes {
		bn, c, bh, bw := mustNCHW("concat", s)
		if bn != n || bh != h || bw != w {
			panic(fmt.Sprintf("nn: concat branch shape %v incompatible with %v", s, shapes[0]))
		}
		totalC += c
	}
	return tensor.Shape{n, totalC, h, w}
}
