package nn

import (
	"fmt"
	"runtime"
	"sync"

	"gorgonia.org/tensor"
)

// PadMode selects the convolution padding policy.
type PadMode int

const (
	// PadValid applies no padding; the output shrinks per standard
	// convolution arithmetic.
	PadValid PadMode = iota
	// PadSame pads so the output spatial size is ceil(in/stride), with any
	// uneven deficit padded on the bottom/right.
	PadSame
	// PadExplicit pads symmetrically by a fixed amount.
	PadExplicit
)

// Padding couples a pad mode with its explicit amount.
type Padding struct {
	Mode   PadMode
	Amount int
}

var (
	Valid = Padding{Mode: PadValid}
	Same  = Padding{Mode: PadSame}
)

// Pad returns explicit symmetric padding of n pixels.
func Pad(n int) Padding {
	return Padding{Mode: PadExplicit, Amount: n}
}

// Conv2d is a 2-D convolution over NCHW tensors. Kernels may be asymmetric
// (e.g. 1x7). Bias is optional and left off when batch normalization
// follows.
type Conv2d struct {
	InC, OutC int
	KH, KW    int
	Stride    int
	Padding   Padding

	Weight *tensor.Dense // OutC x InC x KH x KW
	Bias   *tensor.Dense // OutC, nil when disabled
}

// NewConv2d allocates a convolution with zeroed weights; initialization is
// a separate explicit step (see XavierUniform).
func NewConv2d(inC, outC, kh, kw, stride int, pad Padding, withBias bool) *Conv2d {
	if inC <= 0 || outC <= 0 || kh <= 0 || kw <= 0 || stride <= 0 {
		panic(fmt.Sprintf("nn: invalid conv config in=%d out=%d k=%dx%d stride=%d", inC, outC, kh, kw, stride))
	}
	c := &Conv2d{
		InC: inC, OutC: outC,
		KH: kh, KW: kw,
		Stride:  stride,
		Padding: pad,
		Weight:  NewTensor(outC, inC, kh, kw),
	}
	if withBias {
		c.Bias = NewTensor(outC)
	}
	return c
}

// FanIn reports the per-output-unit input connectivity, used by Xavier
// initialization.
func (c *Conv2d) FanIn() int { return c.InC * c.KH * c.KW }

// FanOut reports the per-input-unit output connectivity.
func (c *Conv2d) FanOut() int { return c.OutC * c.KH * c.KW }

func (c *Conv2d) pads(inH, inW int) (top, left int) {
	switch c.Padding.Mode {
	case PadValid:
		return 0, 0
	case PadExplicit:
		return c.Padding.Amount, c.Padding.Amount
	case PadSame:
		top = samePadBefore(inH, c.KH, c.Stride)
		left = samePadBefore(inW, c.KW, c.Stride)
		return top, left
	}
	panic(fmt.Sprintf("nn: unknown pad mode %d", c.Padding.Mode))
}

func samePadBefore(in, k, stride int) int {
	out := (in + stride - 1) / stride
	total := (out-1)*stride + k - in
	if total < 0 {
		total = 0
	}
	return total / 2
}

func convOutDim(in, k, stride, padTotal int) int {
	return (in+padTotal-k)/stride + 1
}

func (c *Conv2d) OutShape(in tensor.Shape) tensor.Shape {
	n, ch, h, w := mustNCHW("conv", in)
	mustChannels("conv", ch, c.InC)
	var oh, ow int
	switch c.Padding.Mode {
	case PadValid:
		oh = convOutDim(h, c.KH, c.Stride, 0)
		ow = convOutDim(w, c.KW, c.Stride, 0)
	case PadExplicit:
		oh = convOutDim(h, c.KH, c.Stride, 2*c.Padding.Amount)
		ow = convOutDim(w, c.KW, c.Stride, 2*c.Padding.Amount)
	case PadSame:
		oh = (h + c.Stride - 1) / c.Stride
		ow = (w + c.Stride - 1) / c.Stride
	}
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("nn: conv %dx%d stride %d collapses %dx%d input", c.KH, c.KW, c.Stride, h, w))
	}
	return tensor.Shape{n, c.OutC, oh, ow}
}

func (c *Conv2d) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	in := x.Shape()
	n, _, h, w := mustNCHW("conv", in)
	outShape := c.OutShape(in)
	oh, ow := outShape[2], outShape[3]
	padT, padL := c.pads(h, w)

	out := NewTensor(outShape...)
	src := data32(x)
	dst := data32(out)
	wgt := data32(c.Weight)
	var bias []float32
	if c.Bias != nil {
		bias = data32(c.Bias)
	}

	for b := 0; b < n; b++ {
		b := b
		parallelFor(c.OutC, func(ocLo, ocHi int) {
			for oc := ocLo; oc < ocHi; oc++ {
				var b0 float32
				if bias != nil {
					b0 = bias[oc]
				}
				for y := 0; y < oh; y++ {
					ih0 := y*c.Stride - padT
					for xo := 0; xo < ow; xo++ {
						iw0 := xo*c.Stride - padL
						sum := b0
						for ic := 0; ic < c.InC; ic++ {
							wBase := ((oc*c.InC + ic) * c.KH) * c.KW
							sBase := ((b*c.InC + ic) * h) * w
							for kh := 0; kh < c.KH; kh++ {
								ih := ih0 + kh
								if ih < 0 || ih >= h {
									continue
								}
								wRow := wBase + kh*c.KW
								sRow := sBase + ih*w
								for kw := 0; kw < c.KW; kw++ {
									iw := iw0 + kw
									if iw < 0 || iw >= w {
										continue
									}
									sum += wgt[wRow+kw] * src[sRow+iw]
								}
							}
						}
						dst[((b*c.OutC+oc)*oh+y)*ow+xo] = sum
					}
				}
			}
		})
	}
	return out
}

func (c *Conv2d) Params(prefix string) []Param {
	params := []Param{{Name: prefix + ".weight", Data: c.Weight}}
	if c.Bias != nil {
		params = append(params, Param{Name: prefix + ".bias", Data: c.Bias})
	}
	return params
}

// parallelFor splits [0,n) into contiguous chunks, one per worker, and
// blocks until all complete.
func parallelFor(n int, f func(lo, hi int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		f(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			f(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
