package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// MaxPool2d takes the maximum over k x k windows with no padding.
type MaxPool2d struct {
	K, Stride int
}

func NewMaxPool2d(k, stride int) *MaxPool2d {
	if k <= 0 || stride <= 0 {
		panic(fmt.Sprintf("nn: invalid max pool k=%d stride=%d", k, stride))
	}
	return &MaxPool2d{K: k, Stride: stride}
}

func (p *MaxPool2d) OutShape(in tensor.Shape) tensor.Shape {
	n, c, h, w := mustNCHW("maxpool", in)
	oh := convOutDim(h, p.K, p.Stride, 0)
	ow := convOutDim(w, p.K, p.Stride, 0)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("nn: maxpool %dx%d stride %d collapses %dx%d input", p.K, p.K, p.Stride, h, w))
	}
	return tensor.Shape{n, c, oh, ow}
}

func (p *MaxPool2d) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	in := x.Shape()
	n, c, h, w := mustNCHW("maxpool", in)
	outShape := p.OutShape(in)
	oh, ow := outShape[2], outShape[3]

	out := NewTensor(outShape...)
	src := data32(x)
	dst := data32(out)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			sBase := (b*c + ch) * h * w
			dBase := (b*c + ch) * oh * ow
			for y := 0; y < oh; y++ {
				for xo := 0; xo < ow; xo++ {
					ih0 := y * p.Stride
					iw0 := xo * p.Stride
					best := src[sBase+ih0*w+iw0]
					for kh := 0; kh < p.K; kh++ {
						row := sBase + (ih0+kh)*w
						for kw := 0; kw < p.K; kw++ {
							if v := src[row+iw0+kw]; v > best {
								best = v
							}
						}
					}
					dst[dBase+y*ow+xo] = best
				}
			}
		}
	}
	return out
}

// AvgPool2dSame averages over k x k windows with stride 1 and same padding,
// counting only in-bounds elements. This is the pooling used inside the
// Inception branches, so the spatial size is always preserved.
type AvgPool2dSame struct {
	K int
}

func NewAvgPool2dSame(k int) *AvgPool2dSame {
	if k <= 0 {
		panic(fmt.Sprintf("nn: invalid avg pool k=%d", k))
	}
	return &AvgPool2dSame{K: k}
}

func (p *AvgPool2dSame) OutShape(in tensor.Shape) tensor.Shape {
	mustNCHW("avgpool", in)
	return in
}

func (p *AvgPool2dSame) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	in := x.Shape()
	n, c, h, w := mustNCHW("avgpool", in)
	pad := (p.K - 1) / 2

	out := NewTensor(in...)
	src := data32(x)
	dst := data32(out)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * h * w
			for y := 0; y < h; y++ {
				for xo := 0; xo < w; xo++ {
					var sum float32
					var cnt int
					for kh := 0; kh < p.K; kh++ {
						ih := y - pad + kh
						if ih < 0 || ih >= h {
							continue
						}
						row := base + ih*w
						for kw := 0; kw < p.K; kw++ {
							iw := xo - pad + kw
							if iw < 0 || iw >= w {
								continue
							}
							sum += src[row+iw]
							cnt++
						}
					}
					dst[base+y*w+xo] = sum / float32(cnt)
				}
			}
		}
	}
	return out
}

// GlobalAvgPool reduces NCHW to NxC by averaging each spatial plane.
type GlobalAvgPool struct{}

func (GlobalAvgPool) OutShape(in tensor.Shape) tensor.Shape {
	n, c, _, _ := mustNCHW("global avg pool", in)
	return tensor.Shape{n, c}
}

func (g GlobalAvgPool) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	in := x.Shape()
	n, c, h, w := mustNCHW("global avg pool", in)
	out := NewTensor(n, c)
	src := data32(x)
	dst := data32(out)
	plane := h * w
	inv := 1 / float32(plane)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * plane
			var sum float32
			for i := 0; i < plane; i++ {
				sum += src[base+i]
			}
			dst[b*c+ch] = sum * inv
		}
	}
	return out
}
