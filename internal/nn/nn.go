// Package nn provides the forward-pass building blocks used by the model
// zoo: convolution, batch normalization, pooling, dense and dropout layers
// over NCHW float32 tensors. Layers never mutate their input tensor; shape
// violations panic, since they indicate a miswired architecture rather than
// a recoverable runtime condition.
package nn

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Layer is a transformation from one NCHW tensor to another. The train flag
// is consulted only by layers whose behavior differs between training and
// inference (dropout, batch normalization).
type Layer interface {
	OutShape(in tensor.Shape) tensor.Shape
	Forward(x *tensor.Dense, train bool) *tensor.Dense
}

// Param is a named parameter tensor belonging to a layer.
type Param struct {
	Name string
	Data *tensor.Dense
}

// ParamSource is implemented by layers that hold parameters. Names are
// formed by appending to prefix, so nested containers produce stable
// dotted paths.
type ParamSource interface {
	Params(prefix string) []Param
}

// Visitor is implemented by containers so that a model can walk its
// statically declared layers, e.g. to initialize every convolution.
type Visitor interface {
	Visit(f func(Layer))
}

// Sequential applies its layers in order.
type Sequential struct {
	layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	if len(layers) == 0 {
		panic("nn: sequential requires at least one layer")
	}
	return &Sequential{layers: layers}
}

func (s *Sequential) OutShape(in tensor.Shape) tensor.Shape {
	for _, l := range s.layers {
		in = l.OutShape(in)
	}
	return in
}

func (s *Sequential) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	for _, l := range s.layers {
		x = l.Forward(x, train)
	}
	return x
}

func (s *Sequential) Params(prefix string) []Param {
	var params []Param
	for i, l := range s.layers {
		if ps, ok := l.(ParamSource); ok {
			params = append(params, ps.Params(fmt.Sprintf("%s.%d", prefix, i))...)
		}
	}
	return params
}

func (s *Sequential) Visit(f func(Layer)) {
	for _, l := range s.layers {
		f(l)
		if v, ok := l.(Visitor); ok {
			v.Visit(f)
		}
	}
}

// NewTensor allocates a zeroed float32 tensor of the given shape.
func NewTensor(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
}

func data32(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

func mustNCHW(op string, s tensor.Shape) (n, c, h, w int) {
	if len(s) != 4 {
		panic(fmt.Sprintf("nn: %s expects NCHW input, got shape %v", op, s))
	}
	return s[0], s[1], s[2], s[3]
}

func mustChannels(op string, got, want int) {
	if got != want {
		panic(fmt.Sprintf("nn: %s configured for %d input channels, got %d", op, want, got))
	}
}
