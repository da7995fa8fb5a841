// Package zoo holds the model catalog: named convolutional architectures
// built from the nn layer library, plus checkpoint load/save for their
// parameters.
package zoo

import (
	"fmt"
	"sort"

	"gorgonia.org/tensor"

	"visionzoo/internal/nn"
)

// Model is a constructed network ready for forward passes.
type Model interface {
	Name() string
	NumClasses() int
	InChannels() int
	OutShape(in tensor.Shape) tensor.Shape
	Forward(x *tensor.Dense, train bool) *tensor.Dense
	Params() []nn.Param
}

// Options are the construction parameters shared by every zoo model.
type Options struct {
	InChannels int
	NumClasses int
	DropRate   float64
	Seed       int64
}

// Option overrides a single construction parameter.
type Option func(*Options)

func WithInChannels(c int) Option   { return func(o *Options) { o.InChannels = c } }
func WithNumClasses(n int) Option   { return func(o *Options) { o.NumClasses = n } }
func WithDropRate(r float64) Option { return func(o *Options) { o.DropRate = r } }
func WithSeed(s int64) Option       { return func(o *Options) { o.Seed = s } }

func defaultOptions() Options {
	return Options{InChannels: 3, NumClasses: 1000, DropRate: 0.2, Seed: 1}
}

// Builder constructs a model from resolved options.
type Builder func(Options) Model

var builders = map[string]Builder{}

// Register makes a model constructor available by name. Called from init
// funcs; duplicate names are a programming error.
func Register(name string, b Builder) {
	if _, ok := builders[name]; ok {
		panic(fmt.Sprintf("zoo: model %q registered twice", name))
	}
	builders[name] = b
}

// Build instantiates a registered model by name.
func Build(name string, opts ...Option) (Model, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("zoo: unknown model %q (registered: %v)", name, Names())
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.InChannels <= 0 {
		return nil, fmt.Errorf("zoo: in channels must be > 0 (got %d)", o.InChannels)
	}
	if o.NumClasses <= 0 {
		return nil, fmt.Errorf("zoo: num classes must be > 0 (got %d)", o.NumClasses)
	}
	if o.DropRate < 0 || o.DropRate >= 1 {
		return nil, fmt.Errorf("zoo: drop rate must be in [0,1) (got %g)", o.DropRate)
	}
	return b(o), nil
}

// Names lists the registered models in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamCount sums the elements of every parameter tensor.
func ParamCount(m Model) int {
	total := 0
	for _, p := range m.Params() {
		total += p.Data.Shape().TotalSize()
	}
	return total
}
