package zoo

import (
	"math/rand"

	"gorgonia.org/tensor"

	"visionzoo/internal/nn"
)

// Inception-v4 (Szegedy et al., "Inception-v4, Inception-ResNet and the
// Impact of Residual Connections on Learning"). The network is a fixed
// composition: stem, 4x InceptionA, ReductionA, 7x InceptionB, ReductionB,
// 3x InceptionC, then global average pooling, dropout and a linear
// classifier over 1536 features. All channel constants below are
// load-bearing: every concatenation must land on the count the next block
// expects.

const inceptionV4Features = 1536

func init() {
	Register("inception_v4", func(o Options) Model { return NewInceptionV4(o) })
}

// BasicConv2d is the convolution unit every Inception block is built from:
// convolution (no bias), batch normalization, ReLU.
type BasicConv2d struct {
	Conv *nn.Conv2d
	BN   *nn.BatchNorm2d
}

func basicConv(inC, outC, kh, kw, stride int, pad nn.Padding) *BasicConv2d {
	return &BasicConv2d{
		Conv: nn.NewConv2d(inC, outC, kh, kw, stride, pad, false),
		BN:   nn.NewBatchNorm2d(outC),
	}
}

// conv1x1 is the pointwise reduction used at the head of most branches.
func conv1x1(inC, outC int) *BasicConv2d {
	return basicConv(inC, outC, 1, 1, 1, nn.Same)
}

func (b *BasicConv2d) OutShape(in tensor.Shape) tensor.Shape {
	return b.Conv.OutShape(in)
}

func (b *BasicConv2d) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	x = b.Conv.Forward(x, train)
	x = b.BN.Forward(x, train)
	return nn.ReLU{}.Forward(x, train)
}

func (b *BasicConv2d) Params(prefix string) []nn.Param {
	params := b.Conv.Params(prefix + ".conv")
	return append(params, b.BN.Params(prefix+".bn")...)
}

func (b *BasicConv2d) Visit(f func(nn.Layer)) {
	f(b.Conv)
	f(b.BN)
}

// Stem downsamples the raw image into the 384-channel 35x35 feature map the
// InceptionA stage consumes.
type Stem struct {
	conv1a *BasicConv2d
	conv2a *BasicConv2d
	conv2b *BasicConv2d

	mixed3aPool *nn.MaxPool2d
	mixed3aConv *BasicConv2d

	mixed4aBranch0 *nn.Sequential
	mixed4aBranch1 *nn.Sequential

	mixed5aConv *BasicConv2d
	mixed5aPool *nn.MaxPool2d
}

func NewStem(inChannels int) *Stem {
	return &Stem{
		conv1a: basicConv(inChannels, 32, 3, 3, 2, nn.Valid),
		conv2a: basicConv(32, 32, 3, 3, 1, nn.Valid),
		conv2b: basicConv(32, 64, 3, 3, 1, nn.Pad(1)),

		mixed3aPool: nn.NewMaxPool2d(3, 2),
		mixed3aConv: basicConv(64, 96, 3, 3, 2, nn.Valid),

		mixed4aBranch0: nn.NewSequential(
			conv1x1(160, 64),
			basicConv(64, 96, 3, 3, 1, nn.Valid),
		),
		mixed4aBranch1: nn.NewSequential(
			conv1x1(160, 64),
			basicConv(64, 64, 1, 7, 1, nn.Same),
			basicConv(64, 64, 7, 1, 1, nn.Same),
			basicConv(64, 96, 3, 3, 1, nn.Valid),
		),

		mixed5aConv: basicConv(192, 192, 3, 3, 2, nn.Valid),
		mixed5aPool: nn.NewMaxPool2d(3, 2),
	}
}

func (s *Stem) OutShape(in tensor.Shape) tensor.Shape {
	x := s.conv2b.OutShape(s.conv2a.OutShape(s.conv1a.OutShape(in)))
	x = nn.ConcatOutShape(s.mixed3aPool.OutShape(x), s.mixed3aConv.OutShape(x))
	x = nn.ConcatOutShape(s.mixed4aBranch0.OutShape(x), s.mixed4aBranch1.OutShape(x))
	return nn.ConcatOutShape(s.mixed5aConv.OutShape(x), s.mixed5aPool.OutShape(x))
}

func (s *Stem) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	x = s.conv1a.Forward(x, train) // 149x149x32
	x = s.conv2a.Forward(x, train) // 147x147x32
	x = s.conv2b.Forward(x, train) // 147x147x64

	x = nn.ConcatChannels( // 73x73x160
		s.mixed3aPool.Forward(x, train),
		s.mixed3aConv.Forward(x, train),
	)
	x = nn.ConcatChannels( // 71x71x192
		s.mixed4aBranch0.Forward(x, train),
		s.mixed4aBranch1.Forward(x, train),
	)
	return nn.ConcatChannels( // 35x35x384
		s.mixed5aConv.Forward(x, train),
		s.mixed5aPool.Forward(x, train),
	)
}

func (s *Stem) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, s.conv1a.Params(prefix+".conv1a")...)
	params = append(params, s.conv2a.Params(prefix+".conv2a")...)
	params = append(params, s.conv2b.Params(prefix+".conv2b")...)
	params = append(params, s.mixed3aConv.Params(prefix+".mixed3a")...)
	params = append(params, s.mixed4aBranch0.Params(prefix+".mixed4a_branch0")...)
	params = append(params, s.mixed4aBranch1.Params(prefix+".mixed4a_branch1")...)
	params = append(params, s.mixed5aConv.Params(prefix+".mixed5a")...)
	return params
}

func (s *Stem) Visit(f func(nn.Layer)) {
	for _, b := range []*BasicConv2d{s.conv1a, s.conv2a, s.conv2b, s.mixed3aConv, s.mixed5aConv} {
		b.Visit(f)
	}
	s.mixed4aBranch0.Visit(f)
	s.mixed4aBranch1.Visit(f)
}

// InceptionA is the channel-preserving block of the 35x35/384 stage.
type InceptionA struct {
	branch0 *BasicConv2d
	branch1 *nn.Sequential
	branch2 *nn.Sequential
	branch3 *nn.Sequential
}

func NewInceptionA() *InceptionA {
	return &InceptionA{
		branch0: conv1x1(384, 96),
		branch1: nn.NewSequential(
			conv1x1(384, 64),
			basicConv(64, 96, 3, 3, 1, nn.Pad(1)),
		),
		branch2: nn.NewSequential(
			conv1x1(384, 64),
			basicConv(64, 96, 3, 3, 1, nn.Pad(1)),
			basicConv(96, 96, 3, 3, 1, nn.Pad(1)),
		),
		branch3: nn.NewSequential(
			nn.NewAvgPool2dSame(3),
			conv1x1(384, 96),
		),
	}
}

func (a *InceptionA) OutShape(in tensor.Shape) tensor.Shape {
	return nn.ConcatOutShape(
		a.branch0.OutShape(in),
		a.branch1.OutShape(in),
		a.branch2.OutShape(in),
		a.branch3.OutShape(in),
	)
}

func (a *InceptionA) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	return nn.ConcatChannels(
		a.branch0.Forward(x, train),
		a.branch1.Forward(x, train),
		a.branch2.Forward(x, train),
		a.branch3.Forward(x, train),
	)
}

func (a *InceptionA) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, a.branch0.Params(prefix+".branch0")...)
	params = append(params, a.branch1.Params(prefix+".branch1")...)
	params = append(params, a.branch2.Params(prefix+".branch2")...)
	params = append(params, a.branch3.Params(prefix+".branch3")...)
	return params
}

func (a *InceptionA) Visit(f func(nn.Layer)) {
	a.branch0.Visit(f)
	a.branch1.Visit(f)
	a.branch2.Visit(f)
	a.branch3.Visit(f)
}

// ReductionA halves 35x35 to 17x17 and widens 384 to 1024 channels.
type ReductionA struct {
	branch0 *BasicConv2d
	branch1 *nn.Sequential
	pool    *nn.MaxPool2d
}

func NewReductionA() *ReductionA {
	return &ReductionA{
		branch0: basicConv(384, 384, 3, 3, 2, nn.Valid),
		branch1: nn.NewSequential(
			conv1x1(384, 192),
			basicConv(192, 224, 3, 3, 1, nn.Pad(1)),
			basicConv(224, 256, 3, 3, 2, nn.Valid),
		),
		pool: nn.NewMaxPool2d(3, 2),
	}
}

func (r *ReductionA) OutShape(in tensor.Shape) tensor.Shape {
	return nn.ConcatOutShape(
		r.branch0.OutShape(in),
		r.branch1.OutShape(in),
		r.pool.OutShape(in),
	)
}

func (r *ReductionA) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	return nn.ConcatChannels(
		r.branch0.Forward(x, train),
		r.branch1.Forward(x, train),
		r.pool.Forward(x, train),
	)
}

func (r *ReductionA) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, r.branch0.Params(prefix+".branch0")...)
	params = append(params, r.branch1.Params(prefix+".branch1")...)
	return params
}

func (r *ReductionA) Visit(f func(nn.Layer)) {
	r.branch0.Visit(f)
	r.branch1.Visit(f)
}

// InceptionB is the channel-preserving block of the 17x17/1024 stage, built
// around factorized 1x7/7x1 convolutions.
type InceptionB struct {
	branch0 *BasicConv2d
	branch1 *nn.Sequential
	branch2 *nn.Sequential
	branch3 *nn.Sequential
}

func NewInceptionB() *InceptionB {
	return &InceptionB{
		branch0: conv1x1(1024, 384),
		branch1: nn.NewSequential(
			conv1x1(1024, 192),
			basicConv(192, 224, 1, 7, 1, nn.Same),
			basicConv(224, 256, 7, 1, 1, nn.Same),
		),
		branch2: nn.NewSequential(
			conv1x1(1024, 192),
			basicConv(192, 192, 7, 1, 1, nn.Same),
			basicConv(192, 224, 1, 7, 1, nn.Same),
			basicConv(224, 224, 7, 1, 1, nn.Same),
			basicConv(224, 256, 1, 7, 1, nn.Same),
		),
		branch3: nn.NewSequential(
			nn.NewAvgPool2dSame(3),
			conv1x1(1024, 128),
		),
	}
}

func (b *InceptionB) OutShape(in tensor.Shape) tensor.Shape {
	return nn.ConcatOutShape(
		b.branch0.OutShape(in),
		b.branch1.OutShape(in),
		b.branch2.OutShape(in),
		b.branch3.OutShape(in),
	)
}

func (b *InceptionB) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	return nn.ConcatChannels(
		b.branch0.Forward(x, train),
		b.branch1.Forward(x, train),
		b.branch2.Forward(x, train),
		b.branch3.Forward(x, train),
	)
}

func (b *InceptionB) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, b.branch0.Params(prefix+".branch0")...)
	params = append(params, b.branch1.Params(prefix+".branch1")...)
	params = append(params, b.branch2.Params(prefix+".branch2")...)
	params = append(params, b.branch3.Params(prefix+".branch3")...)
	return params
}

func (b *InceptionB) Visit(f func(nn.Layer)) {
	b.branch0.Visit(f)
	b.branch1.Visit(f)
	b.branch2.Visit(f)
	b.branch3.Visit(f)
}

// ReductionB halves 17x17 to 8x8 and widens 1024 to 1536 channels.
type ReductionB struct {
	branch0 *nn.Sequential
	branch1 *nn.Sequential
	pool    *nn.MaxPool2d
}

func NewReductionB() *ReductionB {
	return &ReductionB{
		branch0: nn.NewSequential(
			conv1x1(1024, 192),
			basicConv(192, 192, 3, 3, 2, nn.Valid),
		),
		branch1: nn.NewSequential(
			conv1x1(1024, 256),
			basicConv(256, 256, 1, 7, 1, nn.Same),
			basicConv(256, 320, 7, 1, 1, nn.Same),
			basicConv(320, 320, 3, 3, 2, nn.Valid),
		),
		pool: nn.NewMaxPool2d(3, 2),
	}
}

func (r *ReductionB) OutShape(in tensor.Shape) tensor.Shape {
	return nn.ConcatOutShape(
		r.branch0.OutShape(in),
		r.branch1.OutShape(in),
		r.pool.OutShape(in),
	)
}

func (r *ReductionB) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	return nn.ConcatChannels(
		r.branch0.Forward(x, train),
		r.branch1.Forward(x, train),
		r.pool.Forward(x, train),
	)
}

func (r *ReductionB) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, r.branch0.Params(prefix+".branch0")...)
	params = append(params, r.branch1.Params(prefix+".branch1")...)
	return params
}

func (r *ReductionB) Visit(f func(nn.Layer)) {
	r.branch0.Visit(f)
	r.branch1.Visit(f)
}

// InceptionC is the channel-preserving block of the 8x8/1536 stage. Two of
// its branches bifurcate into a 1x3/3x1 pair whose outputs are concatenated
// before the final merge: 256 + (256+256) + (256+256) + 256 = 1536.
type InceptionC struct {
	branch0 *BasicConv2d

	branch1  *BasicConv2d
	branch1a *BasicConv2d
	branch1b *BasicConv2d

	branch2  *nn.Sequential
	branch2a *BasicConv2d
	branch2b *BasicConv2d

	branch3 *nn.Sequential
}

func NewInceptionC() *InceptionC {
	return &InceptionC{
		branch0: conv1x1(1536, 256),

		branch1:  conv1x1(1536, 384),
		branch1a: basicConv(384, 256, 1, 3, 1, nn.Same),
		branch1b: basicConv(384, 256, 3, 1, 1, nn.Same),

		branch2: nn.NewSequential(
			conv1x1(1536, 384),
			basicConv(384, 448, 3, 1, 1, nn.Same),
			basicConv(448, 512, 1, 3, 1, nn.Same),
		),
		branch2a: basicConv(512, 256, 1, 3, 1, nn.Same),
		branch2b: basicConv(512, 256, 3, 1, 1, nn.Same),

		branch3: nn.NewSequential(
			nn.NewAvgPool2dSame(3),
			conv1x1(1536, 256),
		),
	}
}

func (c *InceptionC) OutShape(in tensor.Shape) tensor.Shape {
	b1 := c.branch1.OutShape(in)
	b2 := c.branch2.OutShape(in)
	return nn.ConcatOutShape(
		c.branch0.OutShape(in),
		nn.ConcatOutShape(c.branch1a.OutShape(b1), c.branch1b.OutShape(b1)),
		nn.ConcatOutShape(c.branch2a.OutShape(b2), c.branch2b.OutShape(b2)),
		c.branch3.OutShape(in),
	)
}

func (c *InceptionC) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	b1 := c.branch1.Forward(x, train)
	b2 := c.branch2.Forward(x, train)
	return nn.ConcatChannels(
		c.branch0.Forward(x, train),
		nn.ConcatChannels(c.branch1a.Forward(b1, train), c.branch1b.Forward(b1, train)),
		nn.ConcatChannels(c.branch2a.Forward(b2, train), c.branch2b.Forward(b2, train)),
		c.branch3.Forward(x, train),
	)
}

func (c *InceptionC) Params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, c.branch0.Params(prefix+".branch0")...)
	params = append(params, c.branch1.Params(prefix+".branch1")...)
	params = append(params, c.branch1a.Params(prefix+".branch1a")...)
	params = append(params, c.branch1b.Params(prefix+".branch1b")...)
	params = append(params, c.branch2.Params(prefix+".branch2")...)
	params = append(params, c.branch2a.Params(prefix+".branch2a")...)
	params = append(params, c.branch2b.Params(prefix+".branch2b")...)
	params = append(params, c.branch3.Params(prefix+".branch3")...)
	return params
}

func (c *InceptionC) Visit(f func(nn.Layer)) {
	c.branch0.Visit(f)
	c.branch1.Visit(f)
	c.branch1a.Visit(f)
	c.branch1b.Visit(f)
	c.branch2.Visit(f)
	c.branch2a.Visit(f)
	c.branch2b.Visit(f)
	c.branch3.Visit(f)
}

// InceptionV4 assembles the full network.
type InceptionV4 struct {
	features   *nn.Sequential
	pool       nn.GlobalAvgPool
	dropout    *nn.Dropout
	classifier *nn.Linear

	inChannels int
	numClasses int
	dropRate   float64
}

// NewInceptionV4 builds and initializes the network: Xavier uniform on
// every convolution weight, framework defaults elsewhere.
func NewInceptionV4(o Options) *InceptionV4 {
	blocks := []nn.Layer{NewStem(o.InChannels)}
	for i := 0; i < 4; i++ {
		blocks = append(blocks, NewInceptionA())
	}
	blocks = append(blocks, NewReductionA())
	for i := 0; i < 7; i++ {
		blocks = append(blocks, NewInceptionB())
	}
	blocks = append(blocks, NewReductionB())
	for i := 0; i < 3; i++ {
		blocks = append(blocks, NewInceptionC())
	}

	m := &InceptionV4{
		features:   nn.NewSequential(blocks...),
		dropout:    nn.NewDropout(o.DropRate, o.Seed),
		classifier: nn.NewLinear(inceptionV4Features, o.NumClasses),
		inChannels: o.InChannels,
		numClasses: o.NumClasses,
		dropRate:   o.DropRate,
	}
	m.initWeights(rand.New(rand.NewSource(o.Seed)))
	return m
}

// initWeights walks the statically declared layer list; no reflection is
// involved, only the Visit chain each block implements.
func (m *InceptionV4) initWeights(rng *rand.Rand) {
	m.features.Visit(func(l nn.Layer) {
		if conv, ok := l.(*nn.Conv2d); ok {
			nn.XavierUniform(conv.Weight, conv.FanIn(), conv.FanOut(), rng)
		}
	})
	nn.LecunUniform(m.classifier.Weight, m.classifier.In, rng)
}

func (m *InceptionV4) Name() string    { return "inception_v4" }
func (m *InceptionV4) NumClasses() int { return m.numClasses }
func (m *InceptionV4) InChannels() int { return m.inChannels }

func (m *InceptionV4) OutShape(in tensor.Shape) tensor.Shape {
	f := m.features.OutShape(in)
	return m.classifier.OutShape(m.pool.OutShape(f))
}

// ForwardFeatures runs only the convolutional trunk, producing the
// Nx1536x8x8 feature map for a 299x299 input.
func (m *InceptionV4) ForwardFeatures(x *tensor.Dense, train bool) *tensor.Dense {
	return m.features.Forward(x, train)
}

func (m *InceptionV4) Forward(x *tensor.Dense, train bool) *tensor.Dense {
	f := m.ForwardFeatures(x, train)
	p := m.pool.Forward(f, train)
	p = m.dropout.Forward(p, train)
	return m.classifier.Forward(p, train)
}

func (m *InceptionV4) Params() []nn.Param {
	params := m.features.Params("features")
	return append(params, m.classifier.Params("classifier")...)
}
