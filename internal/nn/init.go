package nn

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// XavierUniform fills t with samples from U(-limit, limit) where
// limit = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(t *tensor.Dense, fanIn, fanOut int, rng *rand.Rand) {
	limit := float32(math.Sqrt(6 / float64(fanIn+fanOut)))
	dst := data32(t)
	for i := range dst {
		dst[i] = (rng.Float32()*2 - 1) * limit
	}
}

// LecunUniform fills t with samples from U(-limit, limit) where
// limit = 1/sqrt(fanIn). This is the default for layers whose
// initialization the architecture does not override.
func LecunUniform(t *tensor.Dense, fanIn int, rng *rand.Rand) {
	limit := float32(1 / math.Sqrt(float64(fanIn)))
	dst := data32(t)
	for i := range dst {
		dst[i] = (rng.Float32()*2 - 1) * limit
	}
}
