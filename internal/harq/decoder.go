package harq

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Decoder decides whether the buffered copies of a transport block decode.
type Decoder interface {
	Name() string
	Decode(copies []Reception) bool
}

// Names of the registered decoders.
const (
	DecoderUniformRandom  = "uniform_random"
	DecoderChaseCombining = "chase_combining"
	DecoderAlways         = "always"
)

// DecoderOptions selects and parameterizes a decoder.
type DecoderOptions struct {
	Type       string
	InitialPER float64
	Rolloff    float64
	Seed       uint64
}

// DefaultDecoderOptions returns a uniform random decoder with 10% initial
// block error rate.
func DefaultDecoderOptions() DecoderOptions {
	return DecoderOptions{Type: DecoderUniformRandom, InitialPER: 0.1, Rolloff: 1}
}

// NewDecoder constructs a decoder.
func NewDecoder(opts DecoderOptions) (Decoder, error) {
	switch opts.Type {
	case DecoderUniformRandom, "":
		if opts.InitialPER < 0 || opts.InitialPER > 1 {
			return nil, fmt.Errorf("initial PER must be in [0,1], got %g", opts.InitialPER)
		}
		if opts.Rolloff <= 0 {
			return nil, fmt.Errorf("rolloff must be positive, got %g", opts.Rolloff)
		}
		return &UniformRandom{
			initialPER: opts.InitialPER,
			rolloff:    opts.Rolloff,
			rng:        rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		}, nil
	case DecoderChaseCombining:
		return ChaseCombining{}, nil
	case DecoderAlways:
		return Always{}, nil
	}
	return nil, fmt.Errorf("unknown harq decoder %q", opts.Type)
}

// UniformRandom fails with probability initialPER^(n*rolloff) after n
// received copies.
type UniformRandom struct {
	initialPER float64
	rolloff    float64
	rng        *rand.Rand
}

func (d *UniformRandom) Name() string { return DecoderUniformRandom }

func (d *UniformRandom) Decode(copies []Reception) bool {
	threshold := math.Pow(d.initialPER, float64(len(copies))*d.rolloff)
	return d.rng.Float64() >= threshold
}

// ChaseCombining sums the linear SINR of all copies and decodes when the sum
// reaches the threshold of the PHY mode used.
type ChaseCombining struct{}

func (ChaseCombining) Name() string { return DecoderChaseCombining }

func (ChaseCombining) Decode(copies []Reception) bool {
	if len(copies) == 0 {
		return false
	}
	sum := 0.0
	for _, c := range copies {
		sum += c.Burst.SINR
	}
	return sum >= copies[len(copies)-1].Burst.PhyMode.MinSINR
}

// Always decodes everything.
type Always struct{}

func (Always) Name() string                   { return DecoderAlways }
func (Always) Decode(copies []Reception) bool { return len(copies) > 0 }
