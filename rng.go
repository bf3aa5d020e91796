package qnetsim

// rng.go holds the random stream each simulation run owns.  Two generators
// can sit behind a stream: a seeded PCG generator, which is reproducible from
// an integer seed and can be re-initialized, and a named L'Ecuyer MRG32k3a
// stream from rngstream, whose streams are statistically independent of one another.

import (
	"errors"
	"fmt"
	"math"

	"github.com/iti/rngstream"
	"golang.org/x/exp/rand"
)

// RngKind selects the generator behind a RandStream
type RngKind string

const (
	RngPCG     RngKind = "pcg"
	RngLEcuyer RngKind = "lecuyer"
)

// ErrBadMean is returned when an exponential variate is requested with a non-positive mean
var ErrBadMean = errors.New("exponential mean must be positive")

// u01Source is satisfied by *rngstream.RngStream directly, and by pcgSource
type u01Source interface {
	RandU01() float64
}

// pcgSource adapts the x/exp PCG generator to the u01Source interface
type pcgSource struct {
	*rand.Rand
}

func (ps pcgSource) RandU01() float64 {
	return ps.Float64()
}

// RandStream produces uniform and exponential variates for one run
type RandStream struct {
	Name string
	kind RngKind
	seed uint64
	pcg  *rand.Rand
	src  u01Source
}

// CreateRandStream is a constructor for a seeded PCG stream
func CreateRandStream(seed uint64) *RandStream {
	rs := new(RandStream)
	rs.Name = fmt.Sprintf("pcg-%d", seed)
	rs.kind = RngPCG
	rs.pcg = rand.New(rand.NewSource(seed))
	rs.src = pcgSource{rs.pcg}
	rs.seed = seed
	return rs
}

// CreateNamedRandStream is a constructor for an L'Ecuyer stream.  Streams are
// handed out by the rngstream package in creation order, so a program that
// creates its streams in a fixed order sees the same variates on every execution.
func CreateNamedRandStream(name string) *RandStream {
	rs := new(RandStream)
	rs.Name = name
	rs.kind = RngLEcuyer
	rs.src = rngstream.New(name)
	return rs
}

// Kind reports which generator is behind the stream
func (rs *RandStream) Kind() RngKind {
	return rs.kind
}

// Seed returns the seed the stream was last initialized with (zero for L'Ecuyer streams)
func (rs *RandStream) Seed() uint64 {
	return rs.seed
}

// Initialize resets the stream to the state determined by seed.  An L'Ecuyer
// stream is replaced by a PCG stream, since rngstream streams are not seeded by integer.
func (rs *RandStream) Initialize(seed uint64) {
	if rs.pcg == nil {
		rs.pcg = rand.New(rand.NewSource(seed))
		rs.src = pcgSource{rs.pcg}
		rs.kind = RngPCG
	} else {
		rs.pcg.Seed(seed)
	}
	rs.seed = seed
}

// Uniform returns a variate in [0,1)
func (rs *RandStream) Uniform() float64 {
	u01 := rs.src.RandU01()

	// rngstream returns values in (0,1); guard the upper bound for both generators
	if u01 >= 1.0 {
		u01 = math.Nextafter(1.0, 0.0)
	}
	return u01
}

// Exponential returns a variate with the given mean, by inverse transform of a uniform
func (rs *RandStream) Exponential(mean float64) (float64, error) {
	if !(mean > 0.0) {
		return 0.0, fmt.Errorf("%w: %g", ErrBadMean, mean)
	}
	return -mean * math.Log(1.0-rs.Uniform()), nil
}

// Pick returns an index drawn uniformly from [0,n)
func (rs *RandStream) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	idx := int(rs.Uniform() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}
