// Package randstream derives independent, reproducible random sub-streams
// from a single seed.
//
// A stream is addressed by (stage, iteration, subject, chain) and its state
// depends on nothing else, so draws do not change with the order or the
// goroutine in which streams are consumed.
package randstream

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// Stage separates the phases of a run that consume randomness.
type Stage uint16

const (
	// Init seeds the first chain states.
	Init Stage = iota + 1
	// MCMC drives the per-iteration kernels.
	MCMC
	// Importance drives the importance sampler.
	Importance
	// Simulation drives cohort simulation.
	Simulation
)

// Key addresses one sub-stream.
type Key struct {
	Stage     Stage
	Iteration int
	Subject   int
	Chain     int
}

// Source derives sub-streams from Seed.
type Source struct {
	Seed uint64
}

// New returns the Source rooted at seed.
func New(seed uint64) Source {
	return Source{Seed: seed}
}

// Stream returns a generator for k. Equal keys give equal sequences.
func (s Source) Stream(k Key) *rand.Rand {
	return rand.New(s.PCG(k))
}

// PCG returns the bare source of k, for APIs that take a rand.Source.
func (s Source) PCG(k Key) *rand.PCG {
	hi, lo := s.words(k)
	return rand.NewPCG(hi, lo)
}

func (s Source) words(k Key) (uint64, uint64) {
	var buf [35]byte
	binary.LittleEndian.PutUint64(buf[0:], s.Seed)
	binary.LittleEndian.PutUint16(buf[8:], uint16(k.Stage))
	binary.LittleEndian.PutUint64(buf[10:], uint64(k.Iteration))
	binary.LittleEndian.PutUint64(buf[18:], uint64(k.Subject))
	binary.LittleEndian.PutUint64(buf[26:], uint64(k.Chain))

	buf[34] = 0
	hi := xxhash.Sum64(buf[:])
	buf[34] = 1
	lo := xxhash.Sum64(buf[:])
	return hi, lo
}
