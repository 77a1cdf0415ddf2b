package vram

import (
	"bytes"
	"encoding/binary"

	"github.com/worldland/linkbench/internal/domain"
)

const (
	wordSize  = 4
	blockSize = 64 << 10

	checkerEven = 0x55555555
	checkerOdd  = 0xAAAAAAAA
)

// Generator produces the 32-bit little-endian words of a pattern. Words are a pure
// function of (seed, descriptor, logical word index), so any region can be
// regenerated for verification.
type Generator struct {
	desc domain.PatternDescriptor
	key  uint64
}

// NewGenerator creates a generator for desc. The random pattern's stream is keyed by
// seed and desc.Iteration.
func NewGenerator(desc domain.PatternDescriptor, seed uint64) Generator {
	return Generator{desc: desc, key: splitmix64(seed ^ uint64(desc.Iteration))}
}

// Word returns the pattern word at logical word index i
func (g Generator) Word(i uint64) uint32 {
	switch g.desc.Kind {
	case domain.PatternAllZeros:
		return 0
	case domain.PatternAllOnes:
		return 0xFFFFFFFF
	case domain.PatternCheckerboard:
		if i%2 == 0 {
			return checkerEven
		}
		return checkerOdd
	case domain.PatternInverseCheckerboard:
		if i%2 == 0 {
			return checkerOdd
		}
		return checkerEven
	case domain.PatternAddress:
		return uint32(i * wordSize)
	case domain.PatternRandom:
		return uint32(splitmix64(g.key + i))
	case domain.PatternMarchingOnes:
		return 1 << ((i + uint64(g.desc.Iteration)) % 32)
	case domain.PatternMarchingZeros:
		return ^uint32(1 << ((i + uint64(g.desc.Iteration)) % 32))
	default:
		return 0
	}
}

// Fill writes the pattern into dst, whose first byte sits at logical byte offset
// base. base must be a multiple of 4.
func (g Generator) Fill(dst []byte, base uint64) {
	first := base / wordSize
	n := len(dst) / wordSize
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*wordSize:], g.Word(first+uint64(i)))
	}
	if tail := len(dst) % wordSize; tail > 0 {
		var w [wordSize]byte
		binary.LittleEndian.PutUint32(w[:], g.Word(first+uint64(n)))
		copy(dst[n*wordSize:], w[:tail])
	}
}

// Mismatch is one differing word
type Mismatch struct {
	Offset   uint64 // logical byte offset of the word
	Expected uint32
	Actual   uint32
}

// Verify compares actual, located at logical byte offset base, against a freshly
// regenerated pattern and calls fn for every differing word in offset order.
// It returns the number of mismatching words.
func (g Generator) Verify(actual []byte, base uint64, fn func(Mismatch)) uint64 {
	expected := make([]byte, min(blockSize, len(actual)))
	var count uint64

	for off := 0; off < len(actual); off += blockSize {
		end := min(off+blockSize, len(actual))
		got := actual[off:end]
		want := expected[:end-off]
		g.Fill(want, base+uint64(off))
		if bytes.Equal(got, want) {
			continue
		}

		for w := 0; w < len(got); w += wordSize {
			we := min(w+wordSize, len(got))
			if bytes.Equal(got[w:we], want[w:we]) {
				continue
			}
			count++
			if fn != nil {
				fn(Mismatch{
					Offset:   base + uint64(off+w),
					Expected: partialWord(want[w:we]),
					Actual:   partialWord(got[w:we]),
				})
			}
		}
	}
	return count
}

func partialWord(b []byte) uint32 {
	var w [wordSize]byte
	copy(w[:], b)
	return binary.LittleEndian.Uint32(w[:])
}

// splitmix64 is the SplitMix64 finalizer over a Weyl-sequence step
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
