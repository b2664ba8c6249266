// Package ssp models the slice sensitivity profile (SSP): the
// through-slice point spread function that describes how much signal a
// slice acquisition picks up from neighbouring slice positions. The
// profile is a short discrete kernel over integer slice offsets,
// normalized to unit sum, and is shared read-only by all registration
// workers.
package ssp

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// DefaultWidth is the default profile width: one voxel of slice
// thickness.
const DefaultWidth = 1.0

// fwhmToSigma converts a full width at half maximum to a Gaussian
// standard deviation.
const fwhmToSigma = 1.0 / 2.3548200450309493

// Below this width the Gaussian support collapses onto a single tap.
const deltaWidth = 1e-3

// SSP is an immutable through-slice weighting kernel with finite
// support [-Radius, Radius]. Weights sum to 1 and peak at offset 0.
type SSP struct {
	weights []float64 // index radius+offset
	radius  int
}

// New builds a Gaussian-like profile for a slice of the given full
// width at half maximum, in voxel units. A width of effectively zero
// degenerates to a single tap at offset 0 (no cross-slice blending).
func New(width float64) (*SSP, error) {
	if math.IsNaN(width) || math.IsInf(width, 0) || width <= 0 {
		return nil, fmt.Errorf("invalid SSP width %v: must be a positive finite scalar", width)
	}
	if width <= deltaWidth {
		return &SSP{weights: []float64{1}, radius: 0}, nil
	}
	sigma := width * fwhmToSigma
	radius := int(math.Ceil(2.5 * sigma))
	w := make([]float64, 2*radius+1)
	for k := -radius; k <= radius; k++ {
		w[radius+k] = math.Exp(-0.5 * float64(k) * float64(k) / (sigma * sigma))
	}
	s := &SSP{weights: w, radius: radius}
	s.normalize()
	return s, nil
}

// Default returns the profile for DefaultWidth.
func Default() *SSP {
	s, err := New(DefaultWidth)
	if err != nil {
		panic(err) // DefaultWidth is a valid constant
	}
	return s
}

// FromVector builds a profile from an explicit discrete weight vector.
// The vector must have odd positive length, contain only finite
// non-negative values with a positive sum, and peak at its centre tap.
func FromVector(w []float64) (*SSP, error) {
	if len(w) == 0 {
		return nil, fmt.Errorf("empty SSP weight vector")
	}
	if len(w)%2 == 0 {
		return nil, fmt.Errorf("SSP weight vector must have odd length, got %d", len(w))
	}
	radius := len(w) / 2
	sum := 0.0
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("invalid SSP weight %v at index %d", v, i)
		}
		if v > w[radius] {
			return nil, fmt.Errorf("SSP weight vector must peak at its centre tap")
		}
		sum += v
	}
	if sum <= 0 {
		return nil, fmt.Errorf("SSP weight vector sums to zero")
	}
	s := &SSP{weights: append([]float64(nil), w...), radius: radius}
	s.normalize()
	return s, nil
}

// Parse resolves an SSP command-line specification: first try to read
// it as a positive scalar width, then as a path to a whitespace or
// comma separated weight vector file. The variant is decided once here,
// never re-attempted per use.
func Parse(spec string) (*SSP, error) {
	if width, err := strconv.ParseFloat(strings.TrimSpace(spec), 64); err == nil {
		return New(width)
	}
	w, err := loadVector(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid SSP argument %q: not a positive scalar and not a loadable weight vector: %w", spec, err)
	}
	return FromVector(w)
}

// Radius is the profile's finite support radius in slices.
func (s *SSP) Radius() int { return s.radius }

// Weight returns the normalized weight at an integer slice offset from
// the target slice. Offsets outside the support weigh zero.
func (s *SSP) Weight(offset int) float64 {
	if offset < -s.radius || offset > s.radius {
		return 0
	}
	return s.weights[s.radius+offset]
}

func (s *SSP) normalize() {
	sum := 0.0
	for _, v := range s.weights {
		sum += v
	}
	for i := range s.weights {
		s.weights[i] /= sum
	}
}

func loadVector(path string) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(string(raw), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no values in %s", path)
	}
	w := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		w[i] = v
	}
	return w, nil
}
