package rigid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityTransform(t *testing.T) {
	tr := NewTransform(Params{}, [3]float64{4, 4, 4})

	x, y, z := tr.Point(1.5, -2, 7)
	assert.InDelta(t, 1.5, x, 1e-12)
	assert.InDelta(t, -2.0, y, 1e-12)
	assert.InDelta(t, 7.0, z, 1e-12)
}

func TestPureTranslation(t *testing.T) {
	tr := NewTransform(Params{1, -2, 0.5, 0, 0, 0}, [3]float64{10, 10, 10})

	x, y, z := tr.Point(3, 4, 5)
	assert.InDelta(t, 4.0, x, 1e-12)
	assert.InDelta(t, 2.0, y, 1e-12)
	assert.InDelta(t, 5.5, z, 1e-12)
}

func TestRotationAboutCentre(t *testing.T) {
	// Quarter turn about z, centred at the origin: x axis -> y axis.
	tr := NewTransform(Params{0, 0, 0, 0, 0, math.Pi / 2}, [3]float64{})

	x, y, z := tr.Point(1, 0, 0)
	assert.InDelta(t, 0.0, x, 1e-12)
	assert.InDelta(t, 1.0, y, 1e-12)
	assert.InDelta(t, 0.0, z, 1e-12)

	// The centre itself is a fixed point.
	tr = NewTransform(Params{0, 0, 0, 0.3, -0.2, 0.7}, [3]float64{5, 6, 7})
	x, y, z = tr.Point(5, 6, 7)
	assert.InDelta(t, 5.0, x, 1e-12)
	assert.InDelta(t, 6.0, y, 1e-12)
	assert.InDelta(t, 7.0, z, 1e-12)
}

func TestDirectionIgnoresTranslation(t *testing.T) {
	tr := NewTransform(Params{10, 20, 30, 0, 0, math.Pi / 2}, [3]float64{1, 2, 3})

	d := tr.Direction([3]float64{1, 0, 0})
	assert.InDelta(t, 0.0, d[0], 1e-12)
	assert.InDelta(t, 1.0, d[1], 1e-12)
	assert.InDelta(t, 0.0, d[2], 1e-12)
}

func TestRotationPreservesLength(t *testing.T) {
	tr := NewTransform(Params{0, 0, 0, 0.4, -0.8, 1.1}, [3]float64{})
	d := tr.Direction([3]float64{0.6, -0.8, 0})
	n := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	assert.InDelta(t, 1.0, n, 1e-12)
}

func TestParamsRoundTrip(t *testing.T) {
	p := Params{1, 2, 3, 4, 5, 6}
	assert.Equal(t, p, FromSlice(p.Slice()))
}
