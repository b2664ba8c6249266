package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwislicealign/internal/models"
	"dwislicealign/pkg/rigid"
	"dwislicealign/pkg/ssp"
)

func constantMSSH(nx, ny, nz int, value float64, shells []float64) *models.MSSH {
	m := models.NewMSSH(nx, ny, nz, 1, shells)
	// An isotropic coefficient of value*sqrt(4pi) predicts `value` in
	// every direction.
	c := value * math.Sqrt(4*math.Pi)
	for s := range shells {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					m.Set(x, y, z, 0, s, c)
				}
			}
		}
	}
	return m
}

func TestPredictConstantField(t *testing.T) {
	mssh := constantMSSH(8, 8, 8, 2.5, []float64{0})
	p, err := NewPredictor(mssh, nil, ssp.Default())
	require.NoError(t, err)

	out := make([]float64, 8*8)
	valid := make([]bool, 8*8)
	basis := make([]float64, p.NumCoef())

	// A small in-bounds shift must not change a constant prediction.
	tr := rigid.NewTransform(rigid.Params{0.3, -0.2, 0.1, 0, 0, 0.05}, p.Centre())
	p.PredictSlices(tr, [3]float64{0, 0, 1}, 0, []int{4}, out, valid, basis)

	// Voxels near the far edge may map outside the model domain and
	// drop out; everything that stays in bounds must be constant.
	nvalid := 0
	for i := range out {
		if valid[i] {
			nvalid++
			assert.InDelta(t, 2.5, out[i], 1e-10)
		}
	}
	assert.Greater(t, nvalid, 6*6)
}

func TestPredictOutOfBoundsExcluded(t *testing.T) {
	mssh := constantMSSH(8, 8, 8, 1.0, []float64{0})
	p, err := NewPredictor(mssh, nil, ssp.Default())
	require.NoError(t, err)

	out := make([]float64, 8*8)
	valid := make([]bool, 8*8)
	basis := make([]float64, p.NumCoef())

	// A shift far beyond the model domain invalidates every voxel.
	tr := rigid.NewTransform(rigid.Params{100, 0, 0, 0, 0, 0}, p.Centre())
	p.PredictSlices(tr, [3]float64{0, 0, 1}, 0, []int{4}, out, valid, basis)

	for i := range valid {
		assert.False(t, valid[i])
		assert.Zero(t, out[i])
	}
}

func TestPredictEdgeNormalization(t *testing.T) {
	// At the first slice some SSP taps map below z=0. They must be
	// excluded from normalization, so a constant field stays constant
	// instead of dimming at the edge.
	mssh := constantMSSH(8, 8, 4, 3.0, []float64{0})
	kernel, err := ssp.New(2.0)
	require.NoError(t, err)
	p, err := NewPredictor(mssh, nil, kernel)
	require.NoError(t, err)

	out := make([]float64, 8*8)
	valid := make([]bool, 8*8)
	basis := make([]float64, p.NumCoef())

	tr := rigid.NewTransform(rigid.Params{}, p.Centre())
	p.PredictSlices(tr, [3]float64{0, 0, 1}, 0, []int{0}, out, valid, basis)

	for i := range out {
		require.True(t, valid[i])
		assert.InDelta(t, 3.0, out[i], 1e-10)
	}
}

func TestPredictRespectsMask(t *testing.T) {
	mssh := constantMSSH(8, 8, 8, 1.0, []float64{0})
	mask := models.NewMask(8, 8, 8)
	for i := range mask.Data {
		mask.Data[i] = true
	}
	mask.Data[0] = false // voxel (0,0,0)

	p, err := NewPredictor(mssh, mask, ssp.Default())
	require.NoError(t, err)

	out := make([]float64, 8*8)
	valid := make([]bool, 8*8)
	basis := make([]float64, p.NumCoef())

	tr := rigid.NewTransform(rigid.Params{}, p.Centre())
	p.PredictSlices(tr, [3]float64{0, 0, 1}, 0, []int{0}, out, valid, basis)

	assert.False(t, valid[0])
	assert.True(t, valid[1])
}

func TestShellOfNearestMatch(t *testing.T) {
	m := constantMSSH(4, 4, 4, 1.0, []float64{0, 1000, 3000})
	p, err := NewPredictor(m, nil, ssp.Default())
	require.NoError(t, err)

	assert.Equal(t, 0, p.ShellOf(0))
	assert.Equal(t, 0, p.ShellOf(350))
	assert.Equal(t, 1, p.ShellOf(1100))
	assert.Equal(t, 2, p.ShellOf(2800))
	// Equidistant b-values resolve to the lower shell index.
	assert.Equal(t, 1, p.ShellOf(2000))
}

func TestNewPredictorRejectsBadInputs(t *testing.T) {
	// Coefficient count that is not a valid even-order basis size.
	m := models.NewMSSH(4, 4, 4, 2, []float64{0})
	_, err := NewPredictor(m, nil, ssp.Default())
	assert.Error(t, err)

	// Mask grid mismatch.
	m = constantMSSH(4, 4, 4, 1.0, []float64{0})
	_, err = NewPredictor(m, models.NewMask(5, 4, 4), ssp.Default())
	assert.Error(t, err)

	// Shell metadata mismatch.
	bad := models.NewMSSH(4, 4, 4, 1, []float64{0})
	bad.Shells = nil
	_, err = NewPredictor(bad, nil, ssp.Default())
	assert.Error(t, err)
}
