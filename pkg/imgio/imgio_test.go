package imgio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dwislicealign/internal/models"
)

func TestVolumeRoundTrip(t *testing.T) {
	dir := t.TempDir()

	vol := models.NewVolume4D(3, 4, 2, 2)
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 0.5
	}
	path := filepath.Join(dir, "dwi.yaml")
	require.NoError(t, SaveVolume4D(path, vol))

	got, err := LoadVolume4D(path)
	require.NoError(t, err)
	assert.Equal(t, vol.Nx, got.Nx)
	assert.Equal(t, vol.Nv, got.Nv)
	// Stored as float32; values here are exactly representable.
	assert.Equal(t, vol.Data, got.Data)
}

func TestLoadMSSH(t *testing.T) {
	dir := t.TempDir()

	raw := make([]byte, 0)
	n := 2 * 2 * 2 * 1 * 2
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(i)
	}
	for _, v := range buf {
		raw = appendFloat32LE(raw, v)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mssh.f32"), raw, 0644))

	hdr := "dims: [2, 2, 2, 1, 2]\ndata: mssh.f32\nshells: [0, 1000]\n"
	path := filepath.Join(dir, "mssh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hdr), 0644))

	m, err := LoadMSSH(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Ncoef)
	assert.Equal(t, 2, m.Nshell)
	assert.Equal(t, []float64{0, 1000}, m.Shells)
	assert.Equal(t, 15.0, m.At(1, 1, 1, 0, 1))
}

func TestLoadMSSHRejectsWrongRank(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v.f32"), make([]byte, 4*8), 0644))
	hdr := "dims: [2, 2, 2]\ndata: v.f32\n"
	path := filepath.Join(dir, "v.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hdr), 0644))

	_, err := LoadMSSH(path)
	assert.ErrorContains(t, err, "5-D MSSH image expected")
}

func TestLoadMSSHRejectsShellMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.f32"), make([]byte, 4*16), 0644))
	hdr := "dims: [2, 2, 2, 1, 2]\ndata: m.f32\nshells: [0]\n"
	path := filepath.Join(dir, "m.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hdr), 0644))

	_, err := LoadMSSH(path)
	assert.Error(t, err)
}

func TestLoadMask(t *testing.T) {
	dir := t.TempDir()

	raw := make([]byte, 0)
	for _, v := range []float32{0, 1, 0.5, 0, 0, 2, 0, 1} {
		raw = appendFloat32LE(raw, v)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mask.f32"), raw, 0644))
	hdr := "dims: [2, 2, 2]\ndata: mask.f32\n"
	path := filepath.Join(dir, "mask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(hdr), 0644))

	m, err := LoadMask(path)
	require.NoError(t, err)
	assert.False(t, m.At(0, 0, 0))
	assert.True(t, m.At(1, 0, 0))
	assert.True(t, m.At(0, 1, 0))
	assert.True(t, m.At(1, 1, 1))
}

func TestLoadGradients(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grad.txt")
	content := "# x y z b\n0 0 0 0\n3 0 4 1000\n\n0, 1, 0, 2000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	g, err := LoadGradients(path)
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	// Directions come back normalized.
	assert.InDelta(t, 0.6, g.Rows[1].Dir[0], 1e-12)
	assert.InDelta(t, 0.8, g.Rows[1].Dir[2], 1e-12)
	assert.Equal(t, 1000.0, g.Rows[1].B)
	assert.Equal(t, 2000.0, g.Rows[2].B)
}

func TestMatrixRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motion.txt")

	m := mat.NewDense(2, 6, []float64{
		0.5, -1.25, 3, 0.0125, -0.5, 2,
		1, 2, 3, 4, 5, 6,
	})
	require.NoError(t, SaveMatrix(path, m))

	got, err := LoadMatrix(path)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(m, got, 1e-9))
}

func TestLoadMatrixRejectsRaggedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 2 3\n4 5\n"), 0644))

	_, err := LoadMatrix(path)
	assert.Error(t, err)
}

func appendFloat32LE(b []byte, v float32) []byte {
	bits := math.Float32bits(v)
	return append(b, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}
