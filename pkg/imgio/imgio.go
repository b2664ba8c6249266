// Package imgio loads and saves the on-disk formats of the
// dwislicealign tool: volumes stored as little-endian float32 raw data
// next to a YAML sidecar header, gradient tables and motion matrices as
// whitespace-delimited text.
package imgio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"dwislicealign/internal/models"
)

// header is the YAML sidecar describing a raw volume file.
type header struct {
	// Dims lists the array dimensions, x first: 3 entries for a mask,
	// 4 for a DWI series, 5 for an MSSH prediction
	// (x, y, z, coefficient, shell).
	Dims []int `yaml:"dims"`

	// Data is the raw float32 file, relative to the header's directory.
	Data string `yaml:"data"`

	// Shells carries the per-shell b-values of an MSSH prediction.
	Shells []float64 `yaml:"shells,omitempty"`
}

func loadHeader(path string) (header, []float64, error) {
	var h header
	raw, err := os.ReadFile(path)
	if err != nil {
		return h, nil, fmt.Errorf("reading volume header: %w", err)
	}
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return h, nil, fmt.Errorf("parsing volume header %s: %w", path, err)
	}
	if h.Data == "" {
		return h, nil, fmt.Errorf("volume header %s has no data file", path)
	}

	n := 1
	for _, d := range h.Dims {
		if d <= 0 {
			return h, nil, fmt.Errorf("volume header %s has non-positive dimension %d", path, d)
		}
		n *= d
	}

	f, err := os.Open(filepath.Join(filepath.Dir(path), h.Data))
	if err != nil {
		return h, nil, fmt.Errorf("opening volume data: %w", err)
	}
	defer f.Close()

	buf := make([]float32, n)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, buf); err != nil {
		return h, nil, fmt.Errorf("reading %d samples from %s: %w", n, h.Data, err)
	}
	data := make([]float64, n)
	for i, v := range buf {
		data[i] = float64(v)
	}
	return h, data, nil
}

func saveRaw(path string, data []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	buf := make([]float32, len(data))
	for i, v := range data {
		buf[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return err
	}
	return w.Flush()
}

// LoadVolume4D reads a 4-D DWI series.
func LoadVolume4D(path string) (*models.Volume4D, error) {
	h, data, err := loadHeader(path)
	if err != nil {
		return nil, err
	}
	if len(h.Dims) != 4 {
		return nil, fmt.Errorf("%s: expected 4-D volume, got %d dimensions", path, len(h.Dims))
	}
	return &models.Volume4D{
		Data: data,
		Nx:   h.Dims[0], Ny: h.Dims[1], Nz: h.Dims[2], Nv: h.Dims[3],
	}, nil
}

// SaveVolume4D writes a 4-D series as raw data plus sidecar header.
func SaveVolume4D(path string, vol *models.Volume4D) error {
	dataFile := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".f32"
	if err := saveRaw(filepath.Join(filepath.Dir(path), dataFile), vol.Data); err != nil {
		return fmt.Errorf("writing volume data: %w", err)
	}
	h := header{Dims: []int{vol.Nx, vol.Ny, vol.Nz, vol.Nv}, Data: dataFile}
	out, err := yaml.Marshal(&h)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// LoadMSSH reads a 5-D multi-shell spherical harmonic prediction. The
// header must carry one b-value per shell in its shells list.
func LoadMSSH(path string) (*models.MSSH, error) {
	h, data, err := loadHeader(path)
	if err != nil {
		return nil, err
	}
	if len(h.Dims) != 5 {
		return nil, fmt.Errorf("%s: 5-D MSSH image expected, got %d dimensions", path, len(h.Dims))
	}
	m := &models.MSSH{
		Data: data,
		Nx:   h.Dims[0], Ny: h.Dims[1], Nz: h.Dims[2],
		Ncoef:  h.Dims[3],
		Nshell: h.Dims[4],
		Shells: h.Shells,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadMask reads a 3-D mask; any non-zero sample is inside the mask.
func LoadMask(path string) (*models.Mask, error) {
	h, data, err := loadHeader(path)
	if err != nil {
		return nil, err
	}
	if len(h.Dims) != 3 {
		return nil, fmt.Errorf("%s: expected 3-D mask, got %d dimensions", path, len(h.Dims))
	}
	m := models.NewMask(h.Dims[0], h.Dims[1], h.Dims[2])
	for i, v := range data {
		m.Data[i] = v != 0
	}
	return m, nil
}

// LoadGradients reads a gradient table: one "x y z b" row per DWI
// volume. Blank lines and #-comments are skipped.
func LoadGradients(path string) (*models.GradientTable, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	table := make([][4]float64, len(rows))
	for i, r := range rows {
		if len(r) != 4 {
			return nil, fmt.Errorf("%s: gradient row %d has %d columns, want 4", path, i, len(r))
		}
		copy(table[i][:], r)
	}
	return models.NewGradientTable(table), nil
}

// LoadMatrix reads a whitespace-delimited text matrix. All rows must
// have the same column count.
func LoadMatrix(path string) (*mat.Dense, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty matrix", path)
	}
	cols := len(rows[0])
	m := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", path, i, len(r), cols)
		}
		m.SetRow(i, r)
	}
	return m, nil
}

// SaveMatrix writes a matrix as text, one row per line.
func SaveMatrix(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				if _, err := w.WriteString(" "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%.10g", m.At(i, j)); err != nil {
				return err
			}
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func loadRows(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for j, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSuffix(field, ","), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: parsing %q: %w", path, field, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
