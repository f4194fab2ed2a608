// Package matrix implements the dense row-major matrix used for network
// weights, biases and activations.
package matrix

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidShape  = errors.New("invalid matrix shape")
	ErrShapeMismatch = errors.New("matrix shape mismatch")
)

// Range bounds the uniform draws used by Randomize.
type Range struct {
	Low  float64
	High float64
}

// DefaultRange is the initial weight spread, U*1.4 - 1.
var DefaultRange = Range{Low: -1, High: 0.4}

// Matrix is a rows x cols buffer of float64 values. len(data) == rows*cols
// holds for the lifetime of the value.
type Matrix struct {
	rows int
	cols int
	data []float64
}

// New returns a zero-filled matrix.
func New(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidShape, rows, cols)
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}, nil
}

// Random returns a matrix filled by Randomize.
func Random(rows, cols int, rng *rand.Rand, r Range) (*Matrix, error) {
	m, err := New(rows, cols)
	if err != nil {
		return nil, err
	}
	if err := m.Randomize(rng, r); err != nil {
		return nil, err
	}
	return m, nil
}

// FromSlice builds a column matrix of shape (len(values), 1).
func FromSlice(values []float64) (*Matrix, error) {
	m, err := New(len(values), 1)
	if err != nil {
		return nil, err
	}
	copy(m.data, values)
	return m, nil
}

// FromRows builds a matrix from equally sized rows.
func FromRows(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidShape)
	}
	m, err := New(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != m.cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidShape, i, len(row), m.cols)
		}
		copy(m.data[i*m.cols:], row)
	}
	return m, nil
}

func (m *Matrix) Rows() int { return m.rows }

func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) Len() int { return len(m.data) }

func (m *Matrix) At(row, col int) float64 {
	return m.data[row*m.cols+col]
}

func (m *Matrix) Set(row, col int, value float64) {
	m.data[row*m.cols+col] = value
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	return append([]float64(nil), m.data[i*m.cols:(i+1)*m.cols]...)
}

// SameShape reports whether both matrices have identical dimensions.
func (m *Matrix) SameShape(other *Matrix) bool {
	return other != nil && m.rows == other.rows && m.cols == other.cols
}

// Randomize fills the buffer in place with independent uniform draws in
// [r.Low, r.High).
func (m *Matrix) Randomize(rng *rand.Rand, r Range) error {
	if rng == nil {
		return fmt.Errorf("random source is required")
	}
	if r.High < r.Low {
		return fmt.Errorf("invalid random range [%f, %f)", r.Low, r.High)
	}
	spread := r.High - r.Low
	for i := range m.data {
		m.data[i] = r.Low + rng.Float64()*spread
	}
	return nil
}

// Map applies fn to every element in place.
func (m *Matrix) Map(fn func(float64) float64) {
	for i, v := range m.data {
		m.data[i] = fn(v)
	}
}

// AddMatrix adds other elementwise in place. On mismatch neither operand is
// touched.
func (m *Matrix) AddMatrix(other *Matrix) error {
	if !m.SameShape(other) {
		return fmt.Errorf("%w: add %s to %s", ErrShapeMismatch, other.shape(), m.shape())
	}
	floats.Add(m.data, other.data)
	return nil
}

// AddScalar adds value to every element in place.
func (m *Matrix) AddScalar(value float64) {
	floats.AddConst(value, m.data)
}

// Multiply returns the matrix product a·b with shape (a.rows, b.cols).
func Multiply(a, b *Matrix) (*Matrix, error) {
	if a == nil || b == nil || a.cols != b.rows {
		return nil, fmt.Errorf("%w: multiply %s by %s", ErrShapeMismatch, a.shape(), b.shape())
	}
	var product mat.Dense
	product.Mul(a.dense(), b.dense())
	raw := product.RawMatrix()
	out := &Matrix{rows: a.rows, cols: b.cols, data: make([]float64, a.rows*b.cols)}
	for i := 0; i < raw.Rows; i++ {
		copy(out.data[i*out.cols:(i+1)*out.cols], raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols])
	}
	return out, nil
}

// CopyRows overwrites rows [from, to) with the same rows of src.
func (m *Matrix) CopyRows(src *Matrix, from, to int) error {
	if !m.SameShape(src) {
		return fmt.Errorf("%w: copy rows from %s into %s", ErrShapeMismatch, src.shape(), m.shape())
	}
	if from < 0 || to > m.rows || from > to {
		return fmt.Errorf("row range [%d, %d) out of bounds for %d rows", from, to, m.rows)
	}
	copy(m.data[from*m.cols:to*m.cols], src.data[from*m.cols:to*m.cols])
	return nil
}

// ToSlice flattens the matrix in row-major order.
func (m *Matrix) ToSlice() []float64 {
	return append([]float64(nil), m.data...)
}

// ToRows returns a copy of the matrix as nested rows.
func (m *Matrix) ToRows() [][]float64 {
	out := make([][]float64, m.rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Copy returns an independent deep clone.
func (m *Matrix) Copy() *Matrix {
	return &Matrix{rows: m.rows, cols: m.cols, data: m.ToSlice()}
}

// Equal reports bit-for-bit equality of shape and contents.
func (m *Matrix) Equal(other *Matrix) bool {
	if !m.SameShape(other) {
		return false
	}
	for i, v := range m.data {
		if other.data[i] != v {
			return false
		}
	}
	return true
}

func (m *Matrix) String() string {
	return fmt.Sprintf("matrix%s%v", m.shape(), m.ToRows())
}

func (m *Matrix) dense() *mat.Dense {
	return mat.NewDense(m.rows, m.cols, m.data)
}

func (m *Matrix) shape() string {
	if m == nil {
		return "(nil)"
	}
	return fmt.Sprintf("(%dx%d)", m.rows, m.cols)
}
