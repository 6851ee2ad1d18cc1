package statespace

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	// FallbackFlow is returned by Interpolate when nothing has been learned near the query.
	FallbackFlow = 40.0

	keepWeight    = 0.8
	observeWeight = 0.2

	// tolerance for the one-step neighbourhood test on float grid points
	stepEpsilon = 1e-9
)

// Matrix is a room's learned mapping from state cell to required flow.
// It is not safe for concurrent use; a control cycle owns it exclusively.
type Matrix struct {
	dims    Dimensions
	entries map[StateKey]float64
}

// NewMatrix returns an empty matrix on the given grid.
func NewMatrix(dims Dimensions) *Matrix {
	return &Matrix{dims: dims, entries: make(map[StateKey]float64)}
}

// Len returns the number of learned cells.
func (m *Matrix) Len() int { return len(m.entries) }

// Get returns the learned flow of a cell.
func (m *Matrix) Get(key StateKey) (float64, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Update records an observed flow for a cell. A new cell takes the observation
// as-is, a known cell moves a fifth of the way towards it.
func (m *Matrix) Update(key StateKey, observed float64) float64 {
	old, ok := m.entries[key]
	if !ok {
		m.entries[key] = observed
		return observed
	}
	v := keepWeight*old + observeWeight*observed
	m.entries[key] = v
	return v
}

// Interpolate estimates the flow required under the queried conditions. The
// demand axis is what is being estimated, so it takes its neutral value in the
// exact lookup and is ignored by the neighbourhood test.
func (m *Matrix) Interpolate(temp, wind, windDir, rain, target float64) float64 {
	q := m.dims.BuildKey(temp, wind, windDir, rain, target, 0)
	if v, ok := m.entries[q]; ok {
		return v
	}

	axes := m.dims.Axes()
	var sum float64
	var n int
	for k, v := range m.entries {
		if m.isNeighbour(axes, q, k) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return FallbackFlow
	}
	return sum / float64(n)
}

func (m *Matrix) isNeighbour(axes [numAxes]Axis, q, k StateKey) bool {
	for i := axisTemp; i <= axisTarget; i++ {
		if math.Abs(q[i]-k[i]) > axes[i].Step+stepEpsilon {
			return false
		}
	}
	return true
}

// MarshalJSON writes the matrix as an object of serialised key to flow.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(m.entries))
	for k, v := range m.entries {
		out[k.String()] = v
	}
	return json.Marshal(out)
}

// Keys returns the learned cells in serialised order.
func (m *Matrix) Keys() []StateKey {
	keys := make([]StateKey, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// LoadMatrix decodes a persisted matrix. An empty payload yields an empty matrix.
// Entries whose key does not parse, or whose value is not a finite number, are
// reported as an error together with the entries that did load.
func LoadMatrix(dims Dimensions, data []byte) (*Matrix, error) {
	m := NewMatrix(dims)
	if len(data) == 0 {
		return m, nil
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return m, fmt.Errorf("decode matrix: %w", err)
	}
	var bad int
	for s, v := range raw {
		k, err := ParseKey(s)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			bad++
			continue
		}
		m.entries[k] = v
	}
	if bad > 0 {
		return m, fmt.Errorf("decode matrix: %d malformed entries dropped", bad)
	}
	return m, nil
}
