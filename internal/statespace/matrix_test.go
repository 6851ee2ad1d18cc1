package statespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKeyDeterministicAndInjective(t *testing.T) {
	d := DefaultDimensions()

	a := d.BuildKey(3.1, 12, 91, 0.2, 20.9, 47)
	b := d.BuildKey(3.9, 11.8, 89, 0, 21.1, 53)
	assert.Equal(t, a, b)
	assert.Equal(t, a.String(), b.String())

	seen := map[string]StateKey{}
	for _, temp := range []float64{-20, -2, 0, 2} {
		for _, wind := range []float64{0, 5} {
			for _, dir := range []float64{0, 45, 360} {
				for _, rain := range []float64{0, 1} {
					for _, target := range []float64{20, 20.5, 21} {
						for _, demand := range []float64{0, 10, 100} {
							k := d.BuildKey(temp, wind, dir, rain, target, demand)
							prev, dup := seen[k.String()]
							require.False(t, dup, "key %s produced by %v and %v", k, prev, k)
							seen[k.String()] = k
						}
					}
				}
			}
		}
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	d := DefaultDimensions()
	k := d.BuildKey(-14, 35, 270, 1, 21.5, 60)

	got, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, got)
	assert.Equal(t, -14.0, got.Temp())
	assert.Equal(t, 35.0, got.Wind())
	assert.Equal(t, 270.0, got.WindDir())
	assert.Equal(t, 1.0, got.Rain())
	assert.Equal(t, 21.5, got.Target())
	assert.Equal(t, 60.0, got.Demand())

	_, err = ParseKey("1_2_3")
	assert.Error(t, err)
	_, err = ParseKey("1_2_3_x_5_6")
	assert.Error(t, err)
}

func TestMatrixUpdate(t *testing.T) {
	m := NewMatrix(DefaultDimensions())
	k := m.dims.BuildKey(0, 0, 0, 0, 20, 50)

	assert.Equal(t, 30.0, m.Update(k, 30))
	v, ok := m.Get(k)
	require.True(t, ok)
	assert.Equal(t, 30.0, v)

	assert.InDelta(t, 0.8*30+0.2*50, m.Update(k, 50), 1e-12)
	assert.Equal(t, 1, m.Len())
}

func TestMatrixInterpolate(t *testing.T) {
	d := DefaultDimensions()

	t.Run("empty matrix falls back", func(t *testing.T) {
		m := NewMatrix(d)
		assert.Equal(t, FallbackFlow, m.Interpolate(0, 0, 0, 0, 20))
	})

	t.Run("exact key wins", func(t *testing.T) {
		m := NewMatrix(d)
		m.Update(d.BuildKey(0, 0, 0, 0, 20, 0), 33.25)
		m.Update(d.BuildKey(2, 0, 0, 0, 20, 40), 60)
		assert.Equal(t, 33.25, m.Interpolate(0.4, 1, 10, 0, 20.1))
	})

	t.Run("neighbours averaged regardless of demand", func(t *testing.T) {
		m := NewMatrix(d)
		m.Update(d.BuildKey(2, 0, 0, 0, 20, 30), 30)
		m.Update(d.BuildKey(-2, 5, 45, 1, 19.5, 90), 50)
		m.Update(d.BuildKey(4, 0, 0, 0, 20, 30), 1000) // two steps away on temp
		assert.InDelta(t, 40.0, m.Interpolate(0, 0, 0, 0, 20), 1e-12)
	})

	t.Run("nothing within one step falls back", func(t *testing.T) {
		m := NewMatrix(d)
		m.Update(d.BuildKey(10, 0, 0, 0, 20, 30), 70)
		m.Update(d.BuildKey(0, 20, 0, 0, 20, 30), 70)
		m.Update(d.BuildKey(0, 0, 180, 0, 20, 30), 70)
		m.Update(d.BuildKey(0, 0, 0, 0, 25, 30), 70)
		assert.Equal(t, FallbackFlow, m.Interpolate(0, 0, 0, 0, 20))
	})

	t.Run("query outside range is clamped", func(t *testing.T) {
		m := NewMatrix(d)
		m.Update(d.BuildKey(-20, 0, 0, 0, 20, 30), 65)
		assert.Equal(t, 65.0, m.Interpolate(-45, -3, -10, 0, 20))
	})
}

func TestMatrixPersistRoundTrip(t *testing.T) {
	d := DefaultDimensions()
	m := NewMatrix(d)
	m.Update(d.BuildKey(-3.3, 7, 100, 1, 21.2, 42), 41.123456789)
	m.Update(d.BuildKey(12, 55, 315, 0, 18, 0), 0.1+0.2)
	m.Update(d.BuildKey(12, 55, 315, 0, 18, 0), 1.0/3.0)

	data, err := m.MarshalJSON()
	require.NoError(t, err)

	loaded, err := LoadMatrix(d, data)
	require.NoError(t, err)
	require.Equal(t, m.Len(), loaded.Len())
	for _, k := range m.Keys() {
		want, _ := m.Get(k)
		got, ok := loaded.Get(k)
		require.True(t, ok, "missing %s", k)
		assert.Equal(t, want, got)
	}
}

func TestLoadMatrixMalformed(t *testing.T) {
	d := DefaultDimensions()

	m, err := LoadMatrix(d, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	m, err = LoadMatrix(d, []byte("{not json"))
	assert.Error(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())

	m, err = LoadMatrix(d, []byte(`{"0_0_0_0_20_0": 35, "garbage": 12}`))
	assert.Error(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 35.0, m.Interpolate(0, 0, 0, 0, 20))
}
