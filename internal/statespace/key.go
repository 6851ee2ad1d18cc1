package statespace

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	numAxes = 6
	keySep  = "_"
)

// axis positions within a StateKey
const (
	axisTemp = iota
	axisWind
	axisWindDir
	axisRain
	axisTarget
	axisDemand
)

// StateKey identifies one cell of the state space. The values are grid points.
type StateKey [numAxes]float64

// BuildKey quantizes the six readings onto their axes.
func (d Dimensions) BuildKey(temp, wind, windDir, rain, target, demand float64) StateKey {
	return StateKey{
		d.Temp.Quantize(temp),
		d.Wind.Quantize(wind),
		d.WindDir.Quantize(windDir),
		d.Rain.Quantize(rain),
		d.Target.Quantize(target),
		d.Demand.Quantize(demand),
	}
}

func (k StateKey) Temp() float64    { return k[axisTemp] }
func (k StateKey) Wind() float64    { return k[axisWind] }
func (k StateKey) WindDir() float64 { return k[axisWindDir] }
func (k StateKey) Rain() float64    { return k[axisRain] }
func (k StateKey) Target() float64  { return k[axisTarget] }
func (k StateKey) Demand() float64  { return k[axisDemand] }

// String serialises the key. The shortest exact decimal form keeps it injective.
func (k StateKey) String() string {
	parts := make([]string, numAxes)
	for i, v := range k {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, keySep)
}

// ParseKey splits a serialised key back into its axis values.
func ParseKey(s string) (StateKey, error) {
	var k StateKey
	parts := strings.Split(s, keySep)
	if len(parts) != numAxes {
		return k, fmt.Errorf("state key %q: want %d parts, got %d", s, numAxes, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return k, fmt.Errorf("state key %q: axis %d: %w", s, i, err)
		}
		k[i] = v
	}
	return k, nil
}
