// Package statespace discretises environmental conditions into a six
// dimensional grid and keeps the per-room table of learned flow values.
package statespace

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAxis is returned when an axis grid cannot be quantized onto.
var ErrInvalidAxis = errors.New("invalid axis")

// Axis is one quantized dimension of the state space.
type Axis struct {
	Name string  `yaml:"-"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Step float64 `yaml:"step"`
}

// Validate checks step > 0, min <= max and that the range is a whole number of steps.
func (a Axis) Validate() error {
	if !(a.Step > 0) {
		return fmt.Errorf("%w: %s step %v must be positive", ErrInvalidAxis, a.Name, a.Step)
	}
	if a.Min > a.Max {
		return fmt.Errorf("%w: %s min %v above max %v", ErrInvalidAxis, a.Name, a.Min, a.Max)
	}
	n := (a.Max - a.Min) / a.Step
	if math.Abs(n-math.Round(n)) > 1e-9 {
		return fmt.Errorf("%w: %s range %v..%v is not a multiple of step %v", ErrInvalidAxis, a.Name, a.Min, a.Max, a.Step)
	}
	return nil
}

// Quantize clamps v to the axis range and snaps it to the nearest grid point.
// Ties round up. NaN maps to Min.
func (a Axis) Quantize(v float64) float64 {
	if math.IsNaN(v) || v < a.Min {
		v = a.Min
	}
	if v > a.Max {
		v = a.Max
	}
	q := a.Min + math.Round((v-a.Min)/a.Step)*a.Step
	if q > a.Max {
		q = a.Max
	}
	return q
}

// Dimensions is the ordered set of axes a StateKey is built from.
type Dimensions struct {
	Temp    Axis
	Wind    Axis
	WindDir Axis
	Rain    Axis
	Target  Axis
	Demand  Axis
}

// DefaultDimensions returns the grid used when the topology does not override it.
func DefaultDimensions() Dimensions {
	return Dimensions{
		Temp:    Axis{Name: "temp", Min: -20, Max: 20, Step: 2},
		Wind:    Axis{Name: "wind", Min: 0, Max: 60, Step: 5},
		WindDir: Axis{Name: "windDir", Min: 0, Max: 360, Step: 45},
		Rain:    Axis{Name: "rain", Min: 0, Max: 1, Step: 1},
		Target:  Axis{Name: "target", Min: 10, Max: 30, Step: 0.5},
		Demand:  Axis{Name: "demand", Min: 0, Max: 100, Step: 10},
	}
}

// Axes returns the axes in key order.
func (d Dimensions) Axes() [numAxes]Axis {
	return [numAxes]Axis{d.Temp, d.Wind, d.WindDir, d.Rain, d.Target, d.Demand}
}

// Axis returns the axis with the given name.
func (d Dimensions) Axis(name string) (Axis, bool) {
	for _, a := range d.Axes() {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// Set replaces the axis with the given name. Unknown names are rejected.
func (d *Dimensions) Set(name string, a Axis) error {
	a.Name = name
	switch name {
	case "temp":
		d.Temp = a
	case "wind":
		d.Wind = a
	case "windDir":
		d.WindDir = a
	case "rain":
		d.Rain = a
	case "target":
		d.Target = a
	case "demand":
		d.Demand = a
	default:
		return fmt.Errorf("%w: unknown axis %q", ErrInvalidAxis, name)
	}
	return nil
}

// Validate validates every axis.
func (d Dimensions) Validate() error {
	for _, a := range d.Axes() {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}
