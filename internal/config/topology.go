package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Cubikon/Smart-Heating-Control/internal/statespace"
)

// ErrInvalidTopology is returned when the room/circuit layout is inconsistent.
var ErrInvalidTopology = errors.New("invalid topology")

// Topology is the room and circuit layout maintained by the administrative editor
type Topology struct {
	Rooms             []Room                  `yaml:"rooms"`
	Circuits          map[int]Circuit         `yaml:"circuits"`
	Weather           WeatherRefs             `yaml:"weather"`
	Flow              FlowBounds              `yaml:"flow"`
	Axes              map[string]AxisOverride `yaml:"axes"`
	InfluxEnabled     bool                    `yaml:"influxEnabled"`
	InfluxMeasurement string                  `yaml:"influxMeasurement"`

	dims statespace.Dimensions
}

// Room is one heated room
type Room struct {
	Name          string   `yaml:"name"`
	Sensor        string   `yaml:"sensor"`
	TargetSensor  string   `yaml:"targetSensor"`
	WindowContact string   `yaml:"windowContact"`
	VentilIDs     []string `yaml:"ventilIds"`
	MatrixState   string   `yaml:"matrixState"`
	Circuit       int      `yaml:"circuit"`
}

// Circuit is one heating loop shared by several rooms
type Circuit struct {
	ID            int      `yaml:"-"`
	ReturnTemp    string   `yaml:"returnTemp"`
	MinSetpoint   string   `yaml:"minSetpoint"`
	MaxSetpoint   string   `yaml:"maxSetpoint"`
	DesiredReturn float64  `yaml:"desiredReturn"`
	Inertia       *float64 `yaml:"inertia"`
}

// AxisOverride changes part of a default axis; omitted fields keep the default
type AxisOverride struct {
	Min  *float64 `yaml:"min"`
	Max  *float64 `yaml:"max"`
	Step *float64 `yaml:"step"`
}

// apply returns base with the set fields replaced
func (o AxisOverride) apply(base statespace.Axis) statespace.Axis {
	if o.Min != nil {
		base.Min = *o.Min
	}
	if o.Max != nil {
		base.Max = *o.Max
	}
	if o.Step != nil {
		base.Step = *o.Step
	}
	return base
}

// WeatherRefs names the states holding the shared outdoor readings
type WeatherRefs struct {
	Temperature   string `yaml:"temperature"`
	WindSpeed     string `yaml:"windSpeed"`
	WindDirection string `yaml:"windDirection"`
	Rain          string `yaml:"rain"`
}

// FlowBounds limits the flow a room may request
type FlowBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// LoadTopology reads and validates a topology file
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open topology file %s: %w", path, err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes a topology document, applies defaults and validates it
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := t.normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Dimensions returns the state-space grid, defaults overridden by the axes section
func (t *Topology) Dimensions() statespace.Dimensions { return t.dims }

// CircuitIDs returns the configured circuit ids in ascending order
func (t *Topology) CircuitIDs() []int {
	ids := make([]int, 0, len(t.Circuits))
	for id := range t.Circuits {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CircuitInertia returns the smoothing weight of a circuit's setpoint
func (c Circuit) CircuitInertia() float64 {
	if c.Inertia != nil {
		return *c.Inertia
	}
	if c.ID == 0 {
		return 0.5
	}
	return 0.3
}

func defaultDesiredReturn(id int) float64 {
	if id == 0 {
		return 35
	}
	return 40
}

func (t *Topology) normalize() error {
	if len(t.Rooms) == 0 {
		return fmt.Errorf("%w: no rooms configured", ErrInvalidTopology)
	}
	if t.InfluxMeasurement == "" {
		t.InfluxMeasurement = "heatingcontrol"
	}
	if t.Flow.Min == 0 && t.Flow.Max == 0 {
		t.Flow = FlowBounds{Min: 20, Max: 75}
	}
	if t.Flow.Min > t.Flow.Max {
		return fmt.Errorf("%w: flow min %.1f above max %.1f", ErrInvalidTopology, t.Flow.Min, t.Flow.Max)
	}

	t.dims = statespace.DefaultDimensions()
	for name, o := range t.Axes {
		base, ok := t.dims.Axis(name)
		if !ok {
			return fmt.Errorf("%w: unknown axis %q", statespace.ErrInvalidAxis, name)
		}
		if err := t.dims.Set(name, o.apply(base)); err != nil {
			return err
		}
	}
	if err := t.dims.Validate(); err != nil {
		return err
	}

	if t.Circuits == nil {
		t.Circuits = map[int]Circuit{}
	}
	for id, c := range t.Circuits {
		c.ID = id
		if c.DesiredReturn == 0 {
			c.DesiredReturn = defaultDesiredReturn(id)
		}
		if c.DesiredReturn < 0 {
			return fmt.Errorf("%w: circuit %d desired return %.1f is negative", ErrInvalidTopology, id, c.DesiredReturn)
		}
		if in := c.CircuitInertia(); in < 0 || in > 1 {
			return fmt.Errorf("%w: circuit %d inertia %.2f outside 0..1", ErrInvalidTopology, id, in)
		}
		t.Circuits[id] = c
	}

	seen := make(map[string]struct{}, len(t.Rooms))
	for i, r := range t.Rooms {
		if r.Name == "" {
			return fmt.Errorf("%w: room %d has no name", ErrInvalidTopology, i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: duplicate room %s", ErrInvalidTopology, r.Name)
		}
		seen[r.Name] = struct{}{}
		if _, ok := t.Circuits[r.Circuit]; !ok {
			return fmt.Errorf("%w: room %s uses unknown circuit %d", ErrInvalidTopology, r.Name, r.Circuit)
		}
		if r.MatrixState == "" {
			return fmt.Errorf("%w: room %s has no matrixState", ErrInvalidTopology, r.Name)
		}
	}
	return nil
}
