// Package control decides valve positions and circuit flow setpoints from room
// and weather readings, and teaches each room's matrix what flow its
// conditions actually needed.
package control

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
	"github.com/Cubikon/Smart-Heating-Control/internal/statespace"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

// fallbacks for states that cannot be read
const (
	defaultTarget        = 20.0
	defaultValvePosition = 50.0
	roomInertia          = 0.5
)

// Weather is the outdoor situation shared by every room in a cycle
type Weather struct {
	Temp    float64
	Wind    float64
	WindDir float64
	Rain    float64
}

// ValveOutcome is the decision taken for one valve
type ValveOutcome struct {
	ID       string
	Previous float64
	ValveDecision
}

// RoomOutcome is everything a cycle computed for one room
type RoomOutcome struct {
	Name          string
	Circuit       int
	RoomTemp      float64
	Target        float64
	WindowOpen    bool
	RequiredFlow  float64 // matrix estimate
	CorrectedFlow float64 // after return correction and flow bounds
	Demand        float64 // average valve opening, percent
	UsedFlow      float64 // flow the valves actually drew
	Learned       bool
	LearnedKey    statespace.StateKey
	LearnedFlow   float64 // smoothed observation fed to the matrix
	Valves        []ValveOutcome
}

// CircuitOutcome is the setpoint computed for one circuit
type CircuitOutcome struct {
	ID       int
	Required float64
	Setpoint float64
}

// CycleResult is the full outcome of one control cycle. Nothing has been
// written yet; Writes lists the states to persist in order.
type CycleResult struct {
	ID       string
	Started  time.Time
	Weather  Weather
	Rooms    []RoomOutcome
	Circuits []CircuitOutcome
	Writes   []models.StateWrite
	Points   []models.TelemetryPoint
}

// Controller runs control cycles over a fixed topology
type Controller struct {
	topo      *config.Topology
	dims      statespace.Dimensions
	prefix    string
	telemetry bool
	log       *logger.Logger
}

// NewController creates a controller for the topology
func NewController(topo *config.Topology, cfg config.ControlConfig, log *logger.Logger) *Controller {
	return &Controller{
		topo:      topo,
		dims:      topo.Dimensions(),
		prefix:    cfg.StatePrefix,
		telemetry: cfg.TelemetryEnabled,
		log:       log.Component("control"),
	}
}

// circuitState holds a circuit's readings for the cycle
type circuitState struct {
	cfg          config.Circuit
	actualReturn float64
	maxSetpoint  float64
}

// RunCycle reads the current states and computes one full control pass. It
// only fails when ctx is cancelled, in which case nothing should be written.
func (c *Controller) RunCycle(ctx context.Context, st store.Reader, now time.Time) (*CycleResult, error) {
	res := &CycleResult{ID: uuid.New().String(), Started: now}
	log := c.log.With("cycle", res.ID)
	r := &stateReader{ctx: ctx, st: st, log: log}

	res.Weather = Weather{
		Temp:    r.number(c.topo.Weather.Temperature, 0),
		Wind:    r.number(c.topo.Weather.WindSpeed, 0),
		WindDir: r.number(c.topo.Weather.WindDirection, 0),
		Rain:    r.number(c.topo.Weather.Rain, 0),
	}

	circuits := make(map[int]*circuitState, len(c.topo.Circuits))
	for _, id := range c.topo.CircuitIDs() {
		cc := c.topo.Circuits[id]
		circuits[id] = &circuitState{
			cfg:          cc,
			actualReturn: r.number(cc.ReturnTemp, cc.DesiredReturn),
			maxSetpoint:  r.number(cc.MaxSetpoint, statespace.FallbackFlow),
		}
	}

	sm := NewSmoother(func(key string) (float64, bool) {
		v, ok := r.raw(key)
		if !ok {
			return 0, false
		}
		return parseNumber(v)
	})
	agg := NewCircuitAggregator()

	for _, room := range c.topo.Rooms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, writes := c.runRoom(r, room, res.Weather, circuits[room.Circuit], sm)
		agg.Observe(room.Circuit, out.CorrectedFlow)
		res.Rooms = append(res.Rooms, out)
		res.Writes = append(res.Writes, writes...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	setpoints := make(map[int]float64, len(circuits))
	for _, id := range c.topo.CircuitIDs() {
		cc := circuits[id].cfg
		key := c.circuitKey(id)
		setpoint, ok := agg.Setpoint(cc, key, sm)
		if !ok {
			continue
		}
		required, _ := agg.Required(id)
		res.Circuits = append(res.Circuits, CircuitOutcome{ID: id, Required: required, Setpoint: setpoint})
		setpoints[id] = setpoint
		value := formatNumber(setpoint)
		res.Writes = append(res.Writes,
			models.StateWrite{ID: key, Value: value},
			models.StateWrite{ID: cc.MinSetpoint, Value: value, Actuator: true},
			models.StateWrite{ID: cc.MaxSetpoint, Value: value, Actuator: true},
		)
	}
	res.Writes = dropUnnamed(res.Writes)

	if c.telemetry {
		res.Points = c.points(res)
	}

	log.Info("control cycle computed",
		"rooms", len(res.Rooms),
		"setpoints", setpoints,
		"smoothed", len(sm.Touched()),
		"writes", len(res.Writes),
	)
	return res, nil
}

func (c *Controller) runRoom(r *stateReader, room config.Room, w Weather, circuit *circuitState, sm *Smoother) (RoomOutcome, []models.StateWrite) {
	out := RoomOutcome{Name: room.Name, Circuit: room.Circuit}
	out.Target = r.number(room.TargetSensor, defaultTarget)
	out.RoomTemp = r.number(room.Sensor, out.Target)
	out.WindowOpen = r.flag(room.WindowContact, false)

	matrix := c.loadMatrix(r, room)
	out.RequiredFlow = matrix.Interpolate(w.Temp, w.Wind, w.WindDir, w.Rain, out.Target)
	corrected := CorrectForReturn(out.RequiredFlow, circuit.cfg.DesiredReturn, circuit.actualReturn)
	out.CorrectedFlow = clamp(corrected, c.topo.Flow.Min, c.topo.Flow.Max)

	var writes []models.StateWrite
	var sum float64
	for _, id := range room.VentilIDs {
		in := ValveInput{
			Target:        out.Target,
			RoomTemp:      out.RoomTemp,
			WindowOpen:    out.WindowOpen,
			Previous:      r.number(id, defaultValvePosition),
			DesiredReturn: circuit.cfg.DesiredReturn,
			ActualReturn:  circuit.actualReturn,
		}
		key := c.valveKey(id)
		d := DecideValve(key, in, sm)
		out.Valves = append(out.Valves, ValveOutcome{ID: id, Previous: in.Previous, ValveDecision: d})
		sum += d.Position
		writes = append(writes,
			models.StateWrite{ID: id, Value: formatNumber(d.Position), Actuator: true},
			models.StateWrite{ID: key, Value: formatNumber(d.Position)},
		)
	}
	if n := len(room.VentilIDs); n > 0 {
		out.Demand = sum / float64(n)
	}
	out.UsedFlow = out.Demand * circuit.maxSetpoint / 100

	if out.WindowOpen {
		return out, writes
	}

	flowKey := c.roomKey(room.Name)
	out.LearnedFlow = sm.Smooth(flowKey, out.UsedFlow, roomInertia)
	writes = append(writes, models.StateWrite{ID: flowKey, Value: formatNumber(out.LearnedFlow)})
	if out.LearnedFlow <= 0 {
		return out, writes
	}

	out.LearnedKey = c.dims.BuildKey(w.Temp, w.Wind, w.WindDir, w.Rain, out.Target, out.Demand)
	matrix.Update(out.LearnedKey, out.LearnedFlow)
	out.Learned = true
	data, err := json.Marshal(matrix)
	if err != nil {
		r.log.Error("matrix encode failed", "room", room.Name, "error", err)
		return out, writes
	}
	writes = append(writes, models.StateWrite{ID: room.MatrixState, Value: string(data)})
	return out, writes
}

// loadMatrix reads a room's matrix; unreadable data starts an empty one.
func (c *Controller) loadMatrix(r *stateReader, room config.Room) *statespace.Matrix {
	raw, _ := r.raw(room.MatrixState)
	m, err := statespace.LoadMatrix(c.dims, []byte(raw))
	if err != nil {
		r.log.Warn("matrix malformed, relearning", "room", room.Name, "id", room.MatrixState, "kept", m.Len(), "error", err)
	}
	return m
}

func (c *Controller) roomKey(name string) string {
	return c.prefix + ".rooms." + name + ".lastFlow"
}

func (c *Controller) valveKey(id string) string {
	return c.prefix + ".valves." + id + ".lastVent"
}

func (c *Controller) circuitKey(id int) string {
	return c.prefix + ".circuits." + strconv.Itoa(id) + ".lastFlow"
}

func dropUnnamed(writes []models.StateWrite) []models.StateWrite {
	out := writes[:0]
	for _, w := range writes {
		if w.ID != "" {
			out = append(out, w)
		}
	}
	return out
}
