package control

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
	"github.com/Cubikon/Smart-Heating-Control/internal/statespace"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

const testTopology = `
influxMeasurement: heating
weather:
  temperature: w.temp
  windSpeed: w.wind
  windDirection: w.dir
  rain: w.rain
circuits:
  0:
    returnTemp: c0.return
    minSetpoint: c0.min
    maxSetpoint: c0.max
rooms:
  - name: living
    sensor: living.temp
    targetSensor: living.target
    windowContact: living.window
    ventilIds: [living.v1]
    matrixState: living.matrix
    circuit: 0
`

func newTestController(t *testing.T, telemetry bool) *Controller {
	t.Helper()
	topo, err := config.ParseTopology([]byte(testTopology))
	require.NoError(t, err)
	return NewController(topo, config.ControlConfig{StatePrefix: "hc", TelemetryEnabled: telemetry}, logger.NewNop())
}

func seed(t *testing.T, st *store.Memory, values map[string]string) {
	t.Helper()
	for id, v := range values {
		require.NoError(t, st.Set(context.Background(), id, v))
	}
}

func apply(t *testing.T, st *store.Memory, writes []models.StateWrite) {
	t.Helper()
	for _, w := range writes {
		require.NoError(t, st.Set(context.Background(), w.ID, w.Value))
	}
}

func writesByID(writes []models.StateWrite) map[string]models.StateWrite {
	out := make(map[string]models.StateWrite, len(writes))
	for _, w := range writes {
		out[w.ID] = w
	}
	return out
}

func number(t *testing.T, s string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return f
}

func scenarioStates() map[string]string {
	states := map[string]string{
		"w.temp":        "3",
		"w.wind":        "12",
		"w.dir":         "90",
		"w.rain":        "false",
		"living.temp":   "19",
		"living.target": "21",
		"living.window": "false",
		"living.v1":     "40",
		"c0.return":     "30",
		"c0.max":        "50",
	}
	states["hc.valves.living.v1.lastVent"] = "40"
	return states
}

func TestRunCycleColdRoom(t *testing.T) {
	ctrl := newTestController(t, false)
	st := store.NewMemory()
	seed(t, st, scenarioStates())

	res, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Rooms, 1)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, Weather{Temp: 3, Wind: 12, WindDir: 90, Rain: 0}, res.Weather)

	room := res.Rooms[0]
	require.Len(t, room.Valves, 1)
	v := room.Valves[0]
	assert.InDelta(t, 4.5, v.Deficit, 1e-12)
	assert.Equal(t, 42.0, v.Raw)
	assert.Equal(t, 41.0, v.Position)

	assert.Equal(t, statespace.FallbackFlow, room.RequiredFlow)
	wantCorrected := 40 * (1 - 0.5*5.0/35)
	assert.InDelta(t, wantCorrected, room.CorrectedFlow, 1e-9)
	assert.Equal(t, 41.0, room.Demand)
	assert.InDelta(t, 20.5, room.UsedFlow, 1e-12)
	assert.InDelta(t, 20.5, room.LearnedFlow, 1e-12)
	require.True(t, room.Learned)
	assert.Equal(t, ctrl.dims.BuildKey(3, 12, 90, 0, 21, 41), room.LearnedKey)

	require.Len(t, res.Circuits, 1)
	assert.InDelta(t, wantCorrected, res.Circuits[0].Setpoint, 1e-9)

	w := writesByID(res.Writes)
	assert.Equal(t, "41", w["living.v1"].Value)
	assert.True(t, w["living.v1"].Actuator)
	assert.Equal(t, "41", w["hc.valves.living.v1.lastVent"].Value)
	assert.False(t, w["hc.valves.living.v1.lastVent"].Actuator)
	assert.Equal(t, "20.5", w["hc.rooms.living.lastFlow"].Value)
	assert.True(t, w["c0.min"].Actuator)
	assert.True(t, w["c0.max"].Actuator)
	assert.Equal(t, w["c0.min"].Value, w["c0.max"].Value)
	assert.InDelta(t, wantCorrected, number(t, w["c0.max"].Value), 1e-9)
	assert.Equal(t, w["c0.max"].Value, w["hc.circuits.0.lastFlow"].Value)

	m, err := statespace.LoadMatrix(ctrl.dims, []byte(w["living.matrix"].Value))
	require.NoError(t, err)
	learned, ok := m.Get(room.LearnedKey)
	require.True(t, ok)
	assert.InDelta(t, 20.5, learned, 1e-12)

	assert.Empty(t, res.Points, "telemetry disabled")
}

func TestRunCycleLearnsAcrossCycles(t *testing.T) {
	ctrl := newTestController(t, false)
	st := store.NewMemory()
	seed(t, st, scenarioStates())

	first, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)
	apply(t, st, first.Writes)

	second, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)
	room := second.Rooms[0]

	// valve keeps opening: previous 41, raw 43, smoothed against 41
	assert.Equal(t, 43.0, room.Valves[0].Raw)
	assert.Equal(t, 42.0, room.Valves[0].Position)

	// the learned cell is a one-step neighbour of the query
	assert.InDelta(t, 20.5, room.RequiredFlow, 1e-12)
	assert.Equal(t, 20.0, room.CorrectedFlow, "clamped to flow minimum")

	circuitMax := first.Circuits[0].Setpoint
	used := 42.0 / 100 * circuitMax
	assert.InDelta(t, used, room.UsedFlow, 1e-9)
	smoothed := 0.5*20.5 + 0.5*used
	assert.InDelta(t, smoothed, room.LearnedFlow, 1e-9)

	m, err := statespace.LoadMatrix(ctrl.dims, []byte(writesByID(second.Writes)["living.matrix"].Value))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	v, _ := m.Get(room.LearnedKey)
	assert.InDelta(t, 0.8*20.5+0.2*smoothed, v, 1e-9)

	assert.InDelta(t, 0.5*circuitMax+0.5*20, second.Circuits[0].Setpoint, 1e-9)
}

func TestRunCycleWindowOpen(t *testing.T) {
	ctrl := newTestController(t, false)
	st := store.NewMemory()
	states := scenarioStates()
	states["living.window"] = "2"
	seed(t, st, states)

	res, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)
	room := res.Rooms[0]
	assert.True(t, room.WindowOpen)
	assert.True(t, room.Valves[0].Override)
	assert.False(t, room.Learned)

	w := writesByID(res.Writes)
	assert.Equal(t, "0", w["living.v1"].Value)
	assert.Equal(t, "0", w["hc.valves.living.v1.lastVent"].Value)
	assert.NotContains(t, w, "living.matrix")
	assert.NotContains(t, w, "hc.rooms.living.lastFlow")
}

func TestRunCycleDefaultsWhenStatesMissing(t *testing.T) {
	ctrl := newTestController(t, false)
	res, err := ctrl.RunCycle(context.Background(), store.NewMemory(), time.Now())
	require.NoError(t, err)

	room := res.Rooms[0]
	assert.Equal(t, 20.0, room.Target)
	assert.Equal(t, 20.0, room.RoomTemp)
	assert.False(t, room.WindowOpen)
	assert.Equal(t, 50.0, room.Valves[0].Previous)
	assert.Equal(t, 50.0, room.Valves[0].Position)
	assert.Equal(t, statespace.FallbackFlow, room.RequiredFlow)
	assert.Equal(t, statespace.FallbackFlow, room.CorrectedFlow)
	assert.InDelta(t, 20.0, room.UsedFlow, 1e-12)
	assert.Equal(t, statespace.FallbackFlow, res.Circuits[0].Setpoint)
}

func TestRunCycleRelearnsMalformedMatrix(t *testing.T) {
	ctrl := newTestController(t, false)
	st := store.NewMemory()
	states := scenarioStates()
	states["living.matrix"] = "{{{ definitely not json"
	states["living.temp"] = "not a number"
	seed(t, st, states)

	res, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)
	room := res.Rooms[0]
	assert.Equal(t, statespace.FallbackFlow, room.RequiredFlow)
	assert.Equal(t, room.Target, room.RoomTemp, "unparseable temperature defaults to target")

	var persisted map[string]float64
	require.NoError(t, json.Unmarshal([]byte(writesByID(res.Writes)["living.matrix"].Value), &persisted))
	assert.Len(t, persisted, 1)
}

func TestRunCycleCancelled(t *testing.T) {
	ctrl := newTestController(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ctrl.RunCycle(ctx, store.NewMemory(), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRunCycleTelemetry(t *testing.T) {
	ctrl := newTestController(t, true)
	st := store.NewMemory()
	seed(t, st, scenarioStates())
	now := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)

	res, err := ctrl.RunCycle(context.Background(), st, now)
	require.NoError(t, err)

	byType := map[string][]models.TelemetryPoint{}
	for _, p := range res.Points {
		assert.Equal(t, "heating", p.Measurement)
		assert.Equal(t, now, p.Timestamp)
		byType[p.Tags["type"]] = append(byType[p.Tags["type"]], p)
	}
	require.Len(t, byType["valve"], 1)
	require.Len(t, byType["room"], 1)
	require.Len(t, byType["circuit"], 1)

	assert.Equal(t, 41.0, byType["valve"][0].Fields["position"])
	room := byType["room"][0]
	assert.Equal(t, "4", room.Tags["temp_q"])
	assert.Equal(t, "10", room.Tags["wind_q"])
	assert.Equal(t, "90", room.Tags["wind_dir_q"])
	assert.Equal(t, "0", room.Tags["rain_q"])
	assert.Equal(t, 41.0, room.Fields["demand"])
}

func TestRunCycleLogsDefaultedStates(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	topo, err := config.ParseTopology([]byte(testTopology))
	require.NoError(t, err)
	ctrl := NewController(topo, config.ControlConfig{StatePrefix: "hc"}, logger.FromCore(core))

	res, err := ctrl.RunCycle(context.Background(), store.NewMemory(), time.Now())
	require.NoError(t, err)

	var missing []string
	for _, e := range logs.FilterMessage("state missing, using default").All() {
		assert.Equal(t, zapcore.WarnLevel, e.Level)
		assert.Equal(t, res.ID, e.ContextMap()["cycle"])
		missing = append(missing, e.ContextMap()["id"].(string))
	}
	assert.ElementsMatch(t, []string{
		"w.temp", "w.wind", "w.dir", "w.rain",
		"c0.return", "c0.max",
		"living.target", "living.temp", "living.window", "living.v1",
	}, missing)
}

func TestRunCycleSummaryCarriesSetpoints(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	topo, err := config.ParseTopology([]byte(testTopology))
	require.NoError(t, err)
	ctrl := NewController(topo, config.ControlConfig{StatePrefix: "hc"}, logger.FromCore(core))

	st := store.NewMemory()
	seed(t, st, scenarioStates())
	res, err := ctrl.RunCycle(context.Background(), st, time.Now())
	require.NoError(t, err)

	summary := logs.FilterMessage("control cycle computed").All()
	require.Len(t, summary, 1)
	fields := summary[0].ContextMap()
	assert.Equal(t, res.ID, fields["cycle"])
	assert.Equal(t, map[int]float64{0: res.Circuits[0].Setpoint}, fields["setpoints"])
	assert.Empty(t, logs.FilterMessage("state missing, using default").All(), "all configured states present")
}

