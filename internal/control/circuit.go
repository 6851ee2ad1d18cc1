package control

import (
	"github.com/Cubikon/Smart-Heating-Control/internal/config"
)

// CircuitAggregator collects per-room flow requirements and turns the largest
// one per circuit into a smoothed setpoint.
type CircuitAggregator struct {
	required map[int]float64
}

func NewCircuitAggregator() *CircuitAggregator {
	return &CircuitAggregator{required: make(map[int]float64)}
}

// Observe records a room's requirement on its circuit.
func (a *CircuitAggregator) Observe(circuit int, flow float64) {
	if cur, ok := a.required[circuit]; !ok || flow > cur {
		a.required[circuit] = flow
	}
}

// Required returns the largest requirement observed on a circuit.
func (a *CircuitAggregator) Required(circuit int) (float64, bool) {
	v, ok := a.required[circuit]
	return v, ok
}

// Setpoint smooths the circuit's requirement with its configured inertia. A
// circuit no room reported on has no setpoint.
func (a *CircuitAggregator) Setpoint(c config.Circuit, key string, sm *Smoother) (float64, bool) {
	req, ok := a.required[c.ID]
	if !ok {
		return 0, false
	}
	return sm.Smooth(key, req, c.CircuitInertia()), true
}
