package control

const (
	valveStep      = 2.0
	valveDeadBand  = 0.5
	returnWeight   = 0.5
	valveInertia   = 0.5
	valveClosed    = 0.0
	valveFullyOpen = 100.0
)

// ValveInput is what a valve decision is based on
type ValveInput struct {
	Target        float64
	RoomTemp      float64
	WindowOpen    bool
	Previous      float64 // last position written to the valve
	DesiredReturn float64
	ActualReturn  float64
}

// ValveDecision is the outcome for one valve in one cycle
type ValveDecision struct {
	Deficit  float64
	Raw      float64 // stepped and clamped, before smoothing
	Position float64 // command written to the valve
	Override bool    // window open forced the valve shut
}

// Deficit is the signed heating shortfall: room below target plus half the
// circuit's return temperature shortfall.
func Deficit(in ValveInput) float64 {
	return (in.Target - in.RoomTemp) + returnWeight*(in.DesiredReturn-in.ActualReturn)
}

// stepPosition moves the previous position one fixed step in the direction of
// the deficit, or keeps it inside the dead band. The result is not clamped.
func stepPosition(previous, deficit float64) float64 {
	switch {
	case deficit > valveDeadBand:
		return previous + valveStep
	case deficit < -valveDeadBand:
		return previous - valveStep
	default:
		return previous
	}
}

// DecideValve runs the step controller for one valve. An open window closes the
// valve immediately and resets its smoothing state to closed.
func DecideValve(key string, in ValveInput, sm *Smoother) ValveDecision {
	if in.WindowOpen {
		sm.Reset(key, valveClosed)
		return ValveDecision{Override: true, Raw: valveClosed, Position: valveClosed}
	}
	d := ValveDecision{Deficit: Deficit(in)}
	d.Raw = clamp(stepPosition(in.Previous, d.Deficit), valveClosed, valveFullyOpen)
	d.Position = sm.Smooth(key, d.Raw, valveInertia)
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
