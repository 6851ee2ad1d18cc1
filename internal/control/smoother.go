package control

// Smoother blends raw values into persisted exponential moving averages, one
// per subject key. Previous values come from load on first use within a cycle;
// every value produced is kept so the caller can persist it.
type Smoother struct {
	load   func(key string) (float64, bool)
	values map[string]float64
	order  []string
}

// NewSmoother returns a smoother reading previous outputs through load. A nil
// load means no subject has history.
func NewSmoother(load func(key string) (float64, bool)) *Smoother {
	return &Smoother{load: load, values: make(map[string]float64)}
}

// Smooth returns previous*(1-inertia) + raw*inertia and remembers it as the
// subject's new previous value. Without history the raw value passes through.
func (s *Smoother) Smooth(key string, raw, inertia float64) float64 {
	prev, ok := s.previous(key)
	if !ok {
		prev = raw
	}
	out := prev*(1-inertia) + raw*inertia
	s.remember(key, out)
	return out
}

// Reset forces the subject's state to v.
func (s *Smoother) Reset(key string, v float64) {
	s.remember(key, v)
}

// Value returns the subject's current state.
func (s *Smoother) Value(key string) (float64, bool) {
	return s.previous(key)
}

// Touched returns the subjects changed since construction, in first-touch order.
func (s *Smoother) Touched() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Smoother) previous(key string) (float64, bool) {
	if v, ok := s.values[key]; ok {
		return v, true
	}
	if s.load == nil {
		return 0, false
	}
	return s.load(key)
}

func (s *Smoother) remember(key string, v float64) {
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = v
}
