package control

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

// stateReader reads states for one cycle, substituting defaults for anything
// missing, unreadable or malformed. It never fails.
type stateReader struct {
	ctx context.Context
	st  store.Reader
	log *logger.Logger
}

func (r *stateReader) raw(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	v, ok, err := r.st.Get(r.ctx, id)
	if err != nil {
		r.log.Warn("state read failed, using default", "id", id, "error", err)
		return "", false
	}
	return v, ok
}

// number reads a numeric state. Boolean text maps to 1 and 0.
func (r *stateReader) number(id string, def float64) float64 {
	v, ok := r.raw(id)
	if !ok {
		r.missing(id, def)
		return def
	}
	if f, ok := parseNumber(v); ok {
		return f
	}
	r.log.Warn("state not numeric, using default", "id", id, "value", v, "default", def)
	return def
}

// flag reads a boolean state. Numbers above zero count as true, so multi-state
// contacts (closed/tilted/open) report anything but closed as open.
func (r *stateReader) flag(id string, def bool) bool {
	v, ok := r.raw(id)
	if !ok {
		r.missing(id, def)
		return def
	}
	f, ok := parseNumber(v)
	if !ok {
		r.log.Warn("state not boolean, using default", "id", id, "value", v, "default", def)
		return def
	}
	return f > 0
}

// missing logs a configured state that has no value. Unconfigured ids are
// optional inputs and stay quiet.
func (r *stateReader) missing(id string, def interface{}) {
	if id != "" {
		r.log.Warn("state missing, using default", "id", id, "default", def)
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
	switch strings.ToLower(s) {
	case "true", "on", "open", "yes":
		return 1, true
	case "false", "off", "closed", "no":
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
