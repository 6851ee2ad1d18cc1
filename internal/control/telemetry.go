package control

import (
	"strconv"

	"github.com/Cubikon/Smart-Heating-Control/internal/models"
)

func (c *Controller) points(res *CycleResult) []models.TelemetryPoint {
	measurement := c.topo.InfluxMeasurement
	w := res.Weather
	weatherTags := map[string]string{
		"temp_q":     formatNumber(c.dims.Temp.Quantize(w.Temp)),
		"wind_q":     formatNumber(c.dims.Wind.Quantize(w.Wind)),
		"wind_dir_q": formatNumber(c.dims.WindDir.Quantize(w.WindDir)),
		"rain_q":     formatNumber(c.dims.Rain.Quantize(w.Rain)),
	}

	points := make([]models.TelemetryPoint, 0, len(res.Rooms)*3+len(res.Circuits))
	for _, room := range res.Rooms {
		for _, v := range room.Valves {
			points = append(points, models.TelemetryPoint{
				Measurement: measurement,
				Tags:        map[string]string{"type": "valve", "room": room.Name, "valve": v.ID},
				Fields: map[string]interface{}{
					"position": v.Position,
					"raw":      v.Raw,
					"deficit":  v.Deficit,
					"override": v.Override,
				},
				Timestamp: res.Started,
			})
		}

		tags := map[string]string{"type": "room", "room": room.Name, "circuit": strconv.Itoa(room.Circuit)}
		for k, v := range weatherTags {
			tags[k] = v
		}
		points = append(points, models.TelemetryPoint{
			Measurement: measurement,
			Tags:        tags,
			Fields: map[string]interface{}{
				"demand":         room.Demand,
				"required_flow":  room.RequiredFlow,
				"corrected_flow": room.CorrectedFlow,
				"used_flow":      room.UsedFlow,
				"room_temp":      room.RoomTemp,
				"target":         room.Target,
				"window_open":    room.WindowOpen,
				"learned":        room.Learned,
			},
			Timestamp: res.Started,
		})
	}

	for _, ci := range res.Circuits {
		points = append(points, models.TelemetryPoint{
			Measurement: measurement,
			Tags:        map[string]string{"type": "circuit", "circuit": strconv.Itoa(ci.ID)},
			Fields: map[string]interface{}{
				"required_flow": ci.Required,
				"setpoint":      ci.Setpoint,
			},
			Timestamp: res.Started,
		})
	}
	return points
}
