// Package sensors polls the climate and soil probes once per tick.
package sensors

import (
	"errors"

	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
)

// ErrNoReading is returned by a source that has nothing to report, such as a busy sensor.
var ErrNoReading = errors.New("no reading available")

// ClimateSource measures air temperature in °F and relative humidity in percent.
type ClimateSource interface {
	ReadClimate() (tempF, humidityPct float64, err error)
}

// SoilSource measures soil moisture in percent.
type SoilSource interface {
	ReadSoil() (pct float64, err error)
}

// Reader combines both sources into one SensorReading. A failing source yields an absent
// value for that tick rather than an error.
type Reader struct {
	climate ClimateSource
	soil    SoilSource
	log     *logger.Logger
}

// NewReader builds a reader. Either source may be nil, in which case its values are always absent.
func NewReader(climate ClimateSource, soil SoilSource, log *logger.Logger) *Reader {
	return &Reader{climate: climate, soil: soil, log: log}
}

// Read polls both sources.
func (r *Reader) Read() models.SensorReading {
	var out models.SensorReading

	if r.climate != nil {
		t, h, err := r.climate.ReadClimate()
		if err != nil {
			r.log.Warnw("climate sensor read failed", "err", err)
		} else {
			out.TemperatureF = models.Known(t)
			out.HumidityPct = models.Known(h)
		}
	}

	if r.soil != nil {
		s, err := r.soil.ReadSoil()
		if err != nil {
			r.log.Warnw("soil sensor read failed", "err", err)
		} else {
			out.SoilPct = models.Known(s)
		}
	}

	r.log.Debugw("sensors polled",
		"temperature", out.TemperatureF.Format("%.2f", "°F"),
		"humidity", out.HumidityPct.Format("%.2f", "%"),
		"soil", out.SoilPct.Format("%.2f", "%"))
	return out
}

// CelsiusToFahrenheit converts a temperature.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// MoisturePercent maps a raw probe value linearly between the fully wet and fully dry
// calibration points, clamped to [0,100]. Capacitive probes read lower when wetter.
func MoisturePercent(raw, wet, dry int) float64 {
	switch {
	case raw <= wet:
		return 100
	case raw >= dry:
		return 0
	}
	return float64(dry-raw) / float64(dry-wet) * 100
}
