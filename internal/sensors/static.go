package sensors

// Static reports fixed values. A nil field reads as ErrNoReading.
type Static struct {
	TemperatureF *float64
	HumidityPct  *float64
	SoilPct      *float64
}

// ReadClimate returns the configured temperature and humidity.
func (s Static) ReadClimate() (float64, float64, error) {
	if s.TemperatureF == nil || s.HumidityPct == nil {
		return 0, 0, ErrNoReading
	}
	return *s.TemperatureF, *s.HumidityPct, nil
}

// ReadSoil returns the configured soil moisture.
func (s Static) ReadSoil() (float64, error) {
	if s.SoilPct == nil {
		return 0, ErrNoReading
	}
	return *s.SoilPct, nil
}
