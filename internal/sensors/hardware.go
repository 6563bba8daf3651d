package sensors

import (
	"fmt"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/i2c"
)

// SHT2x reads the climate from an SHT2x on the I2C bus.
type SHT2x struct {
	driver *i2c.SHT2xDriver
	// HumidityOffset is subtracted from every humidity reading to calibrate the probe.
	HumidityOffset float64
}

// NewSHT2x creates the driver on the given bus.
func NewSHT2x(c i2c.Connector, bus int, humidityOffset float64) *SHT2x {
	return &SHT2x{
		driver:         i2c.NewSHT2xDriver(c, i2c.WithBus(bus)),
		HumidityOffset: humidityOffset,
	}
}

// Device returns the underlying driver for robot registration.
func (s *SHT2x) Device() gobot.Device {
	return s.driver
}

// ReadClimate returns the temperature in °F and the calibrated relative humidity.
func (s *SHT2x) ReadClimate() (float64, float64, error) {
	temp, err := s.driver.Temperature()
	if err != nil {
		return 0, 0, fmt.Errorf("sht2x temperature: %w", err)
	}
	humidity, err := s.driver.Humidity()
	if err != nil {
		return 0, 0, fmt.Errorf("sht2x humidity: %w", err)
	}
	return CelsiusToFahrenheit(float64(temp)), float64(humidity) - s.HumidityOffset, nil
}

// ADS1115Soil reads a capacitive soil probe through one ADS1115 input.
type ADS1115Soil struct {
	driver  *i2c.ADS1x15Driver
	channel string
	wetRaw  int
	dryRaw  int
}

// NewADS1115Soil creates the ADC driver. wetRaw and dryRaw are the raw values read in
// water and in dry air respectively.
func NewADS1115Soil(c i2c.Connector, bus, address int, channel string, wetRaw, dryRaw int) *ADS1115Soil {
	return &ADS1115Soil{
		driver:  i2c.NewADS1115Driver(c, i2c.WithBus(bus), i2c.WithAddress(address)),
		channel: channel,
		wetRaw:  wetRaw,
		dryRaw:  dryRaw,
	}
}

// Device returns the underlying driver for robot registration.
func (s *ADS1115Soil) Device() gobot.Device {
	return s.driver
}

// ReadSoil converts the raw ADC value to a moisture percentage.
func (s *ADS1115Soil) ReadSoil() (float64, error) {
	raw, err := s.driver.AnalogRead(s.channel)
	if err != nil {
		return 0, fmt.Errorf("ads1115 channel %s: %w", s.channel, err)
	}
	return MoisturePercent(raw, s.wetRaw, s.dryRaw), nil
}
