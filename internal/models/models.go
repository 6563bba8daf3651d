package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading is a sensor value that may be missing when the sensor failed or was busy.
type Reading struct {
	Value float64
	Valid bool
}

// Known wraps a successful measurement.
func Known(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Unknown is the absent reading.
func Unknown() Reading {
	return Reading{}
}

// Format renders the reading with the given verb and unit, or "--" when absent.
func (r Reading) Format(verb, unit string) string {
	if !r.Valid {
		return "--"
	}
	return fmt.Sprintf(verb+" %s", r.Value, unit)
}

// MarshalJSON encodes an absent reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// SensorReading is produced fresh each tick.
type SensorReading struct {
	TemperatureF Reading `json:"temperature_f"`
	HumidityPct  Reading `json:"humidity_pct"`
	SoilPct      Reading `json:"soil_pct"`
}

// Actuator names a binary output.
type Actuator string

const (
	Light Actuator = "light"
	Fan   Actuator = "fan"
	Pump  Actuator = "pump"
)

// Actuators lists every output in the order they are wired.
var Actuators = []Actuator{Light, Fan, Pump}

// Switch is the ON/OFF state of an actuator.
type Switch bool

const (
	Off Switch = false
	On  Switch = true
)

func (s Switch) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// ScheduleWindow is the light's daily active interval.
type ScheduleWindow struct {
	OnHour    int
	OnMinute  int
	OffHour   int
	OffMinute int
}

// OnSec is the window start in seconds-of-day.
func (w ScheduleWindow) OnSec() int {
	return w.OnHour*3600 + w.OnMinute*60
}

// OffSec is the window end in seconds-of-day.
func (w ScheduleWindow) OffSec() int {
	return w.OffHour*3600 + w.OffMinute*60
}

// Wraps reports whether the window crosses midnight, which is not supported.
func (w ScheduleWindow) Wraps() bool {
	return w.OffSec() <= w.OnSec()
}

// SecOfDay returns the seconds elapsed since local midnight of t.
func SecOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// FormatSecOfDay renders seconds-of-day as HH:MM:SS.
func FormatSecOfDay(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// Event labels written to the log.
const (
	EventLightOn     = "Light turned ON"
	EventLightOff    = "Light turned OFF"
	EventPumpAuto    = "Pump ran (auto)"
	EventPumpManual  = "Pump ran (manual)"
	EventFanPeriodic = "Fan ran (periodic)"
	EventFanHumidity = "Fan ran (humidity)"
)

// EventLogEntry is one row of the rolling event log. All fields are pre-formatted.
type EventLogEntry struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Event       string `json:"event"`
	Temperature string `json:"temp"`
	Humidity    string `json:"humidity"`
	Soil        string `json:"soil"`
}

// NewEventLogEntry stamps an event with the wall clock and the reading that caused it.
func NewEventLogEntry(now time.Time, event string, r SensorReading) EventLogEntry {
	return EventLogEntry{
		Date:        now.Format("01/02/2006"),
		Time:        now.Format("15:04:05"),
		Event:       event,
		Temperature: r.TemperatureF.Format("%.1f", "°F"),
		Humidity:    r.HumidityPct.Format("%.1f", "%"),
		Soil:        r.SoilPct.Format("%.1f", "%"),
	}
}
