// Package schedule decides, once per tick, which actuators should run.
//
// The engine itself keeps no mutable state. Everything that must survive between ticks
// lives in State, which the caller owns and threads through every evaluation: each call
// takes the previous State and returns the next one.
//
// Pump and fan runs do not block. Starting a run switches the actuator on and records a
// deadline; ExpireRuns switches it off again on the first tick at or after that deadline.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"furitingoasis/growbox/internal/actuators"
	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
)

// Config holds the fixed thresholds and durations of the rules.
type Config struct {
	Window               models.ScheduleWindow
	SoilDryThreshold     float64
	HumidityThresholdPct float64
	FanInterval          time.Duration
	FanPeriodicRun       time.Duration
	FanHumidityRun       time.Duration
	PumpRun              time.Duration
}

// DefaultConfig is the stock grow-box schedule: lights 07:00-22:00, water below 35% soil
// moisture, air out for 20s every half hour and for 10s above 60% humidity.
func DefaultConfig() Config {
	return Config{
		Window:               models.ScheduleWindow{OnHour: 7, OffHour: 22},
		SoilDryThreshold:     35.0,
		HumidityThresholdPct: 60.0,
		FanInterval:          1800 * time.Second,
		FanPeriodicRun:       20 * time.Second,
		FanHumidityRun:       10 * time.Second,
		PumpRun:              1 * time.Second,
	}
}

// State is the controller state carried between ticks.
type State struct {
	Light models.Switch
	Fan   models.Switch
	Pump  models.Switch

	// FanUntil and PumpUntil are the deadlines of the current runs, zero when idle.
	FanUntil  time.Time
	PumpUntil time.Time

	// LastFanRun is when the periodic fan cycle last fired. The zero value makes the
	// first tick fire it.
	LastFanRun time.Time
}

// NextDeadline returns the earliest pending run deadline, or the zero time when nothing runs.
func (s State) NextDeadline() time.Time {
	var next time.Time
	for _, d := range []time.Time{s.FanUntil, s.PumpUntil} {
		if d.IsZero() {
			continue
		}
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}
	return next
}

// Events receives log entries for state changes.
type Events interface {
	Append(models.EventLogEntry)
}

// LightWindow is the outcome of evaluating the light schedule.
type LightWindow struct {
	State  models.Switch
	OnSec  int
	OffSec int
}

// Engine applies the rules to an actuator set.
type Engine struct {
	cfg       Config
	actuators actuators.Set
	events    Events
	log       *logger.Logger
}

// NewEngine builds an engine.
func NewEngine(cfg Config, set actuators.Set, events Events, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, actuators: set, events: events, log: log}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Tick runs every rule in order. Later rules observe the actuator state left by earlier
// ones. A failing rule does not stop the others; all errors are returned joined.
//
// A pump or humidity-fan run that expires on this tick is not restarted by its own rule
// until the next tick, so the actuator stays off for at least one loop pass between runs.
func (e *Engine) Tick(st State, now time.Time, r models.SensorReading) (State, error) {
	var errs []error

	before := st
	st, err := e.ExpireRuns(st, now)
	errs = append(errs, err)
	pumpExpired := before.Pump == models.On && st.Pump == models.Off
	fanExpired := before.Fan == models.On && st.Fan == models.Off

	prev := st.Light
	st, window, err := e.EvaluateLightWindow(st, now)
	errs = append(errs, err)
	if err == nil && window.State != prev {
		label := models.EventLightOff
		if window.State == models.On {
			label = models.EventLightOn
		}
		e.record(now, label, r)
	}

	if !pumpExpired {
		st, _, err = e.EvaluateSoil(st, now, r)
		errs = append(errs, err)
	}

	st, _, err = e.EvaluatePeriodicFan(st, now, r)
	errs = append(errs, err)

	if !fanExpired {
		st, _, err = e.EvaluateHumidityFan(st, now, r)
		errs = append(errs, err)
	}

	return st, errors.Join(errs...)
}

// EvaluateLightWindow switches the light on iff onSec <= secOfDay(now) < offSec.
// Windows that wrap past midnight are not supported: with offSec <= onSec the light
// stays off all day.
func (e *Engine) EvaluateLightWindow(st State, now time.Time) (State, LightWindow, error) {
	w := LightWindow{OnSec: e.cfg.Window.OnSec(), OffSec: e.cfg.Window.OffSec()}
	sec := models.SecOfDay(now)
	w.State = models.Switch(w.OnSec <= sec && sec < w.OffSec)

	if err := e.actuators.Set(models.Light, bool(w.State)); err != nil {
		return st, w, fmt.Errorf("light: %w", err)
	}
	if st.Light != w.State {
		e.log.Infow("light switched", "state", w.State.String(), "sec_of_day", sec)
	}
	st.Light = w.State
	return st, w, nil
}

// EvaluateSoil starts a pump run when the soil is known to be drier than the threshold
// and the pump is idle.
func (e *Engine) EvaluateSoil(st State, now time.Time, r models.SensorReading) (State, bool, error) {
	if !r.SoilPct.Valid || r.SoilPct.Value >= e.cfg.SoilDryThreshold || st.Pump == models.On {
		return st, false, nil
	}
	e.log.Infow("soil dry, running pump", "soil_pct", r.SoilPct.Value, "threshold", e.cfg.SoilDryThreshold)
	st, err := e.runPump(st, now)
	if err != nil {
		return st, false, err
	}
	e.record(now, models.EventPumpAuto, r)
	return st, true, nil
}

// EvaluatePeriodicFan runs the fan once the interval since the last periodic run has elapsed.
func (e *Engine) EvaluatePeriodicFan(st State, now time.Time, r models.SensorReading) (State, bool, error) {
	if now.Sub(st.LastFanRun) < e.cfg.FanInterval {
		return st, false, nil
	}
	e.log.Infow("periodic fan cycle", "last_run", st.LastFanRun, "run", e.cfg.FanPeriodicRun)
	st, err := e.runFan(st, now, e.cfg.FanPeriodicRun)
	if err != nil {
		return st, false, err
	}
	st.LastFanRun = now
	e.record(now, models.EventFanPeriodic, r)
	return st, true, nil
}

// EvaluateHumidityFan runs the fan briefly when humidity is known to be above the
// threshold and the fan is not already running.
func (e *Engine) EvaluateHumidityFan(st State, now time.Time, r models.SensorReading) (State, bool, error) {
	if !r.HumidityPct.Valid || r.HumidityPct.Value <= e.cfg.HumidityThresholdPct || st.Fan == models.On {
		return st, false, nil
	}
	e.log.Infow("high humidity, running fan", "humidity_pct", r.HumidityPct.Value, "threshold", e.cfg.HumidityThresholdPct)
	st, err := e.runFan(st, now, e.cfg.FanHumidityRun)
	if err != nil {
		return st, false, err
	}
	e.record(now, models.EventFanHumidity, r)
	return st, true, nil
}

// RunPumpManual runs the pump on request, whatever its current state.
func (e *Engine) RunPumpManual(st State, now time.Time, r models.SensorReading) (State, error) {
	e.log.Infow("manual pump run requested")
	st, err := e.runPump(st, now)
	if err != nil {
		return st, err
	}
	e.record(now, models.EventPumpManual, r)
	return st, nil
}

// ExpireRuns switches off the pump and fan whose deadlines have passed.
func (e *Engine) ExpireRuns(st State, now time.Time) (State, error) {
	var errs []error
	if st.Pump == models.On && !now.Before(st.PumpUntil) {
		if err := e.actuators.Set(models.Pump, false); err != nil {
			errs = append(errs, fmt.Errorf("pump: %w", err))
		} else {
			e.log.Infow("pump off")
			st.Pump, st.PumpUntil = models.Off, time.Time{}
		}
	}
	if st.Fan == models.On && !now.Before(st.FanUntil) {
		if err := e.actuators.Set(models.Fan, false); err != nil {
			errs = append(errs, fmt.Errorf("fan: %w", err))
		} else {
			e.log.Infow("fan off")
			st.Fan, st.FanUntil = models.Off, time.Time{}
		}
	}
	return st, errors.Join(errs...)
}

func (e *Engine) runPump(st State, now time.Time) (State, error) {
	if err := e.actuators.Set(models.Pump, true); err != nil {
		return st, fmt.Errorf("pump: %w", err)
	}
	st.Pump = models.On
	st.PumpUntil = later(st.PumpUntil, now.Add(e.cfg.PumpRun))
	e.log.Infow("pump on", "until", st.PumpUntil)
	return st, nil
}

func (e *Engine) runFan(st State, now time.Time, d time.Duration) (State, error) {
	if err := e.actuators.Set(models.Fan, true); err != nil {
		return st, fmt.Errorf("fan: %w", err)
	}
	st.Fan = models.On
	st.FanUntil = later(st.FanUntil, now.Add(d))
	e.log.Infow("fan on", "until", st.FanUntil)
	return st, nil
}

func (e *Engine) record(now time.Time, label string, r models.SensorReading) {
	e.log.Infow("event", "label", label)
	e.events.Append(models.NewEventLogEntry(now, label, r))
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
