// Package controller runs the single-threaded control loop: one schedule evaluation, one
// bounded wait for a dashboard client and one fixed sleep per tick.
//
// The Controller is the only owner of the schedule state, the event log and the latest
// reading. Nothing here is safe for concurrent use and nothing needs to be.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"furitingoasis/growbox/internal/actuators"
	"furitingoasis/growbox/internal/dashboard"
	"furitingoasis/growbox/internal/eventlog"
	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
	"furitingoasis/growbox/internal/schedule"
	"furitingoasis/growbox/mqtt"
)

// SensorReader polls the probes.
type SensorReader interface {
	Read() models.SensorReading
}

// Telemetry receives every event and a per-tick snapshot. Implementations must not block.
type Telemetry interface {
	PublishEvent(models.EventLogEntry)
	PublishDevices(mqtt.Devices)
	PublishSensors(mqtt.Sensors)
}

// Server answers at most one client per call, waiting no later than limit.
type Server interface {
	ServeOnce(limit time.Time) error
}

// Options configure a Controller.
type Options struct {
	Schedule    schedule.Config
	LogCapacity int
	Interval    time.Duration
	Location    *time.Location
	// Clock defaults to time.Now.
	Clock func() time.Time
	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// Controller ties the engine to its inputs and outputs.
type Controller struct {
	opts      Options
	actuators actuators.Set
	engine    *schedule.Engine
	sensors   SensorReader
	events    *eventlog.Log
	renderer  *dashboard.Renderer
	telemetry Telemetry
	log       *logger.Logger

	state schedule.State
	last  models.SensorReading
}

// New builds a controller. telemetry may be nil.
func New(opts Options, set actuators.Set, sensors SensorReader, renderer *dashboard.Renderer, telemetry Telemetry, log *logger.Logger) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.After == nil {
		opts.After = time.After
	}
	c := &Controller{
		opts:      opts,
		actuators: set,
		sensors:   sensors,
		events:    eventlog.New(opts.LogCapacity),
		renderer:  renderer,
		telemetry: telemetry,
		log:       log,
	}
	c.engine = schedule.NewEngine(opts.Schedule, set, recorder{c}, log.Named("schedule"))
	return c
}

// recorder appends to the log and forwards to telemetry.
type recorder struct {
	c *Controller
}

func (r recorder) Append(e models.EventLogEntry) {
	r.c.events.Append(e)
	if r.c.telemetry != nil {
		r.c.telemetry.PublishEvent(e)
	}
}

func (c *Controller) now() time.Time {
	return c.opts.Clock().In(c.opts.Location)
}

// State returns the current schedule state.
func (c *Controller) State() schedule.State {
	return c.state
}

// Events returns the log entries, newest first.
func (c *Controller) Events() []models.EventLogEntry {
	return c.events.Snapshot()
}

// LastReading is the reading taken on the most recent tick.
func (c *Controller) LastReading() models.SensorReading {
	return c.last
}

// Tick polls the sensors and applies every rule once.
func (c *Controller) Tick() error {
	now := c.now()
	c.last = c.sensors.Read()

	st, err := c.engine.Tick(c.state, now, c.last)
	c.state = st
	c.publishSnapshot(now)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	return nil
}

func (c *Controller) publishSnapshot(now time.Time) {
	if c.telemetry == nil {
		return
	}
	ts := now.Format(time.RFC3339)
	lastFan := ""
	if !c.state.LastFanRun.IsZero() {
		lastFan = c.state.LastFanRun.Format(time.RFC3339)
	}
	c.telemetry.PublishDevices(mqtt.Devices{
		Light:      c.state.Light.String(),
		Fan:        c.state.Fan.String(),
		Pump:       c.state.Pump.String(),
		LastFanRun: lastFan,
		Timestamp:  ts,
	})
	c.telemetry.PublishSensors(mqtt.Sensors{SensorReading: c.last, Timestamp: ts})
}

// RunPumpManual runs the pump on behalf of a dashboard request.
func (c *Controller) RunPumpManual() error {
	st, err := c.engine.RunPumpManual(c.state, c.now(), c.last)
	c.state = st
	return err
}

// ExpireRuns switches off the pump and fan runs whose deadline has passed.
func (c *Controller) ExpireRuns() error {
	st, err := c.engine.ExpireRuns(c.state, c.now())
	c.state = st
	return err
}

// RenderDashboard renders the page from the current state.
func (c *Controller) RenderDashboard() ([]byte, error) {
	w := c.opts.Schedule.Window
	return c.renderer.Render(dashboard.View{
		Now:     c.now(),
		Light:   c.state.Light,
		OnSec:   w.OnSec(),
		OffSec:  w.OffSec(),
		Reading: c.last,
		Entries: c.events.Snapshot(),
	})
}

// Run loops until ctx is cancelled. Errors and panics within a tick are logged and the loop
// carries on. On exit every actuator is switched off.
//
// The server wait is capped at the nearest run deadline and runs are expired as soon as
// it returns, so a pump or fan stays on for its configured duration to within a second.
func (c *Controller) Run(ctx context.Context, srv Server) {
	c.log.Infow("control loop started", "interval", c.opts.Interval)
	defer func() {
		if err := actuators.AllOff(c.actuators); err != nil {
			c.log.Errorw("switching actuators off", "err", err)
		}
		c.log.Infow("control loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.guard(c.Tick); err != nil {
			c.log.Errorw("main loop error", "err", err)
		}
		if err := c.guard(func() error { return srv.ServeOnce(c.state.NextDeadline()) }); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Errorw("status server error", "err", err)
		}
		if err := c.guard(c.ExpireRuns); err != nil {
			c.log.Errorw("expiring runs", "err", err)
		}

		if !c.pause(ctx) {
			return
		}
	}
}

// pause sleeps for Interval, waking at run deadlines to switch those runs off. Every
// expiry restarts the full Interval, so an actuator is off for at least that long before
// the next tick may start it again. It reports false once ctx is cancelled.
func (c *Controller) pause(ctx context.Context) bool {
	end := c.now().Add(c.opts.Interval)
	for {
		if ctx.Err() != nil {
			return false
		}
		wake, next := end, c.state.NextDeadline()
		expiring := !next.IsZero() && next.Before(end)
		if expiring {
			wake = next
		}
		if d := wake.Sub(c.now()); d > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-c.opts.After(d):
			}
		}
		if !expiring {
			return true
		}

		if err := c.guard(c.ExpireRuns); err != nil {
			c.log.Errorw("expiring runs", "err", err)
			return true
		}
		// no progress means the deadline is still pending; leave it to the next tick.
		if after := c.state.NextDeadline(); !after.IsZero() && !after.After(next) {
			return true
		}
		if restart := c.now().Add(c.opts.Interval); restart.After(end) {
			end = restart
		}
	}
}

func (c *Controller) guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Join(err, fmt.Errorf("recovered panic: %v", p))
		}
	}()
	return fn()
}
