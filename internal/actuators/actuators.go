// Package actuators switches the light, fan and pump outputs.
package actuators

import (
	"errors"
	"fmt"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"

	"furitingoasis/growbox/internal/models"
)

// ErrUnknownActuator is returned when a name has no output wired to it.
var ErrUnknownActuator = errors.New("unknown actuator")

// Set is the on/off control surface of the box.
type Set interface {
	Set(name models.Actuator, on bool) error
	State(name models.Actuator) bool
}

type relay interface {
	On() error
	Off() error
}

// RelayBank drives one gobot relay per actuator.
type RelayBank struct {
	relays   map[models.Actuator]relay
	devices  []gobot.Device
	state    map[models.Actuator]bool
	inverted bool
}

// NewRelayBank builds relay drivers on the given pins. With inverted set, the load is
// energised by driving the relay off, for boards whose relays are wired active-low.
func NewRelayBank(w gpio.DigitalWriter, pins map[models.Actuator]string, inverted bool) *RelayBank {
	b := &RelayBank{
		relays:   make(map[models.Actuator]relay, len(pins)),
		state:    make(map[models.Actuator]bool, len(pins)),
		inverted: inverted,
	}
	for _, name := range models.Actuators {
		pin, ok := pins[name]
		if !ok {
			continue
		}
		d := gpio.NewRelayDriver(w, pin)
		b.relays[name] = d
		b.devices = append(b.devices, d)
	}
	return b
}

// Devices returns the relay drivers for registration with a robot.
func (b *RelayBank) Devices() []gobot.Device {
	return b.devices
}

// Set switches name on or off.
func (b *RelayBank) Set(name models.Actuator, on bool) error {
	r, ok := b.relays[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, name)
	}
	var err error
	if on != b.inverted {
		err = r.On()
	} else {
		err = r.Off()
	}
	if err != nil {
		return fmt.Errorf("switching %s %s: %w", name, models.Switch(on), err)
	}
	b.state[name] = on
	return nil
}

// State reports the last successfully written state of name.
func (b *RelayBank) State(name models.Actuator) bool {
	return b.state[name]
}

// AllOff switches every output off, returning the first error.
func AllOff(s Set) error {
	var errs []error
	for _, name := range models.Actuators {
		if err := s.Set(name, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
