package actuators

import (
	"fmt"

	"furitingoasis/growbox/internal/models"
)

// Memory is an in-process actuator set used in simulation mode.
type Memory struct {
	state map[models.Actuator]bool
	// Writes records every successful Set call in order.
	Writes []Write
	// Fail makes Set return this error for the matching actuator.
	Fail map[models.Actuator]error
}

// Write is one recorded Set call.
type Write struct {
	Name models.Actuator
	On   bool
}

// NewMemory returns a set with every known actuator off.
func NewMemory() *Memory {
	m := &Memory{state: make(map[models.Actuator]bool, len(models.Actuators))}
	for _, name := range models.Actuators {
		m.state[name] = false
	}
	return m
}

// Set switches an actuator unless Fail holds an error for it.
func (m *Memory) Set(name models.Actuator, on bool) error {
	if _, ok := m.state[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActuator, name)
	}
	if err := m.Fail[name]; err != nil {
		return err
	}
	m.state[name] = on
	m.Writes = append(m.Writes, Write{Name: name, On: on})
	return nil
}

// State reports whether the actuator is on.
func (m *Memory) State(name models.Actuator) bool {
	return m.state[name]
}
