// Package gpio implements the indicator LED and pairing button collaborators
// of SPEC_FULL.md §4.8, over periph.io/x/conn and periph.io/x/host. The
// teacher does not touch GPIO directly; this package is grounded on another
// pack repo, seedhammer-seedhammer's input/input.go (button edge-detection
// idiom: periph.io/x/host.Init(), gpio.PinIn, WaitForEdge) and on
// periph.io/x/conn/v3/gpio/gpioreg's ByName lookup, used the same way the
// EdgeFlow nrf24l01 node driver resolves a configured pin name.
package gpio

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInitialised bool

func ensureHost() error {
	if hostInitialised {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: host init: %w", err)
	}
	hostInitialised = true
	return nil
}

// IndicatorPin drives the pairing-state LED (configure_indicator, §4.8).
type IndicatorPin interface {
	// Set drives the pin to represent "on"; inversion is applied by the
	// implementation so callers never need to know the wiring polarity.
	Set(on bool) error
}

// ButtonPin reads the pairing button (configure_pairing_button, §4.8).
type ButtonPin interface {
	// Pressed reports the button's current logical state; normally-closed
	// wiring is resolved by the implementation.
	Pressed() (bool, error)
}

// physicalIndicator drives a real output pin.
type physicalIndicator struct {
	pin      gpio.PinIO
	inverted bool
}

// OpenIndicator resolves pinName (e.g. "GPIO17") via gpioreg and configures
// it as an output. inverted matches configure_indicator(pin, inverted).
func OpenIndicator(pinName string, inverted bool) (IndicatorPin, error) {
	if err := ensureHost(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio: no such pin %q", pinName)
	}
	level := gpio.Low
	if inverted {
		level = gpio.High
	}
	if err := pin.Out(level); err != nil {
		return nil, fmt.Errorf("gpio: configure indicator %q: %w", pinName, err)
	}
	return &physicalIndicator{pin: pin, inverted: inverted}, nil
}

func (p *physicalIndicator) Set(on bool) error {
	level := gpio.Level(on)
	if p.inverted {
		level = !level
	}
	return p.pin.Out(level)
}

// physicalButton reads a real input pin.
type physicalButton struct {
	pin            gpio.PinIn
	normallyClosed bool
}

// OpenButton resolves pinName via gpioreg and configures it as a pulled-up
// input, matching seedhammer's input.go setupButtons idiom. normallyClosed
// matches configure_pairing_button(pin, normally_closed): a normally-closed
// switch reads Low while at rest, so "pressed" is the inverse of a
// normally-open switch's reading.
func OpenButton(pinName string, normallyClosed bool) (ButtonPin, error) {
	if err := ensureHost(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio: no such pin %q", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("gpio: configure button %q: %w", pinName, err)
	}
	return &physicalButton{pin: pin, normallyClosed: normallyClosed}, nil
}

func (b *physicalButton) Pressed() (bool, error) {
	low := b.pin.Read() == gpio.Low
	if b.normallyClosed {
		return !low, nil
	}
	return low, nil
}

// debounce is the edge-settle window used before a button read is trusted,
// matching seedhammer's 10ms debounceTimeout.
const debounce = 10 * time.Millisecond

// WaitSettled blocks for the debounce window; callers poll Pressed()
// before and after to confirm a stable reading, since this module's FSM
// polls GPIO from tick() rather than running a dedicated edge-watcher
// goroutine like seedhammer's input.go does.
func WaitSettled() {
	time.Sleep(debounce)
}
