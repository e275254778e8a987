// Package gpio adapts host GPIO pins to the line interfaces used by the
// event multiplexer.
package gpio

import (
	"github.com/cockroachdb/errors"
	pgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
)

// Button is a pulled-up input pin. The line reads low while the button
// is held. It implements gpiomux.InputLine.
type Button struct {
	pin pgpio.PinIO
}

// OpenButton configures the named pin as a pulled-up input.
func OpenButton(name string) (*Button, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Newf("gpio pin %s not found", name)
	}
	if err := pin.In(pgpio.PullUp, pgpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "configuring pin %s as input", name)
	}
	return &Button{pin: pin}, nil
}

// Read reports whether the button is currently held.
func (b *Button) Read() (bool, error) {
	return b.pin.Read() == pgpio.Low, nil
}

// LED is an output pin driving an indicator. It implements
// gpiomux.OutputLine.
type LED struct {
	name string
	pin  pgpio.PinIO
}

// OpenLED configures the named pin as an output, initially off.
func OpenLED(name string) (*LED, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Newf("gpio pin %s not found", name)
	}
	if err := pin.Out(pgpio.Low); err != nil {
		return nil, errors.Wrapf(err, "configuring pin %s as output", name)
	}
	return &LED{name: name, pin: pin}, nil
}

func (l *LED) Set(on bool) error {
	level := pgpio.Low
	if on {
		level = pgpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return errors.Wrapf(err, "writing pin %s", l.name)
	}
	return nil
}
