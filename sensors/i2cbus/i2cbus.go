// Package i2cbus opens the host I2C bus a sensor driver talks through.
package i2cbus

import (
	"fmt"
	"io"

	"github.com/b3nn0/kellerld/sensors/kellerld"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	DriverEmbd   = "embd"
	DriverPeriph = "periph"
)

// Open opens I2C bus number with the named host driver. A negative number lets periph pick the first bus.
// The returned closer releases the bus.
func Open(driver string, number int) (kellerld.Bus, io.Closer, error) {
	switch driver {
	case "", DriverEmbd:
		if number < 0 || number > 255 {
			return nil, nil, fmt.Errorf("i2cbus: embd bus number %d out of range", number)
		}
		if err := embd.InitI2C(); err != nil {
			return nil, nil, fmt.Errorf("i2cbus: embd init: %w", err)
		}
		bus := embd.NewI2CBus(byte(number))
		return bus, closerFunc(embd.CloseI2C), nil

	case DriverPeriph:
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("i2cbus: periph init: %w", err)
		}
		name := ""
		if number >= 0 {
			name = fmt.Sprintf("/dev/i2c-%d", number)
		}
		bus, err := i2creg.Open(name)
		if err != nil {
			return nil, nil, fmt.Errorf("i2cbus: open %q: %w", name, err)
		}
		return &Periph{Bus: bus}, bus, nil
	}
	return nil, nil, fmt.Errorf("i2cbus: unknown driver %q", driver)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Periph adapts a periph.io I2C bus to kellerld.Bus.
type Periph struct {
	Bus i2c.Bus
}

func (p *Periph) WriteByte(addr, value byte) error {
	return p.Bus.Tx(uint16(addr), []byte{value}, nil)
}

func (p *Periph) ReadBytes(addr byte, num int) ([]byte, error) {
	buf := make([]byte, num)
	if err := p.Bus.Tx(uint16(addr), nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Periph) String() string {
	return p.Bus.String()
}
