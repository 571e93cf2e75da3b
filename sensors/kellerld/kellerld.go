package kellerld

/*
Exchanges with the sensor are always: write one command byte, wait ReadDelay, read a fixed size frame.
The first byte of every frame is the status byte.
*/
import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// Bus is the part of an I2C bus the driver needs. embd.I2CBus satisfies it.
type Bus interface {
	WriteByte(addr, value byte) error
	ReadBytes(addr byte, num int) ([]byte, error)
}

// Delayer blocks for the given duration.
type Delayer interface {
	Delay(d time.Duration)
}

// DelayFunc adapts a function to a Delayer.
type DelayFunc func(d time.Duration)

func (f DelayFunc) Delay(d time.Duration) { f(d) }

// SleepDelay waits with time.Sleep.
var SleepDelay Delayer = DelayFunc(time.Sleep)

// Driver wraps the I2C connection and calibration values for a Keller LD sensor.
// Calls are serialized, so one exchange (or the pair of exchanges of a range fetch)
// is never interleaved with another on the same driver.
type Driver struct {
	mu      sync.Mutex
	bus     Bus
	address byte
	delay   Delayer
	cali    Calibration
}

// New returns a driver for the sensor at address. Calibration must be fetched
// with GetCalibration before pressure can be read.
func New(bus Bus, address byte, delay Delayer) *Driver {
	if delay == nil {
		delay = SleepDelay
	}
	return &Driver{
		bus:     bus,
		address: address & 0x7f,
		delay:   delay,
	}
}

// Address returns the 7-bit I2C address of the sensor.
func (d *Driver) Address() byte {
	return d.address
}

// GetCalibration reads pressure mode, min pressure and max pressure, in that order,
// and returns the calibration date. It stops at the first error; values read before
// the error stay set.
func (d *Driver) GetCalibration() (Date, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	date, err := d.getPressureMode()
	if err != nil {
		return Date{}, err
	}
	if err := d.getMinPressure(); err != nil {
		return Date{}, err
	}
	if err := d.getMaxPressure(); err != nil {
		return Date{}, err
	}
	return date, nil
}

// GetPressureMode reads the scaling_0 register, stores the pressure mode and returns
// the calibration date encoded in the same register.
func (d *Driver) GetPressureMode() (Date, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getPressureMode()
}

// GetMinPressure reads and stores the lower bound of the calibrated range.
func (d *Driver) GetMinPressure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getMinPressure()
}

// GetMaxPressure reads and stores the upper bound of the calibrated range.
func (d *Driver) GetMaxPressure() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getMaxPressure()
}

// Read requests a conversion and returns the measurement.
// ErrBusy means the sensor has not finished; poll again later.
func (d *Driver) Read() (Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var data [measurementFrameLen]byte
	if err := d.readWrite(CmdMeasurement, data[:]); err != nil {
		return Measurement{}, err
	}

	status := data[0]
	if status&StatusBusy != 0 {
		return Measurement{}, ErrBusy
	}
	if status&StatusMode != 0 {
		return Measurement{}, ErrIncorrectMode
	}
	if status&StatusChecksum != 0 {
		return Measurement{}, ErrChecksumMismatch
	}

	rawPressure := binary.BigEndian.Uint16(data[1:3])
	rawTemperature := binary.BigEndian.Uint16(data[3:5])

	pressure, err := d.cali.DecodePressure(rawPressure)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		Temperature: DecodeTemperature(rawTemperature),
		Pressure:    pressure,
	}, nil
}

// Calibration returns a copy of the calibration read so far.
func (d *Driver) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cali.clone()
}

// State reports how much of the calibration is known.
func (d *Driver) State() CalibrationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cali.State()
}

// SetCalibration replaces the calibration, e.g. with values known for a replayed sensor.
func (d *Driver) SetCalibration(c Calibration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cali = c.clone()
}

// Destroy releases the bus and returns it to the caller. The driver can't be used afterwards.
func (d *Driver) Destroy() Bus {
	d.mu.Lock()
	defer d.mu.Unlock()
	bus := d.bus
	d.bus = nil
	return bus
}

func (d *Driver) getPressureMode() (Date, error) {
	var data [registerFrameLen]byte
	if err := d.readWrite(CmdPressureMode, data[:]); err != nil {
		return Date{}, err
	}
	scaling0 := binary.BigEndian.Uint16(data[1:3])

	mode, err := decodePressureMode(scaling0)
	if err != nil {
		return Date{}, err
	}
	d.cali.Mode = &mode

	return decodeDate(scaling0), nil
}

func (d *Driver) getMinPressure() error {
	v, err := d.readFloat(CmdMinPressure)
	if err != nil {
		return err
	}
	d.cali.MinPressure = &v
	return nil
}

func (d *Driver) getMaxPressure() error {
	v, err := d.readFloat(CmdMaxPressure)
	if err != nil {
		return err
	}
	d.cali.MaxPressure = &v
	return nil
}

// readFloat reads the big endian float32 spread over the registers cmd (high half) and cmd+1 (low half).
func (d *Driver) readFloat(cmd byte) (float32, error) {
	var bytes [4]byte
	var data [registerFrameLen]byte

	if err := d.readWrite(cmd, data[:]); err != nil {
		return 0, err
	}
	copy(bytes[0:2], data[1:3])

	if err := d.readWrite(cmd+1, data[:]); err != nil {
		return 0, err
	}
	copy(bytes[2:4], data[1:3])

	return math.Float32frombits(binary.BigEndian.Uint32(bytes[:])), nil
}

func (d *Driver) readWrite(cmd byte, read []byte) error {
	if d.bus == nil {
		return ErrClosed
	}
	if err := d.bus.WriteByte(d.address, cmd); err != nil {
		return &BusError{Cmd: cmd, Op: "write", Err: err}
	}
	d.delay.Delay(ReadDelay)
	data, err := d.bus.ReadBytes(d.address, len(read))
	if err != nil {
		return &BusError{Cmd: cmd, Op: "read", Err: err}
	}
	if len(data) != len(read) {
		return &BusError{Cmd: cmd, Op: "read", Err: io.ErrUnexpectedEOF}
	}
	copy(read, data)
	return nil
}
