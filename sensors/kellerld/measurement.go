package kellerld

import "fmt"

// PressureMode is the zero reference of the sensor.
type PressureMode byte

const (
	Vented   PressureMode = iota // zero at atmospheric pressure
	Sealed                       // zero at 1.0 bar
	Absolute                     // zero at vacuum
)

// Offset returns the pressure in bar to add to a reading so it becomes absolute.
func (m PressureMode) Offset() float64 {
	switch m {
	case Vented:
		return AtmosphericPressure
	case Sealed:
		return 1.0
	default:
		return 0.0
	}
}

func (m PressureMode) String() string {
	switch m {
	case Vented:
		return "vented"
	case Sealed:
		return "sealed"
	case Absolute:
		return "absolute"
	}
	return fmt.Sprintf("PressureMode(%d)", byte(m))
}

func decodePressureMode(scaling0 uint16) (PressureMode, error) {
	switch scaling0 & scalingModeMask {
	case 0:
		return Vented, nil
	case 1:
		return Sealed, nil
	case 2:
		return Absolute, nil
	}
	return 0, ErrUnexpectedValue
}

// Date is the calibration date stored in the scaling_0 register.
type Date struct {
	Year  uint16
	Month uint8
	Day   uint8
}

func decodeDate(scaling0 uint16) Date {
	return Date{
		Year:  scalingBaseYear + scaling0>>scalingYearShift,
		Month: uint8((scaling0 & scalingMonthMask) >> 7),
		Day:   uint8((scaling0 & scalingDayMask) >> 2),
	}
}

func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d-%d", d.Day, d.Month, d.Year)
}

// Measurement is a single sample read from the sensor.
type Measurement struct {
	Temperature float64 // degrees C
	Pressure    float64 // bar
}

// Depth returns the depth underwater in metres implied by the pressure.
func (m Measurement) Depth() float64 {
	return 100 * (m.Pressure - AtmosphericPressure) / 9.81
}

// DecodeTemperature converts a raw temperature reading to degrees C.
// The shift and the -24 happen on the integer value, matching the datasheet formula.
func DecodeTemperature(raw uint16) float64 {
	t := int32(raw>>4) - 24
	return float64(t)*0.05 - 50.0
}

// CalibrationState tells how much of the calibration has been read from the sensor.
type CalibrationState int

const (
	Uncalibrated CalibrationState = iota
	PartiallyCalibrated
	Calibrated
)

func (s CalibrationState) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case PartiallyCalibrated:
		return "partially calibrated"
	case Calibrated:
		return "calibrated"
	}
	return fmt.Sprintf("CalibrationState(%d)", int(s))
}

// Calibration holds the values needed to convert raw pressure. A nil field has not been read yet.
type Calibration struct {
	Mode        *PressureMode
	MinPressure *float32 // bar
	MaxPressure *float32 // bar
}

// NewCalibration returns a complete calibration.
func NewCalibration(mode PressureMode, minPressure, maxPressure float32) Calibration {
	return Calibration{Mode: &mode, MinPressure: &minPressure, MaxPressure: &maxPressure}
}

func (c Calibration) State() CalibrationState {
	n := 0
	if c.Mode != nil {
		n++
	}
	if c.MinPressure != nil {
		n++
	}
	if c.MaxPressure != nil {
		n++
	}
	switch n {
	case 0:
		return Uncalibrated
	case 3:
		return Calibrated
	}
	return PartiallyCalibrated
}

// DecodePressure converts a raw pressure reading to bar. It fails with ErrUncalibrated
// unless mode, min and max pressure are all known.
func (c Calibration) DecodePressure(raw uint16) (float64, error) {
	if c.State() != Calibrated {
		return 0, ErrUncalibrated
	}
	lo, hi := float64(*c.MinPressure), float64(*c.MaxPressure)
	return (float64(raw)/rawPressureScale-0.5)*(hi-lo) + lo + c.Mode.Offset(), nil
}

func (c Calibration) clone() Calibration {
	var out Calibration
	if c.Mode != nil {
		m := *c.Mode
		out.Mode = &m
	}
	if c.MinPressure != nil {
		v := *c.MinPressure
		out.MinPressure = &v
	}
	if c.MaxPressure != nil {
		v := *c.MaxPressure
		out.MaxPressure = &v
	}
	return out
}
