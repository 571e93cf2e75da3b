// Package kellerld provides a driver for Keller's LD line of digital pressure & temperature transducers
// (4LD..9LD, I2C interface).
// The communication protocol is described here: https://www.kelleramerica.com/file-cache/website_component/5e2f22709d8b1060a188c35e/manuals/1580321559752
package kellerld

import "time"

const Address byte = 0x40 // default I2C address

const (
	CmdMeasurement  byte = 0xAC // request a pressure & temperature conversion
	CmdPressureMode byte = 0x12 // scaling_0: pressure mode and calibration date
	CmdMinPressure  byte = 0x13 // scaling_1 (high half), scaling_2 (low half) at +1
	CmdMaxPressure  byte = 0x15 // scaling_3 (high half), scaling_4 (low half) at +1
)

// ReadDelay is how long the sensor needs between a command and its response.
const ReadDelay = 10 * time.Millisecond

const (
	registerFrameLen    = 3 // status + 16 bit register
	measurementFrameLen = 5 // status + 16 bit pressure + 16 bit temperature
)

// Status byte flags, present in the first byte of every response.
const (
	StatusBusy     byte = 1 << 5
	StatusMode     byte = 0b11 << 3 // anything but 00 means the sensor is not in normal mode
	StatusChecksum byte = 1 << 2    // memory checksum error reported by the sensor
)

// scaling_0 layout: yyyyy mmmm ddddd x pp
const (
	scalingModeMask  uint16 = 0b11
	scalingDayMask   uint16 = 0b11111 << 2
	scalingMonthMask uint16 = 0b1111 << 7
	scalingYearShift        = 11
	scalingBaseYear  uint16 = 2010
)

// AtmosphericPressure in bar, the zero of a vented sensor.
const AtmosphericPressure = 1.01325

// rawPressureScale is the raw pressure span of the calibrated range:
// 16384 reads as min pressure, 49152 as max pressure (before the mode offset).
const rawPressureScale = 32768.0
