package kellerld

import (
	"errors"
	"fmt"
)

var (
	ErrUncalibrated     = errors.New("kellerld: must get calibration info before use")
	ErrBusy             = errors.New("kellerld: sensor busy, wait for measurement")
	ErrIncorrectMode    = errors.New("kellerld: sensor is not in normal mode")
	ErrChecksumMismatch = errors.New("kellerld: checksum mismatch")
	ErrUnexpectedValue  = errors.New("kellerld: unexpected register value")
	ErrClosed           = errors.New("kellerld: driver destroyed")
)

// BusError is returned when the underlying bus fails during an exchange.
// The original bus error is kept and can be inspected with errors.Is / errors.As.
type BusError struct {
	Cmd byte   // command byte of the failing exchange
	Op  string // "write" or "read"
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("kellerld: I2C %s failed (cmd %#02x): %v", e.Op, e.Cmd, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err only means the sensor was not ready yet.
// Every other error needs corrective action first.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
