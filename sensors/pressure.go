// Package sensors provides a polling interface to the pressure sensors used for depth logging.
package sensors

// PressureReader provides an interface to a sensor reading pressure and temperature.
type PressureReader interface {
	Temperature() (temp float64, tempError error) // Temperature returns the temperature in degrees C.
	Pressure() (press float64, pressError error)  // Pressure returns the pressure in bar.
	Close()                                       // Close stops reading from the sensor.
}

// DepthReader is a PressureReader that also knows the depth underwater.
type DepthReader interface {
	PressureReader
	Depth() (depth float64, depthError error) // Depth returns the depth underwater in metres.
}
