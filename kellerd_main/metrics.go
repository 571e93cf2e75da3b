package main

import (
	"errors"

	"github.com/b3nn0/kellerld/sensors"
	"github.com/b3nn0/kellerld/sensors/kellerld"
	"github.com/prometheus/client_golang/prometheus"
)

// Initialize Prometheus metrics.
var (
	currentTemperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kellerld_temperature_celsius",
		Help: "Last temperature read from the sensor.",
	})

	currentPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kellerld_pressure_bar",
		Help: "Last pressure read from the sensor.",
	})

	currentDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kellerld_depth_metres",
		Help: "Depth underwater derived from the last pressure.",
	})

	calibrated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kellerld_calibrated",
		Help: "1 while a calibrated sensor is being read.",
	})

	totalSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kellerld_samples_total",
		Help: "Measurements read from the sensor.",
	})

	totalReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kellerld_read_errors_total",
			Help: "Failed reads by kind.",
		},
		[]string{"kind"},
	)
)

func registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(currentTemperature)
	reg.MustRegister(currentPressure)
	reg.MustRegister(currentDepth)
	reg.MustRegister(calibrated)
	reg.MustRegister(totalSamples)
	reg.MustRegister(totalReadErrors)
}

func observeSample(s sensors.Sample) {
	currentTemperature.Set(s.Temperature)
	currentPressure.Set(s.Pressure)
	currentDepth.Set(s.Depth())
	totalSamples.Inc()
}

func observeError(err error) string {
	kind := errorKind(err)
	totalReadErrors.With(prometheus.Labels{"kind": kind}).Inc()
	return kind
}

// errorKind classifies a driver error for metrics and status.
func errorKind(err error) string {
	var busErr *kellerld.BusError
	switch {
	case errors.Is(err, kellerld.ErrBusy):
		return "busy"
	case errors.Is(err, kellerld.ErrIncorrectMode):
		return "incorrect_mode"
	case errors.Is(err, kellerld.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, kellerld.ErrUncalibrated):
		return "uncalibrated"
	case errors.Is(err, kellerld.ErrUnexpectedValue):
		return "unexpected_value"
	case errors.Is(err, kellerld.ErrClosed):
		return "closed"
	case errors.As(err, &busErr):
		return "bus"
	}
	return "other"
}
