package sensors

import (
	"errors"
	"sync"
	"time"

	"github.com/b3nn0/kellerld/sensors/kellerld"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval       = 100 * time.Millisecond
	defaultMaxFailures        = 5
	defaultCalibrationRetries = 5
	calibrationRetryDelay     = 50 * time.Millisecond
)

var (
	ErrNotRunning = errors.New("kellerld: sensor is not running")
	errNoSample   = errors.New("kellerld: no measurement yet")
)

// Sample is a measurement and the time it was read.
type Sample struct {
	kellerld.Measurement
	Time time.Time
}

// KellerLDOptions tune the poll loop. Zero values take the defaults.
type KellerLDOptions struct {
	PollInterval       time.Duration
	MaxFailures        int // consecutive failed reads before the sensor is closed
	CalibrationRetries int
	Delay              kellerld.Delayer // settle and calibration retry delays, time.Sleep if nil

	OnSample func(Sample) // called from the poll goroutine for every measurement
	OnError  func(error)  // called from the poll goroutine for every failed read, busy included
}

// KellerLD polls a Keller LD sensor and implements DepthReader.
type KellerLD struct {
	sensor *kellerld.Driver
	opts   KellerLDOptions
	log    *log.Entry

	mu      sync.RWMutex
	last    Sample
	date    kellerld.Date
	running bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewKellerLD calibrates the sensor at address and starts reading it.
func NewKellerLD(bus kellerld.Bus, address byte, opts KellerLDOptions) (*KellerLD, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	if opts.CalibrationRetries <= 0 {
		opts.CalibrationRetries = defaultCalibrationRetries
	}

	k := &KellerLD{
		sensor: kellerld.New(bus, address, opts.Delay),
		opts:   opts,
		log:    log.WithFields(log.Fields{"sensor": "kellerld", "address": address}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	retryDelay := opts.Delay
	if retryDelay == nil {
		retryDelay = kellerld.SleepDelay
	}

	// retry to calibrate until the sensor answers
	var (
		date kellerld.Date
		err  error
	)
	for n := 0; n < opts.CalibrationRetries; n++ {
		date, err = k.sensor.GetCalibration()
		if err == nil {
			break
		}
		k.log.WithError(err).Warnf("calibration attempt %d/%d failed", n+1, opts.CalibrationRetries)
		if n < opts.CalibrationRetries-1 {
			retryDelay.Delay(calibrationRetryDelay)
		}
	}
	if err != nil {
		return nil, err
	}

	k.date = date
	k.running = true
	cal := k.sensor.Calibration()
	k.log.WithFields(log.Fields{
		"date": date.String(),
		"mode": cal.Mode.String(),
		"min":  *cal.MinPressure,
		"max":  *cal.MaxPressure,
	}).Info("calibrated")

	go k.run()
	return k, nil
}

func (k *KellerLD) run() {
	defer close(k.done)

	clock := time.NewTicker(k.opts.PollInterval)
	defer clock.Stop()

	failnum := 0
	for {
		select {
		case <-k.stop:
			return
		case <-clock.C:
		}

		m, err := k.sensor.Read()
		if err != nil {
			if k.opts.OnError != nil {
				k.opts.OnError(err)
			}
			if kellerld.Retryable(err) {
				continue
			}
			failnum++
			k.log.WithError(err).Debugf("read failed (%d in a row)", failnum)
			if failnum >= k.opts.MaxFailures {
				k.log.WithError(err).Errorf("couldn't read sensor %d times, closing", failnum)
				k.mu.Lock()
				k.running = false
				k.mu.Unlock()
				return
			}
			continue
		}
		failnum = 0

		s := Sample{Measurement: m, Time: time.Now()}
		k.mu.Lock()
		k.last = s
		k.mu.Unlock()
		if k.opts.OnSample != nil {
			k.opts.OnSample(s)
		}
	}
}

// Last returns the most recent sample.
func (k *KellerLD) Last() (Sample, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.running {
		return Sample{}, ErrNotRunning
	}
	if k.last.Time.IsZero() {
		return Sample{}, errNoSample
	}
	return k.last, nil
}

// Temperature returns the last temperature in degrees C.
func (k *KellerLD) Temperature() (float64, error) {
	s, err := k.Last()
	if err != nil {
		return 0, err
	}
	return s.Temperature, nil
}

// Pressure returns the last pressure in bar.
func (k *KellerLD) Pressure() (float64, error) {
	s, err := k.Last()
	if err != nil {
		return 0, err
	}
	return s.Pressure, nil
}

// Depth returns the depth underwater in metres for the last pressure.
func (k *KellerLD) Depth() (float64, error) {
	s, err := k.Last()
	if err != nil {
		return 0, err
	}
	return s.Depth(), nil
}

// Running reports whether the poll loop is still reading the sensor.
func (k *KellerLD) Running() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

func (k *KellerLD) CalibrationDate() kellerld.Date {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.date
}

func (k *KellerLD) Calibration() kellerld.Calibration {
	return k.sensor.Calibration()
}

// Recalibrate fetches the calibration again while the poll loop keeps running.
func (k *KellerLD) Recalibrate() (kellerld.Date, error) {
	date, err := k.sensor.GetCalibration()
	if err != nil {
		k.log.WithError(err).Warn("recalibration failed")
		return kellerld.Date{}, err
	}
	k.mu.Lock()
	k.date = date
	k.mu.Unlock()
	return date, nil
}

// Close stops the poll loop and waits for it to exit.
func (k *KellerLD) Close() {
	k.stopOnce.Do(func() { close(k.stop) })
	<-k.done
	k.mu.Lock()
	k.running = false
	k.mu.Unlock()
}

// Release closes the sensor and hands the bus back to the caller.
func (k *KellerLD) Release() kellerld.Bus {
	k.Close()
	return k.sensor.Destroy()
}
