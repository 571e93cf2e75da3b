/*
	kellerd.go: Read a Keller LD pressure sensor over I2C, export the readings as
	Prometheus metrics, JSON status and a websocket stream, and log them to SQLite.
*/

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/b3nn0/kellerld/common"
	"github.com/b3nn0/kellerld/config"
	"github.com/b3nn0/kellerld/datalog"
	"github.com/b3nn0/kellerld/sensors"
	"github.com/b3nn0/kellerld/sensors/i2cbus"
	"github.com/b3nn0/kellerld/sensors/kellerld"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/takama/daemon"
)

const (
	// name of the service
	name        = "kellerd"
	description = "Keller LD pressure sensor logger"

	// how often to check the sensor is still being read
	reconnectInterval = 4 * time.Second
)

// sensorHandle is a running sensor the daemon can recalibrate and take the bus back from.
type sensorHandle interface {
	depthSensor
	Recalibrate() (kellerld.Date, error)
	Release() kellerld.Bus
}

type sensorFactory func(bus kellerld.Bus, address byte, opts sensors.KellerLDOptions) (sensorHandle, error)

func newKellerLD(bus kellerld.Bus, address byte, opts sensors.KellerLDOptions) (sensorHandle, error) {
	return sensors.NewKellerLD(bus, address, opts)
}

type kellerd struct {
	newSensor sensorFactory
	ws        *broadcaster

	mu        sync.Mutex
	settings  *config.Settings
	bus       kellerld.Bus // nil while a sensor owns the bus
	busCloser io.Closer
	sensor    sensorHandle
	dlog      *datalog.Log
	writer    *datalog.Writer
	errCounts map[string]uint64
	lastError string
	closed    bool // set by shutdown; nothing may take the bus afterwards

	stop     chan struct{}
	stopOnce sync.Once
}

func newKellerd(settings *config.Settings, bus kellerld.Bus, busCloser io.Closer, newSensor sensorFactory) *kellerd {
	return &kellerd{
		newSensor: newSensor,
		ws:        newBroadcaster(),
		settings:  settings,
		bus:       bus,
		busCloser: busCloser,
		errCounts: make(map[string]uint64),
		stop:      make(chan struct{}),
	}
}

// start opens the data log, connects to the sensor and keeps reconnecting it in the background.
func (k *kellerd) start() error {
	if path := k.settings.Datalog.Path; path != "" {
		dlog, err := datalog.Open(path, k.settings.Datalog.MinFreeMB)
		if err != nil {
			return err
		}
		k.dlog = dlog
	}

	if !k.connect() {
		log.Warn("Keller LD not connected yet, will keep trying")
	}
	go k.watch()
	return nil
}

// watch reconnects the sensor once its poll loop gave up.
func (k *kellerd) watch() {
	timer := time.NewTicker(reconnectInterval)
	defer timer.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-timer.C:
		}

		k.mu.Lock()
		connected := k.sensor != nil && k.sensor.Running()
		k.mu.Unlock()
		if !connected {
			log.Info("attempting Keller LD connection")
			k.connect()
		}
	}
}

func (k *kellerd) connect() bool {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return false
	}
	old := k.sensor
	k.sensor = nil
	k.mu.Unlock()

	// Release waits for the poll loop, which takes k.mu in onSample
	if old != nil {
		bus := old.Release()
		k.mu.Lock()
		k.bus = bus
		k.mu.Unlock()
	}

	k.mu.Lock()
	bus, settings := k.bus, k.settings
	k.mu.Unlock()

	opts := sensors.KellerLDOptions{
		PollInterval:       settings.Poll.Interval(),
		MaxFailures:        settings.Poll.MaxFailures,
		CalibrationRetries: settings.Poll.CalibrationRetries,
		OnSample:           k.onSample,
		OnError:            k.onError,
	}
	s, err := k.newSensor(bus, settings.Bus.Address, opts)
	if err != nil {
		observeError(err)
		calibrated.Set(0)
		log.WithError(err).Warn("couldn't initialize Keller LD")
		return false
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		bus := s.Release()
		k.mu.Lock()
		k.bus = bus
		k.mu.Unlock()
		return false
	}
	k.sensor = s
	k.bus = nil
	k.mu.Unlock()

	calibrated.Set(1)
	k.startSession(s)
	return true
}

// startSession starts a new data log session for the calibration s was last read with.
func (k *kellerd) startSession(s sensorHandle) {
	if k.dlog == nil {
		return
	}
	id, err := k.dlog.StartSession(s.CalibrationDate(), s.Calibration())
	if err != nil {
		log.WithError(err).Warn("couldn't start data log session")
		return
	}
	k.mu.Lock()
	flushEvery := k.settings.Datalog.FlushEvery
	k.mu.Unlock()
	w := datalog.NewWriter(k.dlog, id, flushEvery)

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		w.Close()
		return
	}
	old := k.writer
	k.writer = w
	k.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.WithField("session", id).Info("data log session started")
}

func (k *kellerd) onSample(s sensors.Sample) {
	observeSample(s)
	k.mu.Lock()
	if k.writer != nil {
		k.writer.Send(s)
	}
	k.mu.Unlock()
	k.ws.Send(newSampleMessage(s))
}

func (k *kellerd) onError(err error) {
	kind := observeError(err)
	k.mu.Lock()
	k.errCounts[kind]++
	k.lastError = err.Error()
	k.mu.Unlock()
	if kind != "busy" {
		log.WithError(err).WithField("kind", kind).Debug("read failed")
	}
}

// reload applies new settings and recalibrates the sensor.
func (k *kellerd) reload(settings *config.Settings) {
	k.mu.Lock()
	old := k.settings
	k.settings = settings
	s := k.sensor
	k.mu.Unlock()

	applyLogging(settings)
	if old.Bus != settings.Bus {
		log.Warn("bus settings changed, restart the daemon to apply them")
	}
	if s == nil {
		return
	}
	date, err := s.Recalibrate()
	if err != nil {
		observeError(err)
		return
	}
	log.WithField("date", date.String()).Info("recalibrated")
	k.startSession(s)
}

func (k *kellerd) shutdown() {
	k.stopOnce.Do(func() { close(k.stop) })

	k.mu.Lock()
	k.closed = true
	s, w := k.sensor, k.writer
	k.sensor, k.writer = nil, nil
	k.mu.Unlock()

	if s != nil {
		bus := s.Release()
		k.mu.Lock()
		k.bus = bus
		k.mu.Unlock()
	}
	if w != nil {
		w.Close()
	}
	if k.dlog != nil {
		if err := k.dlog.Close(); err != nil {
			log.WithError(err).Warn("closing data log")
		}
	}
	if k.busCloser != nil {
		if err := k.busCloser.Close(); err != nil {
			log.WithError(err).Warn("closing I2C bus")
		}
	}
	calibrated.Set(0)
}

func applyLogging(s *config.Settings) {
	lvl, err := s.Log.ParseLevel()
	if err != nil {
		return
	}
	log.SetLevel(lvl)
}

// flagAddress checks an -addr value fits in 7 bits.
func flagAddress(v uint) (uint8, error) {
	if v > 0x7f {
		return 0, fmt.Errorf("-addr %#x is not a 7-bit I2C address", v)
	}
	return uint8(v), nil
}

// loadSettings reads the settings file, falling back to the defaults when there is none.
func loadSettings(path string, override func(*config.Settings)) (*config.Settings, error) {
	s, err := config.Load(path)
	if os.IsNotExist(err) {
		log.Warnf("no settings at %s, using defaults", path)
		d := config.Default()
		s = &d
	} else if err != nil {
		return nil, err
	}
	override(s)
	if err := config.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Service has embedded daemon
type Service struct {
	daemon.Daemon
}

// Manage by daemon commands or run the daemon
func (service *Service) Manage() (string, error) {

	configPath := flag.String("config", config.DefaultLocation, "Settings file")
	driver := flag.String("driver", "", "I2C host driver (embd or periph), overrides the settings file")
	busNum := flag.Int("bus", 1, "I2C bus number, overrides the settings file")
	addr := flag.Uint("addr", uint(kellerld.Address), "Sensor I2C address, overrides the settings file")
	flag.Parse()

	usage := "Usage: " + name + " install | remove | start | stop | status"
	// if received any kind of command, do it
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "install":
			return service.Install()
		case "remove":
			return service.Remove()
		case "start":
			return service.Start()
		case "stop":
			return service.Stop()
		case "status":
			return service.Status()
		default:
			return usage, nil
		}
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	address, err := flagAddress(*addr)
	if set["addr"] && err != nil {
		return "", err
	}
	override := func(s *config.Settings) {
		if set["driver"] {
			s.Bus.Driver = *driver
		}
		if set["bus"] {
			s.Bus.Number = *busNum
		}
		if set["addr"] {
			s.Bus.Address = address
		}
	}

	settings, err := loadSettings(*configPath, override)
	if err != nil {
		return "", err
	}
	applyLogging(settings)

	if !common.IsRunningAsRoot() {
		log.Warn("not running as root, the I2C device may not be accessible")
	}

	bus, busCloser, err := i2cbus.Open(settings.Bus.Driver, settings.Bus.Number)
	if err != nil {
		return "", err
	}

	k := newKellerd(settings, bus, busCloser, newKellerLD)
	registerMetrics(prometheus.DefaultRegisterer)
	if err := k.start(); err != nil {
		busCloser.Close()
		return "", err
	}
	defer k.shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/", k.handleStatusRequest)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", k.ws.Handler())
	go func() {
		if err := http.ListenAndServe(settings.HTTP.Listen, mux); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}()

	// Set up channel on which to send signal notifications.
	// We must use a buffered channel or risk missing the signal
	// if we're not ready to receive when the signal is sent.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	// interrupt by system signal
	for {
		killSignal := <-interrupt
		log.Info("Got signal: ", killSignal)
		switch killSignal {
		case syscall.SIGUSR1:
			s, err := loadSettings(*configPath, override)
			if err != nil {
				log.WithError(err).Warn("can't reload settings")
				continue
			}
			k.reload(s)
		case syscall.SIGINT:
			return "Daemon was interrupted by system signal", nil
		default:
			return "Daemon was killed", nil
		}
	}
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	srv, err := daemon.New(name, description, daemon.SystemDaemon)
	if err != nil {
		log.Error("Error: ", err)
		os.Exit(1)
	}
	service := &Service{srv}
	status, err := service.Manage()
	if err != nil {
		log.Error(status, "\nError: ", err)
		os.Exit(1)
	}
	fmt.Println(status)
}
