package sensors

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/b3nn0/kellerld/sensors/kellerld"
)

var errNACK = errors.New("NACK received")

// simSensor answers like a Keller LD at any address: the response depends on the last command written.
type simSensor struct {
	mu         sync.Mutex
	cmd        byte
	regs       map[byte][]byte
	frame      []byte
	busy       int // measurement frames to answer busy before the real one
	failWrites int // writes to NACK before answering
	failReads  bool
	reads      int
}

func newSimSensor() *simSensor {
	return &simSensor{
		regs: map[byte][]byte{
			0x12: {0x40, 0x15, 0x74}, // vented, 29-10-2012
			0x13: {0x40, 0xBF, 0x80},
			0x14: {0x40, 0x00, 0x00}, // min -1.0
			0x15: {0x40, 0x41, 0x20},
			0x16: {0x40, 0x00, 0x00}, // max 10.0
		},
		frame: []byte{0x40, 0x4E, 0x20, 0x5D, 0xD1},
	}
}

func (s *simSensor) WriteByte(addr, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errNACK
	}
	s.cmd = value
	return nil
}

func (s *simSensor) ReadBytes(addr byte, num int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errNACK
	}
	if s.cmd == kellerld.CmdMeasurement {
		s.reads++
		if s.busy > 0 {
			s.busy--
			return []byte{0x40 | kellerld.StatusBusy, 0, 0, 0, 0}, nil
		}
		return append([]byte(nil), s.frame...), nil
	}
	return append([]byte(nil), s.regs[s.cmd]...), nil
}

func (s *simSensor) setFailReads(v bool) {
	s.mu.Lock()
	s.failReads = v
	s.mu.Unlock()
}

type noDelay struct{}

func (noDelay) Delay(time.Duration) {}

// countingDelay records the delays asked for without waiting.
type countingDelay struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *countingDelay) Delay(d time.Duration) {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
}

func (c *countingDelay) count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.delays {
		if v == d {
			n++
		}
	}
	return n
}

func testOptions() KellerLDOptions {
	return KellerLDOptions{
		PollInterval: time.Millisecond,
		MaxFailures:  3,
		Delay:        noDelay{},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestKellerLDReads(t *testing.T) {
	sim := newSimSensor()
	samples := make(chan Sample, 100)
	opts := testOptions()
	opts.OnSample = func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	}

	k, err := NewKellerLD(sim, kellerld.Address, opts)
	if err != nil {
		t.Fatalf("NewKellerLD: %v", err)
	}
	defer k.Close()

	if d := k.CalibrationDate(); d.String() != "29-10-2012" {
		t.Errorf("calibration date: got %s", d)
	}

	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatal("no sample received")
	}

	var r DepthReader = k
	temp, err := r.Temperature()
	if err != nil || temp < 23.84 || temp > 23.86 {
		t.Errorf("Temperature: got %f, %v", temp, err)
	}
	press, err := r.Pressure()
	want := 0.2138671875 + kellerld.AtmosphericPressure
	if err != nil || press < want-1e-6 || press > want+1e-6 {
		t.Errorf("Pressure: got %f, %v, want %f", press, err, want)
	}
	depth, err := r.Depth()
	if err != nil || depth != (kellerld.Measurement{Pressure: press}).Depth() {
		t.Errorf("Depth: got %f, %v", depth, err)
	}
}

func TestKellerLDSkipsBusy(t *testing.T) {
	sim := newSimSensor()
	sim.busy = 10
	var errs []error
	var mu sync.Mutex
	opts := testOptions()
	opts.MaxFailures = 1
	opts.OnError = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	k, err := NewKellerLD(sim, kellerld.Address, opts)
	if err != nil {
		t.Fatalf("NewKellerLD: %v", err)
	}
	defer k.Close()

	waitFor(t, "a measurement", func() bool {
		_, err := k.Last()
		return err == nil
	})
	if !k.Running() {
		t.Errorf("busy reads must not stop the sensor")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 10 {
		t.Errorf("expected 10 busy errors, got %d", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, kellerld.ErrBusy) {
			t.Errorf("unexpected error %v", err)
		}
	}
}

func TestKellerLDStopsAfterFailures(t *testing.T) {
	sim := newSimSensor()
	k, err := NewKellerLD(sim, kellerld.Address, testOptions())
	if err != nil {
		t.Fatalf("NewKellerLD: %v", err)
	}
	defer k.Close()

	sim.setFailReads(true)
	waitFor(t, "sensor to stop", func() bool { return !k.Running() })

	if _, err := k.Pressure(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Pressure after failures: got %v, want ErrNotRunning", err)
	}
}

func TestKellerLDCalibrationRetries(t *testing.T) {
	sim := newSimSensor()
	sim.failWrites = 2
	opts := testOptions()
	opts.CalibrationRetries = 3

	k, err := NewKellerLD(sim, kellerld.Address, opts)
	if err != nil {
		t.Fatalf("NewKellerLD should succeed on the third attempt: %v", err)
	}
	k.Close()

	sim = newSimSensor()
	sim.failWrites = 3
	_, err = NewKellerLD(sim, kellerld.Address, opts)
	var be *kellerld.BusError
	if !errors.As(err, &be) || !errors.Is(err, errNACK) {
		t.Errorf("expected bus error after 3 failed attempts, got %v", err)
	}
}

func TestKellerLDCalibrationRetryDelays(t *testing.T) {
	sim := newSimSensor()
	sim.failWrites = 3
	delay := &countingDelay{}
	opts := testOptions()
	opts.CalibrationRetries = 3
	opts.Delay = delay

	if _, err := NewKellerLD(sim, kellerld.Address, opts); err == nil {
		t.Fatalf("expected calibration to fail")
	}
	// no wait after the last attempt
	if n := delay.count(calibrationRetryDelay); n != 2 {
		t.Errorf("retry delays: got %d, want 2", n)
	}
}

func TestKellerLDRecalibrate(t *testing.T) {
	sim := newSimSensor()
	k, err := NewKellerLD(sim, kellerld.Address, testOptions())
	if err != nil {
		t.Fatalf("NewKellerLD: %v", err)
	}
	defer k.Close()

	sim.mu.Lock()
	sim.regs[0x12] = []byte{0x40, 0x15, 0x76} // absolute
	sim.mu.Unlock()

	if _, err := k.Recalibrate(); err != nil {
		t.Fatalf("Recalibrate: %v", err)
	}
	if cal := k.Calibration(); *cal.Mode != kellerld.Absolute {
		t.Errorf("mode after recalibration: got %v", *cal.Mode)
	}
}

func TestKellerLDRelease(t *testing.T) {
	sim := newSimSensor()
	k, err := NewKellerLD(sim, kellerld.Address, testOptions())
	if err != nil {
		t.Fatalf("NewKellerLD: %v", err)
	}
	if bus := k.Release(); bus != kellerld.Bus(sim) {
		t.Errorf("Release returned %v", bus)
	}
	if k.Running() {
		t.Errorf("sensor still running after Release")
	}
	k.Close() // second close is a no-op
}
