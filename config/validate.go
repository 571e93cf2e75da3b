package config

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Validate checks the settings. It does not modify them.
func Validate(s *Settings) error {
	switch s.Bus.Driver {
	case "embd", "periph":
	default:
		return fmt.Errorf("config: bus.driver %q must be embd or periph", s.Bus.Driver)
	}
	if s.Bus.Driver == "embd" && s.Bus.Number < 0 {
		return fmt.Errorf("config: bus.number %d must not be negative with embd", s.Bus.Number)
	}

	// 0x00-0x07 and 0x78-0x7F are reserved addresses
	if s.Bus.Address < 0x08 || s.Bus.Address > 0x77 {
		return fmt.Errorf("config: bus.address %#02x outside 0x08..0x77", s.Bus.Address)
	}

	if s.Poll.IntervalMs <= 0 {
		return fmt.Errorf("config: poll.interval_ms must be positive, got %d", s.Poll.IntervalMs)
	}
	if s.Poll.MaxFailures < 1 {
		return fmt.Errorf("config: poll.max_failures must be at least 1, got %d", s.Poll.MaxFailures)
	}
	if s.Poll.CalibrationRetries < 1 {
		return fmt.Errorf("config: poll.calibration_retries must be at least 1, got %d", s.Poll.CalibrationRetries)
	}

	if s.HTTP.Listen == "" {
		return fmt.Errorf("config: http.listen must be set")
	}

	if s.Datalog.MinFreeMB < 0 {
		return fmt.Errorf("config: datalog.min_free_mb must not be negative, got %d", s.Datalog.MinFreeMB)
	}
	if s.Datalog.FlushEvery < 1 {
		return fmt.Errorf("config: datalog.flush_every must be at least 1, got %d", s.Datalog.FlushEvery)
	}

	if _, err := s.Log.ParseLevel(); err != nil {
		return err
	}
	return nil
}

// ParseLevel returns the logrus level, forced to debug when debug is set.
func (l LogConfig) ParseLevel() (log.Level, error) {
	if l.Debug {
		return log.DebugLevel, nil
	}
	if l.Level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(l.Level)
	if err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}
