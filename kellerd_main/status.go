package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/b3nn0/kellerld/common"
	"github.com/b3nn0/kellerld/sensors"
	"github.com/b3nn0/kellerld/sensors/kellerld"
)

// depthSensor is what the status page needs from the sensor.
type depthSensor interface {
	Last() (sensors.Sample, error)
	Running() bool
	CalibrationDate() kellerld.Date
	Calibration() kellerld.Calibration
}

type Status struct {
	Running         bool
	Temperature     float64
	Pressure        float64
	Depth           float64
	LastSample      time.Time
	LastSampleAge   string
	CalibrationDate string
	Mode            string
	MinPressure     *float32
	MaxPressure     *float32
	LastError       string
	Errors          map[string]uint64
	Dropped         uint64
	Clients         int
}

// sampleMessage is pushed to websocket clients for every measurement.
type sampleMessage struct {
	Time        time.Time
	Temperature float64
	Pressure    float64
	Depth       float64
}

func newSampleMessage(s sensors.Sample) []byte {
	msg, _ := json.Marshal(sampleMessage{
		Time:        s.Time,
		Temperature: s.Temperature,
		Pressure:    s.Pressure,
		Depth:       s.Depth(),
	})
	return msg
}

func (k *kellerd) status(now time.Time) Status {
	k.mu.Lock()
	defer k.mu.Unlock()

	st := Status{
		Errors:    make(map[string]uint64, len(k.errCounts)),
		LastError: k.lastError,
	}
	for kind, n := range k.errCounts {
		st.Errors[kind] = n
	}
	if k.writer != nil {
		st.Dropped = k.writer.Dropped()
	}
	if k.ws != nil {
		st.Clients = k.ws.Clients()
	}

	if k.sensor == nil {
		st.LastSampleAge = common.HumanizeAge(time.Time{}, now)
		return st
	}
	st.Running = k.sensor.Running()
	st.CalibrationDate = k.sensor.CalibrationDate().String()
	cal := k.sensor.Calibration()
	if cal.Mode != nil {
		st.Mode = cal.Mode.String()
	}
	st.MinPressure = cal.MinPressure
	st.MaxPressure = cal.MaxPressure

	if s, err := k.sensor.Last(); err == nil {
		st.Temperature = s.Temperature
		st.Pressure = s.Pressure
		st.Depth = s.Depth()
		st.LastSample = s.Time
	}
	st.LastSampleAge = common.HumanizeAge(st.LastSample, now)
	return st
}

func (k *kellerd) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	statusJSON, _ := json.Marshal(k.status(time.Now()))
	w.Write(statusJSON)
}
