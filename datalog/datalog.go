/*
	datalog.go: Log sensor samples to SQLite. One session row per calibration,
	one measurement row per sample. Oldest measurements are pruned when the disk fills up.
*/

package datalog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/b3nn0/kellerld/sensors"
	"github.com/b3nn0/kellerld/sensors/kellerld"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ricochet2200/go-disk-usage/du"
)

const (
	pruneFraction = 10 // delete 1/pruneFraction of the measurements per prune
	bytesPerMB    = 1024 * 1024
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		started INTEGER,
		calibration_date TEXT,
		mode TEXT,
		min_pressure REAL,
		max_pressure REAL)`,
	`CREATE TABLE IF NOT EXISTS measurement (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER,
		time INTEGER,
		temperature REAL,
		pressure REAL,
		depth REAL)`,
	`CREATE INDEX IF NOT EXISTS measurement_time ON measurement (time)`,
}

// Log is a SQLite measurement log.
type Log struct {
	db      *sql.DB
	dir     string
	minFree uint64
	free    func(dir string) uint64
}

// Row is a logged measurement.
type Row struct {
	Session     int64
	Time        time.Time
	Temperature float64
	Pressure    float64
	Depth       float64
}

// Open opens or creates the log at path. minFreeMB is the free space Prune keeps on the log's filesystem.
func Open(path string, minFreeMB int) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("datalog: create tables: %w", err)
		}
	}
	return &Log{
		db:      db,
		dir:     filepath.Dir(path),
		minFree: uint64(minFreeMB) * bytesPerMB,
		free:    availableBytes,
	}, nil
}

func availableBytes(dir string) uint64 {
	return du.NewDiskUsage(dir).Available()
}

// StartSession records the calibration read at the start of a session and returns the session id.
func (l *Log) StartSession(date kellerld.Date, cal kellerld.Calibration) (int64, error) {
	var (
		mode       string
		minP, maxP sql.NullFloat64
	)
	if cal.Mode != nil {
		mode = cal.Mode.String()
	}
	if cal.MinPressure != nil {
		minP = sql.NullFloat64{Float64: float64(*cal.MinPressure), Valid: true}
	}
	if cal.MaxPressure != nil {
		maxP = sql.NullFloat64{Float64: float64(*cal.MaxPressure), Valid: true}
	}

	res, err := l.db.Exec(`INSERT INTO session (started, calibration_date, mode, min_pressure, max_pressure)
		VALUES (?, ?, ?, ?, ?)`, time.Now().UnixNano(), date.String(), mode, minP, maxP)
	if err != nil {
		return 0, fmt.Errorf("datalog: insert session: %w", err)
	}
	return res.LastInsertId()
}

// Insert logs one sample.
func (l *Log) Insert(session int64, s sensors.Sample) error {
	_, err := l.db.Exec(`INSERT INTO measurement (session_id, time, temperature, pressure, depth)
		VALUES (?, ?, ?, ?, ?)`, session, s.Time.UnixNano(), s.Temperature, s.Pressure, s.Depth())
	if err != nil {
		return fmt.Errorf("datalog: insert measurement: %w", err)
	}
	return nil
}

// Since returns the measurements logged at or after t, oldest first.
func (l *Log) Since(t time.Time) ([]Row, error) {
	rows, err := l.db.Query(`SELECT session_id, time, temperature, pressure, depth FROM measurement
		WHERE time >= ? ORDER BY time, id`, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("datalog: query: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			r  Row
			ns int64
		)
		if err := rows.Scan(&r.Session, &ns, &r.Temperature, &r.Pressure, &r.Depth); err != nil {
			return nil, fmt.Errorf("datalog: scan: %w", err)
		}
		r.Time = time.Unix(0, ns)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of logged measurements.
func (l *Log) Count() (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM measurement`).Scan(&n)
	return n, err
}

// Prune deletes the oldest measurements while the disk has less than the configured free space.
// It returns the number of rows deleted.
func (l *Log) Prune() (int64, error) {
	if l.minFree == 0 || l.free(l.dir) >= l.minFree {
		return 0, nil
	}
	n, err := l.Count()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	drop := n / pruneFraction
	if drop == 0 {
		drop = 1
	}
	res, err := l.db.Exec(`DELETE FROM measurement WHERE id IN
		(SELECT id FROM measurement ORDER BY id LIMIT ?)`, drop)
	if err != nil {
		return 0, fmt.Errorf("datalog: prune: %w", err)
	}
	return res.RowsAffected()
}

func (l *Log) Close() error {
	return l.db.Close()
}
