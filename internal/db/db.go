// Package db is the flight log: a SQLite record of every flight, the
// events and setpoints of each vehicle, their measured poses and the
// estimator variance seen while converging.
package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

// ErrNoFlight is returned when a record arrives before StartFlight.
var ErrNoFlight = errors.New("no flight in progress")

// ErrFlightNotFound is returned for an unknown flight id.
var ErrFlightNotFound = errors.New("flight not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// DB is the flight log. It implements vehicle.EventSink and
// estimator.SampleSink for the flight in progress.
type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock

	mu     sync.Mutex
	flight string
}

// NewDB opens the database at path and applies pending migrations.
func NewDB(path string) (*DB, error) {
	return NewDBWithClock(path, timeutil.RealClock{})
}

// NewDBWithClock is NewDB with an injected clock for record timestamps.
func NewDBWithClock(path string, clock timeutil.Clock) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path, clock: clock}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Flight is one run of a choreography.
type Flight struct {
	ID           string   `json:"id"`
	Choreography string   `json:"choreography"`
	Bodies       []string `json:"bodies"`
	StartedNs    int64    `json:"started_ns"`
	EndedNs      int64    `json:"ended_ns,omitempty"`
	Outcome      string   `json:"outcome,omitempty"`
}

// StartFlight opens a new flight and makes it the target of later records.
func (db *DB) StartFlight(choreography string, bodies []string) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.flight != "" {
		return "", fmt.Errorf("flight %s is still in progress", db.flight)
	}

	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO flights (flight_id, choreography, bodies, started_ns) VALUES (?, ?, ?, ?)`,
		id, choreography, strings.Join(bodies, ","), db.clock.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start flight: %w", err)
	}
	db.flight = id
	return id, nil
}

// EndFlight closes the flight in progress with an outcome such as
// "completed" or "aborted".
func (db *DB) EndFlight(outcome string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.flight == "" {
		return ErrNoFlight
	}
	_, err := db.Exec(
		`UPDATE flights SET ended_ns = ?, outcome = ? WHERE flight_id = ?`,
		db.clock.Now().UnixNano(), outcome, db.flight,
	)
	if err != nil {
		return fmt.Errorf("failed to end flight: %w", err)
	}
	db.flight = ""
	return nil
}

// CurrentFlight returns the id of the flight in progress, or "".
func (db *DB) CurrentFlight() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flight
}

func (db *DB) current() (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.flight == "" {
		return "", ErrNoFlight
	}
	return db.flight, nil
}

// RecordEvent stores a session event.
func (db *DB) RecordEvent(body, kind, detail string) error {
	id, err := db.current()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO flight_events (flight_id, body, kind, detail, ts_ns) VALUES (?, ?, ?, ?, ?)`,
		id, body, kind, detail, db.clock.Now().UnixNano(),
	)
	return err
}

// RecordSetpoint stores a commanded position.
func (db *DB) RecordSetpoint(body string, target geom.Pose) error {
	id, err := db.current()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO flight_setpoints (flight_id, body, x, y, z, yaw, ts_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, body, target.X, target.Y, target.Z, target.YawOrZero(), db.clock.Now().UnixNano(),
	)
	return err
}

// RecordPose stores a measured position. Untracked poses are skipped.
func (db *DB) RecordPose(body string, p geom.Pose, trackingLoss int) error {
	if !p.IsValid() {
		return nil
	}
	id, err := db.current()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO flight_poses (flight_id, body, x, y, z, tracking_loss, ts_ns) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, body, p.X, p.Y, p.Z, trackingLoss, db.clock.Now().UnixNano(),
	)
	return err
}

// RecordVariance stores an estimator variance sample.
func (db *DB) RecordVariance(body string, varX, varY, varZ float64) error {
	id, err := db.current()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO flight_variance (flight_id, body, var_x, var_y, var_z, ts_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		id, body, varX, varY, varZ, db.clock.Now().UnixNano(),
	)
	return err
}

// AttachAdminRoutes mounts tailsql and a backup download on the debug mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Flight log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the flight log now", http.HandlerFunc(db.handleBackup))
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("flightlog-backup-%d.db", db.clock.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup: %v", err)
	}
}
