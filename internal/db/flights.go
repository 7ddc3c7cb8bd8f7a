package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Event is a recorded session event.
type Event struct {
	Body   string `json:"body"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	TsNs   int64  `json:"ts_ns"`
}

// Sample is a recorded position, either measured or commanded.
type Sample struct {
	Body         string  `json:"body"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	Yaw          float64 `json:"yaw,omitempty"`
	TrackingLoss int     `json:"tracking_loss,omitempty"`
	TsNs         int64   `json:"ts_ns"`
}

// Variance is a recorded estimator variance sample.
type Variance struct {
	Body string  `json:"body"`
	VarX float64 `json:"var_x"`
	VarY float64 `json:"var_y"`
	VarZ float64 `json:"var_z"`
	TsNs int64   `json:"ts_ns"`
}

const flightColumns = `flight_id, choreography, bodies, started_ns, ended_ns, outcome`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFlight(row rowScanner) (Flight, error) {
	var (
		f       Flight
		bodies  string
		ended   sql.NullInt64
		outcome sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Choreography, &bodies, &f.StartedNs, &ended, &outcome); err != nil {
		return Flight{}, err
	}
	if bodies != "" {
		f.Bodies = strings.Split(bodies, ",")
	}
	f.EndedNs = ended.Int64
	f.Outcome = outcome.String
	return f, nil
}

// Flights returns up to limit flights, newest first. A limit of 0 returns
// the 100 most recent.
func (db *DB) Flights(limit int) ([]Flight, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+flightColumns+` FROM flights ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flights []Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// Flight returns the flight with id.
func (db *DB) Flight(id string) (Flight, error) {
	f, err := scanFlight(db.QueryRow(`SELECT `+flightColumns+` FROM flights WHERE flight_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Flight{}, fmt.Errorf("%w: %s", ErrFlightNotFound, id)
	}
	return f, err
}

// Events returns the events of a flight in the order they were recorded.
func (db *DB) Events(flightID string) ([]Event, error) {
	rows, err := db.Query(
		`SELECT body, kind, detail, ts_ns FROM flight_events WHERE flight_id = ? ORDER BY ts_ns, event_id`,
		flightID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Body, &e.Kind, &e.Detail, &e.TsNs); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// bodyFilter matches every body when body is empty.
const bodyFilter = `(? = '' OR body = ?)`

// Poses returns the measured poses of a flight. An empty body returns every
// vehicle.
func (db *DB) Poses(flightID, body string) ([]Sample, error) {
	rows, err := db.Query(
		`SELECT body, x, y, z, tracking_loss, ts_ns FROM flight_poses
		 WHERE flight_id = ? AND `+bodyFilter+` ORDER BY ts_ns, rowid`,
		flightID, body, body,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Body, &s.X, &s.Y, &s.Z, &s.TrackingLoss, &s.TsNs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Setpoints returns the commanded positions of a flight. An empty body
// returns every vehicle.
func (db *DB) Setpoints(flightID, body string) ([]Sample, error) {
	rows, err := db.Query(
		`SELECT body, x, y, z, yaw, ts_ns FROM flight_setpoints
		 WHERE flight_id = ? AND `+bodyFilter+` ORDER BY ts_ns, rowid`,
		flightID, body, body,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Body, &s.X, &s.Y, &s.Z, &s.Yaw, &s.TsNs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// VarianceSamples returns the estimator variance recorded during a flight.
func (db *DB) VarianceSamples(flightID, body string) ([]Variance, error) {
	rows, err := db.Query(
		`SELECT body, var_x, var_y, var_z, ts_ns FROM flight_variance
		 WHERE flight_id = ? AND `+bodyFilter+` ORDER BY ts_ns, rowid`,
		flightID, body, body,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variance
	for rows.Next() {
		var v Variance
		if err := rows.Scan(&v.Body, &v.VarX, &v.VarY, &v.VarZ, &v.TsNs); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
