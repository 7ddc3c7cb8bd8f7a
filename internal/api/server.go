// Package api serves the flight status and flight log over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/mocap.flight/internal/db"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatusSource reports the live vehicles. fleet.Group implements it.
type StatusSource interface {
	Status() []vehicle.Status
}

// FlightStore is the read side of the flight log.
type FlightStore interface {
	CurrentFlight() string
	Flights(limit int) ([]db.Flight, error)
	Flight(id string) (db.Flight, error)
	Events(flightID string) ([]db.Event, error)
	Poses(flightID, body string) ([]db.Sample, error)
	Setpoints(flightID, body string) ([]db.Sample, error)
}

type Server struct {
	sessions StatusSource
	store    FlightStore
	volume   geom.Volume
}

// NewServer returns a Server. Either source may be nil, in which case its
// routes report an empty result or 503.
func NewServer(sessions StatusSource, store FlightStore, volume geom.Volume) *Server {
	return &Server{sessions: sessions, store: store, volume: volume}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/volume", s.showVolume)
	mux.HandleFunc("/api/flights", s.listFlights)
	mux.HandleFunc("/api/flights/{id}", s.showFlight)
	mux.HandleFunc("/api/flights/{id}/poses", s.listPoses)
	mux.HandleFunc("/api/flights/{id}/chart", s.flightChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// getOnly rejects anything but GET and reports whether to continue.
func (s *Server) getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) needStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Flight log not configured")
		return false
	}
	return true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	statuses := []vehicle.Status{}
	if s.sessions != nil {
		statuses = append(statuses, s.sessions.Status()...)
	}
	s.writeJSON(w, statuses)
}

func (s *Server) showVolume(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) {
		return
	}
	lo, hi := s.volume.Min(), s.volume.Max()
	s.writeJSON(w, map[string]interface{}{
		"origin":  [3]float64{s.volume.Origin.X, s.volume.Origin.Y, s.volume.Origin.Z},
		"expanse": s.volume.Expanse,
		"min":     [3]float64{lo.X, lo.Y, lo.Z},
		"max":     [3]float64{hi.X, hi.Y, hi.Z},
	})
}

func (s *Server) listFlights(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) || !s.needStore(w) {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	flights, err := s.store.Flights(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve flights: %v", err))
		return
	}
	if flights == nil {
		flights = []db.Flight{}
	}
	s.writeJSON(w, map[string]interface{}{
		"current": s.store.CurrentFlight(),
		"flights": flights,
	})
}

// lookupFlight resolves the {id} path value, writing the error response
// itself when the flight is unknown.
func (s *Server) lookupFlight(w http.ResponseWriter, r *http.Request) (db.Flight, bool) {
	f, err := s.store.Flight(r.PathValue("id"))
	if errors.Is(err, db.ErrFlightNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return db.Flight{}, false
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve flight: %v", err))
		return db.Flight{}, false
	}
	return f, true
}

func (s *Server) showFlight(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) || !s.needStore(w) {
		return
	}
	f, ok := s.lookupFlight(w, r)
	if !ok {
		return
	}
	events, err := s.store.Events(f.ID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []db.Event{}
	}
	s.writeJSON(w, map[string]interface{}{
		"flight": f,
		"events": events,
	})
}

func (s *Server) listPoses(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) || !s.needStore(w) {
		return
	}
	f, ok := s.lookupFlight(w, r)
	if !ok {
		return
	}
	poses, err := s.store.Poses(f.ID, r.URL.Query().Get("body"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve poses: %v", err))
		return
	}
	if poses == nil {
		poses = []db.Sample{}
	}
	s.writeJSON(w, poses)
}

// flightChart renders the top view of a flight: measured track and
// setpoints per vehicle, framed by the safe volume.
func (s *Server) flightChart(w http.ResponseWriter, r *http.Request) {
	if !s.getOnly(w, r) || !s.needStore(w) {
		return
	}
	f, ok := s.lookupFlight(w, r)
	if !ok {
		return
	}
	poses, err := s.store.Poses(f.ID, "")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve poses: %v", err))
		return
	}
	setpoints, err := s.store.Setpoints(f.ID, "")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve setpoints: %v", err))
		return
	}

	pad := s.volume.Expanse * 1.2
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flight " + f.ID, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Flight top view", Subtitle: fmt.Sprintf("%s %s poses=%d setpoints=%d", f.Choreography, f.Outcome, len(poses), len(setpoints))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: s.volume.Origin.X - pad, Max: s.volume.Origin.X + pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: s.volume.Origin.Y - pad, Max: s.volume.Origin.Y + pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, series := range groupByBody(poses, " measured") {
		scatter.AddSeries(series.name, series.data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	for _, series := range groupByBody(setpoints, " setpoint") {
		scatter.AddSeries(series.name, series.data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

type scatterSeries struct {
	name string
	data []opts.ScatterData
}

func groupByBody(samples []db.Sample, suffix string) []scatterSeries {
	byBody := make(map[string][]opts.ScatterData)
	for _, p := range samples {
		byBody[p.Body] = append(byBody[p.Body], opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	bodies := make([]string, 0, len(byBody))
	for b := range byBody {
		bodies = append(bodies, b)
	}
	sort.Strings(bodies)
	out := make([]scatterSeries, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, scatterSeries{name: b + suffix, data: byBody[b]})
	}
	return out
}
