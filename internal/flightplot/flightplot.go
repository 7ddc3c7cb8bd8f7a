// Package flightplot renders a recorded flight to PNG: a top view of the
// measured and commanded tracks inside the safe volume, and altitude over
// time.
package flightplot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/mocap.flight/internal/db"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/security"
)

// ErrNoSamples is returned when a flight has nothing to plot.
var ErrNoSamples = errors.New("flight has no recorded poses or setpoints")

// Reader is the part of the flight log the plots need.
type Reader interface {
	Flight(id string) (db.Flight, error)
	Poses(flightID, body string) ([]db.Sample, error)
	Setpoints(flightID, body string) ([]db.Sample, error)
}

// Track is the recorded motion of one vehicle.
type Track struct {
	Body      string
	Measured  []db.Sample
	Commanded []db.Sample
}

// Tracks groups poses and setpoints by body, sorted by body name.
func Tracks(poses, setpoints []db.Sample) []Track {
	byBody := make(map[string]*Track)
	get := func(body string) *Track {
		t, ok := byBody[body]
		if !ok {
			t = &Track{Body: body}
			byBody[body] = t
		}
		return t
	}
	for _, p := range poses {
		tr := get(p.Body)
		tr.Measured = append(tr.Measured, p)
	}
	for _, s := range setpoints {
		tr := get(s.Body)
		tr.Commanded = append(tr.Commanded, s)
	}

	out := make([]Track, 0, len(byBody))
	for _, t := range byBody {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Body < out[j].Body })
	return out
}

// Plotter writes flight plots into OutputDir.
type Plotter struct {
	OutputDir string
	Volume    geom.Volume
}

// Generate renders both plots of a flight and returns the written paths.
func (p *Plotter) Generate(r Reader, flightID string) ([]string, error) {
	f, err := r.Flight(flightID)
	if err != nil {
		return nil, err
	}
	poses, err := r.Poses(f.ID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read poses: %w", err)
	}
	setpoints, err := r.Setpoints(f.ID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read setpoints: %w", err)
	}
	if len(poses) == 0 && len(setpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, f.ID)
	}

	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	tracks := Tracks(poses, setpoints)
	top, err := p.TopView(f, tracks)
	if err != nil {
		return nil, err
	}
	alt, err := p.Altitude(f, tracks)
	if err != nil {
		return nil, err
	}
	return []string{top, alt}, nil
}

func configureLegend(pl *plot.Plot) {
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
}

// TopView plots X against Y for every track with the volume outline.
func (p *Plotter) TopView(f db.Flight, tracks []Track) (string, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Flight %s (%s) - top view", shortID(f.ID), f.Choreography)
	pl.X.Label.Text = "X (m)"
	pl.Y.Label.Text = "Y (m)"

	lo, hi := p.Volume.Min(), p.Volume.Max()
	outline, err := plotter.NewLine(plotter.XYs{
		{X: lo.X, Y: lo.Y}, {X: hi.X, Y: lo.Y}, {X: hi.X, Y: hi.Y}, {X: lo.X, Y: hi.Y}, {X: lo.X, Y: lo.Y},
	})
	if err != nil {
		return "", err
	}
	outline.Width = vg.Points(1)
	outline.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	pl.Add(outline)
	pl.Legend.Add("safe volume", outline)

	for i, tr := range tracks {
		c := plotutil.Color(i)
		if len(tr.Measured) > 0 {
			line, err := plotter.NewLine(xy(tr.Measured, func(s db.Sample) (float64, float64) { return s.X, s.Y }))
			if err != nil {
				return "", err
			}
			line.Color = c
			line.Width = vg.Points(1)
			pl.Add(line)
			pl.Legend.Add(tr.Body+" measured", line)
		}
		if len(tr.Commanded) > 0 {
			pts, err := plotter.NewScatter(xy(tr.Commanded, func(s db.Sample) (float64, float64) { return s.X, s.Y }))
			if err != nil {
				return "", err
			}
			pts.Color = c
			pts.Shape = draw.CrossGlyph{}
			pts.Radius = vg.Points(2)
			pl.Add(pts)
			pl.Legend.Add(tr.Body+" setpoint", pts)
		}
	}
	configureLegend(pl)

	path, err := p.outputPath(f.ID, "top")
	if err != nil {
		return "", err
	}
	if err := pl.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save top view: %w", err)
	}
	return path, nil
}

// Altitude plots Z against seconds since the flight started.
func (p *Plotter) Altitude(f db.Flight, tracks []Track) (string, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Flight %s (%s) - altitude", shortID(f.ID), f.Choreography)
	pl.X.Label.Text = "Time (s)"
	pl.Y.Label.Text = "Z (m)"

	elapsed := func(s db.Sample) float64 { return float64(s.TsNs-f.StartedNs) / 1e9 }
	for i, tr := range tracks {
		c := plotutil.Color(i)
		if len(tr.Measured) > 0 {
			line, err := plotter.NewLine(xy(tr.Measured, func(s db.Sample) (float64, float64) { return elapsed(s), s.Z }))
			if err != nil {
				return "", err
			}
			line.Color = c
			line.Width = vg.Points(1)
			pl.Add(line)
			pl.Legend.Add(tr.Body+" measured", line)
		}
		if len(tr.Commanded) > 0 {
			line, err := plotter.NewLine(xy(tr.Commanded, func(s db.Sample) (float64, float64) { return elapsed(s), s.Z }))
			if err != nil {
				return "", err
			}
			line.Color = c
			line.Width = vg.Points(1)
			line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
			pl.Add(line)
			pl.Legend.Add(tr.Body+" setpoint", line)
		}
	}
	configureLegend(pl)

	path, err := p.outputPath(f.ID, "altitude")
	if err != nil {
		return "", err
	}
	if err := pl.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save altitude plot: %w", err)
	}
	return path, nil
}

func xy(samples []db.Sample, f func(db.Sample) (float64, float64)) plotter.XYs {
	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i].X, pts[i].Y = f(s)
	}
	return pts
}

func shortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return security.SanitizeFilename(id)
}

// outputPath names a plot file and checks it stays inside OutputDir.
func (p *Plotter) outputPath(flightID, kind string) (string, error) {
	path := filepath.Join(p.OutputDir, fmt.Sprintf("flight_%s_%s.png", shortID(flightID), kind))
	if err := security.WithinDir(path, p.OutputDir); err != nil {
		return "", err
	}
	return path, nil
}
