package flightplot

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.flight/internal/db"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
)

func TestTracksGroupsByBody(t *testing.T) {
	poses := []db.Sample{{Body: "cf2", X: 1}, {Body: "cf1", X: 2}, {Body: "cf2", X: 3}}
	setpoints := []db.Sample{{Body: "cf3"}, {Body: "cf1"}}

	tracks := Tracks(poses, setpoints)
	require.Len(t, tracks, 3)
	assert.Equal(t, "cf1", tracks[0].Body)
	assert.Len(t, tracks[0].Measured, 1)
	assert.Len(t, tracks[0].Commanded, 1)
	assert.Equal(t, "cf2", tracks[1].Body)
	assert.Equal(t, []float64{1, 3}, []float64{tracks[1].Measured[0].X, tracks[1].Measured[1].X})
	assert.Empty(t, tracks[2].Measured)
}

func recordedFlight(t *testing.T) (*db.DB, string) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	store, err := db.NewDBWithClock(filepath.Join(t.TempDir(), "flight.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	id, err := store.StartFlight("hover", []string{"cf1", "cf2"})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		clock.Advance(100 * time.Millisecond)
		z := 0.05 * float64(i)
		require.NoError(t, store.RecordSetpoint("cf1", geom.NewPose(-0.5, 0, z)))
		require.NoError(t, store.RecordPose("cf1", geom.NewPose(-0.5, 0.01, z*0.9), 0))
		require.NoError(t, store.RecordSetpoint("cf2", geom.NewPose(0.5, 0, z)))
		require.NoError(t, store.RecordPose("cf2", geom.NewPose(0.5, -0.01, z*0.9), 0))
	}
	require.NoError(t, store.EndFlight("completed"))
	return store, id
}

func TestGenerateWritesPNGs(t *testing.T) {
	store, id := recordedFlight(t)
	vol, err := geom.NewVolume(geom.NewPose(0, 0, 1), 1)
	require.NoError(t, err)

	p := &Plotter{OutputDir: filepath.Join(t.TempDir(), "plots"), Volume: vol}
	paths, err := p.Generate(store, id)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for _, path := range paths {
		f, err := os.Open(path)
		require.NoError(t, err)
		_, err = png.Decode(f)
		f.Close()
		assert.NoError(t, err, path)
	}
	assert.Contains(t, filepath.Base(paths[0]), "_top.png")
	assert.Contains(t, filepath.Base(paths[1]), "_altitude.png")
}

func TestGenerateEmptyFlight(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "flight.db"))
	require.NoError(t, err)
	defer store.Close()
	id, err := store.StartFlight("hover", nil)
	require.NoError(t, err)

	p := &Plotter{OutputDir: t.TempDir()}
	_, err = p.Generate(store, id)
	assert.True(t, errors.Is(err, ErrNoSamples))

	_, err = p.Generate(store, "missing")
	assert.True(t, errors.Is(err, db.ErrFlightNotFound))
}
