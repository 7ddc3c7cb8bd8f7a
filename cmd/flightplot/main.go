// Command flightplot renders the top view and altitude plots of a logged
// flight to PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/mocap.flight/internal/config"
	"github.com/banshee-data/mocap.flight/internal/db"
	"github.com/banshee-data/mocap.flight/internal/flightplot"
	"github.com/banshee-data/mocap.flight/internal/version"
)

var (
	dbPath      = flag.String("db", "flights.db", "Path to the flight log database")
	flightID    = flag.String("flight", "", "Flight ID to plot (defaults to the latest)")
	outDir      = flag.String("out", "plots", "Output directory for PNG files")
	configFile  = flag.String("config", "", "Flight configuration JSON used for the volume outline")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// flightLister finds the latest flight when none is named.
type flightLister interface {
	Flights(limit int) ([]db.Flight, error)
}

func resolveFlight(l flightLister, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	flights, err := l.Flights(1)
	if err != nil {
		return "", err
	}
	if len(flights) == 0 {
		return "", errors.New("no flights logged")
	}
	return flights[0].ID, nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("flightplot"))
		return
	}

	cfg := config.DefaultFlightConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFlightConfig(*configFile); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	vol, err := cfg.GetVolume()
	if err != nil {
		log.Fatalf("Invalid volume: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	id, err := resolveFlight(database, *flightID)
	if err != nil {
		log.Fatalf("Failed to find flight: %v", err)
	}

	p := &flightplot.Plotter{OutputDir: *outDir, Volume: vol}
	paths, err := p.Generate(database, id)
	if err != nil {
		log.Fatalf("Failed to plot flight %s: %v", id, err)
	}
	for _, path := range paths {
		log.Printf("Wrote %s", path)
	}
}
