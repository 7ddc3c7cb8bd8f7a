package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mocap.flight/internal/api"
	"github.com/banshee-data/mocap.flight/internal/choreo"
	"github.com/banshee-data/mocap.flight/internal/config"
	"github.com/banshee-data/mocap.flight/internal/db"
	"github.com/banshee-data/mocap.flight/internal/fleet"
	"github.com/banshee-data/mocap.flight/internal/health"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/mocap"
	"github.com/banshee-data/mocap.flight/internal/monitoring"
	"github.com/banshee-data/mocap.flight/internal/sim"
	"github.com/banshee-data/mocap.flight/internal/timeutil"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
	"github.com/banshee-data/mocap.flight/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to flight configuration JSON (defaults are used when empty)")
	dbPath      = flag.String("db", "flights.db", "Path to the flight log database")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc", ":50051", "gRPC health listen address (empty disables)")
	simMode     = flag.Bool("sim", false, "Fly simulated vehicles instead of the radio and mocap feed")
	choreoName  = flag.String("choreo", "", "Override the configured choreography (hover, liftoff, circle)")
	duration    = flag.Duration("duration", 0, "Override the configured choreography duration")
	linger      = flag.Bool("linger", false, "Keep serving HTTP after the flight ends")
	logDir      = flag.String("log-dir", "", "Also write a rotated log file to this directory")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Flight outcomes written to the flight log.
const (
	outcomeCompleted   = "completed"
	outcomeAborted     = "aborted"
	outcomeInterrupted = "interrupted"
	outcomeFailed      = "failed"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeCompleted
	case errors.Is(err, fleet.ErrAborted):
		return outcomeAborted
	case errors.Is(err, context.Canceled):
		return outcomeInterrupted
	default:
		return outcomeFailed
	}
}

// applyOverrides folds the command-line overrides into cfg.
func applyOverrides(cfg *config.FlightConfig, name string, d time.Duration) {
	if name == "" && d <= 0 {
		return
	}
	if cfg.Choreography == nil {
		cfg.Choreography = &config.ChoreographyConfig{}
	}
	if name != "" {
		cfg.Choreography.Name = &name
	}
	if d > 0 {
		s := d.String()
		cfg.Choreography.Duration = &s
	}
}

func loadConfig() (*config.FlightConfig, error) {
	cfg := config.DefaultFlightConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFlightConfig(*configFile); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg, *choreoName, *duration)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mocapPort extracts the UDP port from a listen address, 0 when it has none.
func mocapPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return port
}

// ignoreCanceled drops the error a worker returns when the daemon shuts down.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("flightd"))
		return
	}
	if *logDir != "" {
		w, err := monitoring.LogToDir(*logDir)
		if err != nil {
			log.Fatalf("failed to open log directory: %v", err)
		}
		defer w.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("flightd: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	vol, err := cfg.GetVolume()
	if err != nil {
		return err
	}
	vcfgs, err := cfg.VehicleConfigs()
	if err != nil {
		return err
	}
	choreography, err := choreo.New(cfg.GetChoreography(), vol, cfg.GetChoreographyDuration(), cfg.GetRadius(), cfg.GetRate())
	if err != nil {
		return err
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open flight log: %w", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	clock := timeutil.RealClock{}
	stats := mocap.NewStats()
	mux := http.NewServeMux()

	var (
		opener link.Opener
		feed   mocap.Feed
	)
	switch {
	case *simMode:
		dispatcher := mocap.NewDispatcher("sim", stats)
		world := sim.NewWorld(clock, dispatcher)
		for i, vc := range vcfgs {
			if _, err := world.AddVehicle(vc.Body, vc.URI, choreo.LineX(vol, i, len(vcfgs)), vol.Origin.Y); err != nil {
				return err
			}
		}
		opener, feed = world, dispatcher
		eg.Go(func() error { return world.Run(ctx, sim.DefaultStep) })
		log.Printf("simulating %d vehicles", len(vcfgs))
	default:
		bridge, err := link.OpenSerialBridge(cfg.GetRadioPort(), cfg.GetPortOptions(), link.BridgeOptions{ConnectTimeout: cfg.GetConnectTimeout()})
		if err != nil {
			return err
		}
		defer bridge.Close()
		bridge.AttachAdminRoutes(mux)
		opener = bridge
		eg.Go(func() error {
			err := ignoreCanceled(bridge.Monitor(ctx))
			log.Print("radio monitor terminated")
			return err
		})

		if path := cfg.GetMocapPCAP(); path != "" {
			dispatcher := mocap.NewDispatcher("pcap://"+path, stats)
			feed = dispatcher
			eg.Go(func() error {
				dispatcher.Watch(ctx, clock, cfg.GetFramePeriod())
				return nil
			})
			eg.Go(func() error {
				return ignoreCanceled(mocap.ReplayPCAP(ctx, path, dispatcher, mocap.ReplayOptions{
					Port:     mocapPort(cfg.GetMocapListen()),
					Realtime: cfg.GetPCAPRealtime(),
					Clock:    clock,
				}))
			})
		} else {
			listener := mocap.NewListener(mocap.ListenerConfig{
				Address:     cfg.GetMocapListen(),
				RcvBuf:      cfg.GetRcvBuf(),
				FramePeriod: cfg.GetFramePeriod(),
				Clock:       clock,
				Stats:       stats,
			})
			if err := listener.Listen(); err != nil {
				return err
			}
			feed = listener
			eg.Go(func() error { return ignoreCanceled(listener.Start(ctx)) })
		}
	}

	sessions := make([]*vehicle.Session, 0, len(vcfgs))
	bodies := make([]string, 0, len(vcfgs))
	for _, vc := range vcfgs {
		s, err := vehicle.New(vc, vehicle.Deps{
			Opener:   opener,
			Feed:     feed,
			Clock:    clock,
			Events:   database,
			Variance: database,
		})
		if err != nil {
			return err
		}
		sessions = append(sessions, s)
		bodies = append(bodies, vc.Body)
	}
	status := fleet.NewGroup(sessions...)

	apiServer := api.NewServer(status, database, vol)
	mux.Handle("/", apiServer.ServeMux())
	database.AttachAdminRoutes(mux)
	server := &http.Server{Addr: *listen, Handler: api.LoggingMiddleware(mux)}
	eg.Go(func() error {
		log.Printf("HTTP listening on %s", *listen)
		return ignoreCanceled(server.ListenAndServe())
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shutdown server: %v", err)
			server.Close()
		}
		return nil
	})

	if *grpcListen != "" {
		hs := health.NewServer()
		eg.Go(func() error { return hs.ListenAndServe(*grpcListen) })
		eg.Go(func() error {
			hs.Watch(ctx, status, clock, health.DefaultPeriod)
			hs.Stop()
			return nil
		})
	}

	eg.Go(func() error {
		if !*linger {
			defer cancel()
		}
		id, err := database.StartFlight(cfg.GetChoreography(), bodies)
		if err != nil {
			return err
		}
		log.Printf("flight %s: %s with %d vehicles", id, cfg.GetChoreography(), len(sessions))
		flightErr := fleet.With(ctx, sessions, func(ctx context.Context, g *fleet.Group) error {
			return fleet.Fly(ctx, g, choreography, fleet.FlyOptions{Tick: cfg.GetTick(), Clock: clock})
		})
		result := outcome(flightErr)
		if err := database.EndFlight(result); err != nil {
			log.Printf("failed to close flight %s: %v", id, err)
		}
		log.Printf("flight %s %s", id, result)
		if result == outcomeInterrupted {
			return nil
		}
		return flightErr
	})

	return eg.Wait()
}
