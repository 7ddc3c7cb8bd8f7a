// Package config loads the flight configuration: the world volume, the
// vehicles to fly, and the tuning of the radio, mocap feed, estimator and
// control loop.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/mocap.flight/internal/estimator"
	"github.com/banshee-data/mocap.flight/internal/geom"
	"github.com/banshee-data/mocap.flight/internal/link"
	"github.com/banshee-data/mocap.flight/internal/vehicle"
)

// DefaultConfigPath is the path to the canonical flight defaults file.
const DefaultConfigPath = "config/flight.defaults.json"

// Defaults for fields omitted from the file.
const (
	DefaultMaxTrackingLoss = 200
	DefaultMaxVelocity     = 1.0
	DefaultExpanse         = 1.0
	DefaultTick            = 100 * time.Millisecond
	DefaultRadioPort       = "/dev/ttyACM0"
	DefaultMocapListen     = ":7001"
	DefaultFramePeriod     = 10 * time.Millisecond
)

// DefaultMarkers are the active marker IDs used when a vehicle lists none.
var DefaultMarkers = []int{101, 102, 103, 104}

// FlightConfig is the root of the flight configuration file. Every field is
// optional; the Get* methods supply defaults.
type FlightConfig struct {
	World        *WorldConfig        `json:"world,omitempty"`
	Vehicles     []VehicleConfig     `json:"vehicles,omitempty"`
	Tick         *string             `json:"tick,omitempty"` // duration string like "100ms"
	Estimator    *EstimatorConfig    `json:"estimator,omitempty"`
	Radio        *RadioConfig        `json:"radio,omitempty"`
	Mocap        *MocapConfig        `json:"mocap,omitempty"`
	Choreography *ChoreographyConfig `json:"choreography,omitempty"`
}

// WorldConfig is the safe flight volume.
type WorldConfig struct {
	Origin  *[3]float64 `json:"origin,omitempty"`
	Expanse *float64    `json:"expanse,omitempty"`
}

// VehicleConfig describes one vehicle.
type VehicleConfig struct {
	Body            string   `json:"body"`
	URI             string   `json:"uri"`
	Markers         []int    `json:"markers,omitempty"`
	MaxTrackingLoss *int     `json:"max_tracking_loss,omitempty"`
	MaxVelocity     *float64 `json:"max_velocity,omitempty"`
}

// EstimatorConfig tunes estimator convergence.
type EstimatorConfig struct {
	Timeout    *string  `json:"timeout,omitempty"` // "0s" waits forever
	Threshold  *float64 `json:"threshold,omitempty"`
	WindowSize *int     `json:"window_size,omitempty"`
	Period     *string  `json:"period,omitempty"`
}

// RadioConfig is the serial radio bridge.
type RadioConfig struct {
	Port           string           `json:"port,omitempty"`
	Options        link.PortOptions `json:"options"`
	ConnectTimeout *string          `json:"connect_timeout,omitempty"`
}

// MocapConfig is the pose feed.
type MocapConfig struct {
	Listen       *string `json:"listen,omitempty"`
	FramePeriod  *string `json:"frame_period,omitempty"`
	RcvBuf       *int    `json:"rcv_buf,omitempty"`
	PCAP         string  `json:"pcap,omitempty"` // replay this capture instead of listening
	PCAPRealtime *bool   `json:"pcap_realtime,omitempty"`
}

// ChoreographyConfig selects and tunes the flight pattern.
type ChoreographyConfig struct {
	Name     *string  `json:"name,omitempty"` // "hover" or "circle"
	Duration *string  `json:"duration,omitempty"`
	Radius   *float64 `json:"radius,omitempty"`
	Rate     *float64 `json:"rate,omitempty"` // degrees per second
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyFlightConfig returns a FlightConfig with every field unset.
func EmptyFlightConfig() *FlightConfig {
	return &FlightConfig{}
}

// DefaultFlightConfig returns a config with every default filled in and a
// single vehicle on the stock radio address.
func DefaultFlightConfig() *FlightConfig {
	return &FlightConfig{
		World: &WorldConfig{Origin: &[3]float64{0, 0, 1}, Expanse: ptrFloat64(DefaultExpanse)},
		Vehicles: []VehicleConfig{{
			Body:            "cf1",
			URI:             "radio://0/80/2M/E7E7E7E7E7",
			Markers:         append([]int(nil), DefaultMarkers...),
			MaxTrackingLoss: ptrInt(DefaultMaxTrackingLoss),
			MaxVelocity:     ptrFloat64(DefaultMaxVelocity),
		}},
		Tick: ptrString(DefaultTick.String()),
		Estimator: &EstimatorConfig{
			Timeout:    ptrString("30s"),
			Threshold:  ptrFloat64(0.001),
			WindowSize: ptrInt(10),
			Period:     ptrString("500ms"),
		},
		Radio: &RadioConfig{ConnectTimeout: ptrString(link.DefaultConnectTimeout.String())},
		Mocap: &MocapConfig{
			Listen:       ptrString(DefaultMocapListen),
			FramePeriod:  ptrString(DefaultFramePeriod.String()),
			PCAPRealtime: ptrBool(true),
		},
		Choreography: &ChoreographyConfig{
			Name:     ptrString("hover"),
			Duration: ptrString("10s"),
			Radius:   ptrFloat64(0.5),
			Rate:     ptrFloat64(90),
		},
	}
}

// LoadFlightConfig loads a FlightConfig from a JSON file. The file must
// have a .json extension and be under 1MB. Omitted fields keep their
// defaults.
func LoadFlightConfig(path string) (*FlightConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFlightConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. It panics if the file cannot be loaded and is meant for
// tests.
func MustLoadDefaultConfig() *FlightConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFlightConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks the configured values.
func (c *FlightConfig) Validate() error {
	if c.World != nil && c.World.Expanse != nil && !(*c.World.Expanse > 0) {
		return fmt.Errorf("world expanse must be positive, got %v", *c.World.Expanse)
	}
	if err := validDuration("tick", c.Tick); err != nil {
		return err
	}
	if c.Tick != nil && c.GetTick() == 0 {
		return fmt.Errorf("tick must be positive")
	}

	seen := make(map[string]bool)
	for i, v := range c.Vehicles {
		if v.Body == "" {
			return fmt.Errorf("vehicles[%d]: body is required", i)
		}
		if seen[v.Body] {
			return fmt.Errorf("vehicles[%d]: duplicate body %q", i, v.Body)
		}
		seen[v.Body] = true
		if _, err := link.Address(v.URI); err != nil {
			return fmt.Errorf("vehicles[%d] (%s): %w", i, v.Body, err)
		}
		if v.Markers != nil && len(v.Markers) != len(DefaultMarkers) {
			return fmt.Errorf("vehicles[%d] (%s): expected %d marker ids, got %d", i, v.Body, len(DefaultMarkers), len(v.Markers))
		}
		if v.MaxTrackingLoss != nil && *v.MaxTrackingLoss < 0 {
			return fmt.Errorf("vehicles[%d] (%s): max_tracking_loss must be non-negative", i, v.Body)
		}
		if v.MaxVelocity != nil && *v.MaxVelocity <= 0 {
			return fmt.Errorf("vehicles[%d] (%s): max_velocity must be positive", i, v.Body)
		}
	}

	if e := c.Estimator; e != nil {
		if err := validDuration("estimator timeout", e.Timeout); err != nil {
			return err
		}
		if err := validDuration("estimator period", e.Period); err != nil {
			return err
		}
		if e.Threshold != nil && *e.Threshold <= 0 {
			return fmt.Errorf("estimator threshold must be positive, got %v", *e.Threshold)
		}
		if e.WindowSize != nil && *e.WindowSize < 1 {
			return fmt.Errorf("estimator window_size must be at least 1, got %d", *e.WindowSize)
		}
	}

	if r := c.Radio; r != nil {
		if _, err := r.Options.Normalize(); err != nil {
			return fmt.Errorf("radio options: %w", err)
		}
		if err := validDuration("radio connect_timeout", r.ConnectTimeout); err != nil {
			return err
		}
	}

	if m := c.Mocap; m != nil {
		if err := validDuration("mocap frame_period", m.FramePeriod); err != nil {
			return err
		}
	}

	if ch := c.Choreography; ch != nil {
		if ch.Name != nil {
			switch *ch.Name {
			case "hover", "liftoff", "circle":
			default:
				return fmt.Errorf("unknown choreography %q: expected hover, liftoff or circle", *ch.Name)
			}
		}
		if err := validDuration("choreography duration", ch.Duration); err != nil {
			return err
		}
		if ch.Radius != nil && *ch.Radius <= 0 {
			return fmt.Errorf("choreography radius must be positive, got %v", *ch.Radius)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetVolume returns the safe flight volume.
func (c *FlightConfig) GetVolume() (geom.Volume, error) {
	origin := [3]float64{0, 0, 1}
	expanse := DefaultExpanse
	if c.World != nil {
		if c.World.Origin != nil {
			origin = *c.World.Origin
		}
		if c.World.Expanse != nil {
			expanse = *c.World.Expanse
		}
	}
	return geom.NewVolume(geom.NewPose(origin[0], origin[1], origin[2]), expanse)
}

// GetTick returns the control loop period.
func (c *FlightConfig) GetTick() time.Duration {
	return durationOr(c.Tick, DefaultTick)
}

// GetEstimator returns the estimator convergence settings.
func (c *FlightConfig) GetEstimator() estimator.Config {
	cfg := estimator.DefaultConfig()
	e := c.Estimator
	if e == nil {
		return cfg
	}
	cfg.Timeout = durationOr(e.Timeout, cfg.Timeout)
	cfg.Period = durationOr(e.Period, cfg.Period)
	if e.Threshold != nil {
		cfg.Threshold = *e.Threshold
	}
	if e.WindowSize != nil {
		cfg.WindowSize = *e.WindowSize
	}
	return cfg
}

// GetConnectTimeout returns the radio connect handshake timeout.
func (c *FlightConfig) GetConnectTimeout() time.Duration {
	if c.Radio == nil {
		return link.DefaultConnectTimeout
	}
	return durationOr(c.Radio.ConnectTimeout, link.DefaultConnectTimeout)
}

// GetMocapListen returns the UDP address of the frame feed.
func (c *FlightConfig) GetMocapListen() string {
	if c.Mocap == nil || c.Mocap.Listen == nil || *c.Mocap.Listen == "" {
		return DefaultMocapListen
	}
	return *c.Mocap.Listen
}

// GetFramePeriod returns the nominal mocap frame period.
func (c *FlightConfig) GetFramePeriod() time.Duration {
	if c.Mocap == nil {
		return DefaultFramePeriod
	}
	return durationOr(c.Mocap.FramePeriod, DefaultFramePeriod)
}

// GetPCAPRealtime reports whether pcap replay is paced by capture time.
func (c *FlightConfig) GetPCAPRealtime() bool {
	if c.Mocap == nil || c.Mocap.PCAPRealtime == nil {
		return true
	}
	return *c.Mocap.PCAPRealtime
}

// GetChoreography returns the choreography name.
func (c *FlightConfig) GetChoreography() string {
	if c.Choreography == nil || c.Choreography.Name == nil {
		return "hover"
	}
	return *c.Choreography.Name
}

// GetChoreographyDuration returns how long the choreography runs.
func (c *FlightConfig) GetChoreographyDuration() time.Duration {
	if c.Choreography == nil {
		return 10 * time.Second
	}
	return durationOr(c.Choreography.Duration, 10*time.Second)
}

// GetRadius returns the circle radius in metres.
func (c *FlightConfig) GetRadius() float64 {
	if c.Choreography == nil || c.Choreography.Radius == nil {
		return 0.5
	}
	return *c.Choreography.Radius
}

// GetRate returns the circle rate in degrees per second.
func (c *FlightConfig) GetRate() float64 {
	if c.Choreography == nil || c.Choreography.Rate == nil {
		return 90
	}
	return *c.Choreography.Rate
}

// VehicleConfigs builds the session configs of every vehicle.
func (c *FlightConfig) VehicleConfigs() ([]vehicle.Config, error) {
	vol, err := c.GetVolume()
	if err != nil {
		return nil, err
	}
	if len(c.Vehicles) == 0 {
		return nil, fmt.Errorf("no vehicles configured")
	}
	out := make([]vehicle.Config, 0, len(c.Vehicles))
	for _, v := range c.Vehicles {
		markers := v.Markers
		if markers == nil {
			markers = DefaultMarkers
		}
		limits := vehicle.Limits{MaxTrackingLoss: DefaultMaxTrackingLoss, MaxVelocity: DefaultMaxVelocity}
		if v.MaxTrackingLoss != nil {
			limits.MaxTrackingLoss = *v.MaxTrackingLoss
		}
		if v.MaxVelocity != nil {
			limits.MaxVelocity = *v.MaxVelocity
		}
		out = append(out, vehicle.Config{
			Body:      v.Body,
			URI:       v.URI,
			Markers:   append([]int(nil), markers...),
			Limits:    limits,
			Volume:    vol,
			Tick:      c.GetTick(),
			Estimator: c.GetEstimator(),
		})
	}
	return out, nil
}

// GetRadioPort returns the serial device of the radio bridge.
func (c *FlightConfig) GetRadioPort() string {
	if c.Radio == nil || c.Radio.Port == "" {
		return DefaultRadioPort
	}
	return c.Radio.Port
}

// GetPortOptions returns the serial options of the radio bridge.
func (c *FlightConfig) GetPortOptions() link.PortOptions {
	if c.Radio == nil {
		return link.PortOptions{}
	}
	return c.Radio.Options
}

// GetMocapPCAP returns the capture to replay, or "" to listen live.
func (c *FlightConfig) GetMocapPCAP() string {
	if c.Mocap == nil {
		return ""
	}
	return c.Mocap.PCAP
}

// GetRcvBuf returns the UDP receive buffer size, 0 for the listener default.
func (c *FlightConfig) GetRcvBuf() int {
	if c.Mocap == nil || c.Mocap.RcvBuf == nil {
		return 0
	}
	return *c.Mocap.RcvBuf
}
