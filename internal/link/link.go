// Package link is the command channel to a vehicle's onboard firmware.
//
// A Link accepts parameter writes, setpoints and external pose corrections
// and streams named telemetry samples back. The concrete transport is a
// radio bridge attached to a serial port (Bridge) that multiplexes several
// vehicles, each addressed by the last element of its radio URI.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	// ErrConnectTimeout is returned when a vehicle does not acknowledge a connect.
	ErrConnectTimeout = errors.New("timeout waiting for vehicle to acknowledge connect")
	// ErrClosed is returned by operations on a closed link or bridge.
	ErrClosed = errors.New("link closed")
	// ErrWriteFailed is returned when the serial port accepted fewer bytes than written.
	ErrWriteFailed = errors.New("failed to write to serial port")
)

// Sample is one telemetry record from a log block.
type Sample struct {
	Block     string
	Timestamp time.Duration // vehicle uptime
	Values    map[string]float64
}

// Link is the set of commands the control loop issues to one vehicle.
type Link interface {
	SetParam(name string, value float64) error
	SendPositionSetpoint(x, y, z, yaw float64) error
	SendHoverSetpoint(vx, vy, yawRate, height float64) error
	SendStopSetpoint() error
	SendExtendedPose(x, y, z, qx, qy, qz, qw float64) error
	SendExternalPosition(x, y, z float64) error
	// StartTelemetry starts a log block and returns its samples. The
	// channel is closed when ctx is done or the link closes.
	StartTelemetry(ctx context.Context, block string, period time.Duration, vars []string) (<-chan Sample, error)
	Close() error
}

// Opener establishes a Link to the vehicle at uri.
type Opener interface {
	Open(ctx context.Context, uri string) (Link, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string) (Link, error)

func (f OpenerFunc) Open(ctx context.Context, uri string) (Link, error) { return f(ctx, uri) }

// Address extracts the radio address from a vehicle URI:
// "radio://0/80/2M/E7E7E7E711" yields "E7E7E7E711". A bare address is
// returned unchanged.
func Address(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		if uri == "" || strings.ContainsAny(uri, " \t\n@") {
			return "", fmt.Errorf("invalid vehicle address %q", uri)
		}
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid vehicle uri %q: %w", uri, err)
	}
	if u.Scheme != "radio" {
		return "", fmt.Errorf("unsupported vehicle uri scheme %q", u.Scheme)
	}
	addr := path.Base(u.Path)
	if addr == "" || addr == "." || addr == "/" || !strings.Contains(strings.TrimPrefix(u.Path, "/"), "/") {
		return "", fmt.Errorf("vehicle uri %q has no address", uri)
	}
	return strings.ToUpper(addr), nil
}
