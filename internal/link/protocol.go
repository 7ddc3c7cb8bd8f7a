package link

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Line kinds sent by the bridge.
const (
	KindConnected = "connected"
	KindLog       = "log"
	KindError     = "err"
	KindUnknown   = "unknown"
)

// formatFloat renders a float compactly; the firmware parses it with strtof.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 7, 64)
}

// command builds "@<addr> <verb> <args...>".
func command(addr, verb string, args ...string) string {
	var b strings.Builder
	b.WriteString("@")
	b.WriteString(addr)
	b.WriteString(" ")
	b.WriteString(verb)
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(a)
	}
	return b.String()
}

func floats(vs ...float64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = formatFloat(v)
	}
	return out
}

// Line is one decoded line from the bridge.
type Line struct {
	Addr string
	Kind string
	Rest string
}

// ParseLine splits "@<addr> <kind> <rest>". Lines that are not addressed to
// a vehicle come back with an empty Addr and KindUnknown.
func ParseLine(raw string) Line {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "@") {
		return Line{Kind: KindUnknown, Rest: raw}
	}
	fields := strings.SplitN(raw[1:], " ", 3)
	l := Line{Addr: strings.ToUpper(fields[0]), Kind: KindUnknown}
	if len(fields) > 1 {
		switch fields[1] {
		case KindConnected, KindLog, KindError:
			l.Kind = fields[1]
		}
	}
	if len(fields) > 2 {
		l.Rest = fields[2]
	}
	return l
}

// ParseSample decodes the body of a log line:
// "<block> <timestamp_ms> <name>=<value> ...".
func ParseSample(rest string) (Sample, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return Sample{}, fmt.Errorf("malformed log line %q", rest)
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to parse log timestamp %q: %w", fields[1], err)
	}
	s := Sample{
		Block:     fields[0],
		Timestamp: time.Duration(ts) * time.Millisecond,
		Values:    make(map[string]float64, len(fields)-2),
	}
	for _, kv := range fields[2:] {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return Sample{}, fmt.Errorf("malformed log variable %q", kv)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		s.Values[name] = f
	}
	return s, nil
}

// FormatSample is the inverse of ParseSample, used by the simulator and tests.
func FormatSample(addr string, s Sample, order []string) string {
	args := []string{s.Block, strconv.FormatInt(s.Timestamp.Milliseconds(), 10)}
	for _, name := range order {
		if v, ok := s.Values[name]; ok {
			args = append(args, name+"="+formatFloat(v))
		}
	}
	return command(addr, KindLog, args...)
}
