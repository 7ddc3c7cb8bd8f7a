// Package monitoring holds the diagnostic logger shared by the flight
// packages.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes a diagnostic line. It defaults to log.Printf and may be
// redirected or muted with SetLogger.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// Vehicle returns a logger that prefixes every line with the vehicle's
// tag, e.g. "[cf1@radio://0/80/2M/E7E7E7E711]".
func Vehicle(body, uri string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s@%s] ", body, uri)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
