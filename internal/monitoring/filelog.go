package monitoring

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogName is the rotated log file written under the log directory.
const FileLogName = "flightd.log"

// LogToDir mirrors the standard logger to a rotated file in dir as well as
// stderr. Close the returned writer on shutdown.
func LogToDir(dir string) (io.Closer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileLogName),
		MaxSize:    32, // MB
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return w, nil
}
