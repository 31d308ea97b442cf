package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sstallion/go-hid"
)

// callbackHook forwards every emitted log line to the caller's OnLog
// callback, keeping the file/console writers untouched.
type callbackHook struct {
	fn func(level, message string)
}

func (h callbackHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if h.fn == nil || level == zerolog.NoLevel {
		return
	}
	h.fn(strings.ToUpper(level.String()), message)
}

// setupLogging builds the logger used everywhere: the log file, a console
// writer when stderr is a terminal, and the OnLog forwarding hook.
func setupLogging(logFile string, verbose bool, onLog func(level, message string)) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{}
	if logFile != "" {
		_ = os.MkdirAll(filepath.Dir(logFile), 0o755)
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			writers = append(writers, f)
		}
	}
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if onLog != nil {
		logger = logger.Hook(callbackHook{fn: onLog})
	}
	return logger
}

// logDeviceScan dumps the enumeration result at startup so a bug report's log
// file shows what the machine actually exposes.
func logDeviceScan(log zerolog.Logger, tr Transport) {
	devices, err := tr.Enumerate()
	if err != nil {
		log.Warn().Err(err).Msg("Startup device scan failed")
		return
	}
	log.Info().Int("candidates", len(devices)).Msg("Startup device scan")
	for i, d := range devices {
		log.Info().
			Int("index", i).
			Str("name", d.DisplayName()).
			Str("vid", formatID(d.VendorID)).
			Str("pid", formatID(d.ProductID)).
			Str("serial", d.Serial).
			Int("interface", d.InterfaceNbr).
			Str("path", d.Path).
			Msg("Candidate device")
	}
	if len(devices) == 0 {
		// Show a short slice of the whole bus so "nothing found" reports
		// still carry something actionable.
		count := 0
		_ = hid.Enumerate(0, 0, func(info *hid.DeviceInfo) error {
			if count >= 15 {
				return nil
			}
			count++
			log.Debug().
				Str("vid", formatID(info.VendorID)).
				Str("pid", formatID(info.ProductID)).
				Str("product", info.ProductStr).
				Msg("Unrelated HID device")
			return nil
		})
	}
}

func formatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}
