package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// duration lets TOML carry values like "1800ms" or "20s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	OpenRetryInterval duration `toml:"open_retry_interval"`
	PollDisconnected  duration `toml:"poll_disconnected"`
	PollConnected     duration `toml:"poll_connected"`
	ReadTimeout       duration `toml:"read_timeout"`
	ReaderStopGrace   duration `toml:"reader_stop_grace"`
	HotplugInterval   duration `toml:"hotplug_interval"`
	MicProbeTimeout   duration `toml:"mic_probe_timeout"`

	ConnectionDebounce duration `toml:"connection_debounce"`
	ConnectionWindow   duration `toml:"connection_window"`
	BatteryDebounce    duration `toml:"battery_debounce"`
	BatteryCooldown    duration `toml:"battery_cooldown"`
	BatteryThresholds  []int    `toml:"battery_thresholds"`

	TxQueueSize             int      `toml:"tx_queue_size"`
	TransientTxFailureLimit int      `toml:"transient_tx_failure_limit"`
	BackoffInitial          duration `toml:"backoff_initial"`
	BackoffMax              duration `toml:"backoff_max"`
	TxTimeoutLogInterval    duration `toml:"tx_timeout_log_interval"`
	TxQueueFullLogInterval  duration `toml:"tx_queue_full_log_interval"`

	// Substrings identifying timeout-class write failures. Matching is
	// case-insensitive against the error text.
	TransientIOMarkers []string `toml:"transient_io_markers"`

	VerboseIO bool   `toml:"verbose_io"`
	LogFile   string `toml:"log_file"`
}

func defaultConfig() Config {
	return Config{
		OpenRetryInterval:  duration{3000 * time.Millisecond},
		PollDisconnected:   duration{5000 * time.Millisecond},
		PollConnected:      duration{30000 * time.Millisecond},
		ReadTimeout:        duration{100 * time.Millisecond},
		ReaderStopGrace:    duration{1200 * time.Millisecond},
		HotplugInterval:    duration{2500 * time.Millisecond},
		MicProbeTimeout:    duration{1200 * time.Millisecond},
		ConnectionDebounce: duration{1800 * time.Millisecond},
		ConnectionWindow:   duration{20 * time.Second},
		BatteryDebounce:    duration{1800 * time.Millisecond},
		BatteryCooldown:    duration{900 * time.Second},
		BatteryThresholds:  []int{20, 10, 5},

		TxQueueSize:             64,
		TransientTxFailureLimit: 2,
		BackoffInitial:          duration{4000 * time.Millisecond},
		BackoffMax:              duration{60000 * time.Millisecond},
		TxTimeoutLogInterval:    duration{20 * time.Second},
		TxQueueFullLogInterval:  duration{4 * time.Second},

		TransientIOMarkers: []string{
			"timeout",
			"timed out",
			"connection timed out",
			"operation timed out",
			"resource temporarily unavailable",
			"would block",
			"resource busy",
			"device or resource busy",
		},

		LogFile: "hyperx-control.log",
	}
}

// loadConfig reads a TOML file over the defaults. A missing file is not an
// error; any field absent from the file keeps its default.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.TxQueueSize < 1 {
		cfg.TxQueueSize = 1
	}
	if cfg.TransientTxFailureLimit < 1 {
		cfg.TransientTxFailureLimit = 1
	}
	return cfg, nil
}

// txErrorClassifier decides whether a write failure is timeout-class, meaning
// the control channel is busy rather than broken.
type txErrorClassifier struct {
	markers []string
}

func newTxErrorClassifier(markers []string) txErrorClassifier {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return txErrorClassifier{markers: lowered}
}

func (c txErrorClassifier) isTimeout(msg string) bool {
	lm := strings.ToLower(msg)
	for _, marker := range c.markers {
		if strings.Contains(lm, marker) {
			return true
		}
	}
	return false
}
