package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.OpenRetryInterval.Duration != 3*time.Second {
		t.Errorf("open retry = %s", cfg.OpenRetryInterval)
	}
	if cfg.PollDisconnected.Duration != 5*time.Second || cfg.PollConnected.Duration != 30*time.Second {
		t.Errorf("poll intervals = %s / %s", cfg.PollDisconnected, cfg.PollConnected)
	}
	if cfg.BackoffInitial.Duration != 4*time.Second || cfg.BackoffMax.Duration != time.Minute {
		t.Errorf("backoff bounds = %s / %s", cfg.BackoffInitial, cfg.BackoffMax)
	}
	if cfg.TxQueueSize != 64 || cfg.TransientTxFailureLimit != 2 {
		t.Errorf("queue/limit = %d / %d", cfg.TxQueueSize, cfg.TransientTxFailureLimit)
	}
	if len(cfg.BatteryThresholds) != 3 || cfg.BatteryThresholds[0] != 20 {
		t.Errorf("thresholds = %v", cfg.BatteryThresholds)
	}
	if len(cfg.TransientIOMarkers) == 0 {
		t.Error("default marker set is empty")
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.TxQueueSize != 64 {
		t.Errorf("queue size = %d, want default 64", cfg.TxQueueSize)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
open_retry_interval = "1500ms"
tx_queue_size = 16
transient_io_markers = ["custom marker"]
verbose_io = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OpenRetryInterval.Duration != 1500*time.Millisecond {
		t.Errorf("open retry = %s", cfg.OpenRetryInterval)
	}
	if cfg.TxQueueSize != 16 {
		t.Errorf("queue size = %d", cfg.TxQueueSize)
	}
	if !cfg.VerboseIO {
		t.Error("verbose_io not applied")
	}
	if len(cfg.TransientIOMarkers) != 1 || cfg.TransientIOMarkers[0] != "custom marker" {
		t.Errorf("markers = %v", cfg.TransientIOMarkers)
	}
	// Untouched fields keep their defaults.
	if cfg.HotplugInterval.Duration != 2500*time.Millisecond {
		t.Errorf("hotplug interval = %s", cfg.HotplugInterval)
	}
}

func TestTxErrorClassifier(t *testing.T) {
	c := newTxErrorClassifier(defaultConfig().TransientIOMarkers)
	cases := []struct {
		msg     string
		timeout bool
	}{
		{"hid_write failed: operation timed out", true},
		{"hid_write failed: Resource temporarily unavailable", true},
		{"write would block", true},
		{"hid_write failed: Device or resource busy", true},
		{"hid_write failed: no such device", false},
		{"hid_write incomplete: wrote 2 of 4 bytes", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.isTimeout(tc.msg); got != tc.timeout {
			t.Errorf("isTimeout(%q) = %v, want %v", tc.msg, got, tc.timeout)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	on := true
	want := Settings{SelectedDeviceKey: "0951:1718:ABC", NotificationsEnabled: false, MicMonitor: &on}
	if err := saveSettings(path, want); err != nil {
		t.Fatal(err)
	}
	got := loadSettings(path)
	if got.SelectedDeviceKey != want.SelectedDeviceKey || got.NotificationsEnabled != want.NotificationsEnabled {
		t.Errorf("loaded %+v", got)
	}
	if got.MicMonitor == nil || !*got.MicMonitor {
		t.Error("mic preference lost")
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	got := loadSettings(filepath.Join(t.TempDir(), "nope.json"))
	if !got.NotificationsEnabled {
		t.Error("defaults should enable notifications")
	}
	if got.MicMonitor != nil {
		t.Error("defaults should have no mic preference")
	}
}
