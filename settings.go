package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings is the runtime state that survives restarts, as opposed to Config
// which holds tunables. MicMonitor is a tri-state: nil means the user never
// expressed a preference and the device's own report wins.
type Settings struct {
	SelectedDeviceKey    string `json:"selected_device_key,omitempty"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	MicMonitor           *bool  `json:"mic_monitor,omitempty"`
}

func defaultSettings() Settings {
	return Settings{NotificationsEnabled: true}
}

func loadSettings(path string) Settings {
	s := defaultSettings()
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return defaultSettings()
	}
	return s
}

func saveSettings(path string, s Settings) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
