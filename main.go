package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sstallion/go-hid"
)

const currentVersion = "1.2.0"

func main() {
	configPath := flag.String("config", "hyperx-control.toml", "path to the TOML config file")
	statePath := flag.String("state", "hyperx-control-state.json", "path to the runtime state file")
	listDevices := flag.Bool("list-devices", false, "list compatible devices and exit")
	verbose := flag.Bool("verbose", false, "log raw packet traffic")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *verbose {
		cfg.VerboseIO = true
	}

	if err := hid.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "hidapi init failed: %v\n", err)
		os.Exit(1)
	}
	defer hid.Exit()

	log := setupLogging(cfg.LogFile, cfg.VerboseIO, nil)
	log.Info().Str("version", currentVersion).Msg("hyperx-control starting")

	tr := newHIDTransport()
	logDeviceScan(log, tr)

	if *listDevices {
		devices, err := tr.Enumerate()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if len(devices) == 0 {
			fmt.Println("No compatible devices found.")
			return
		}
		for i, d := range devices {
			fmt.Printf("[%d] %s\n    key: %s\n    path: %s\n", i, d.DisplayName(), d.Key, d.Path)
		}
		return
	}

	cb := Callbacks{
		OnConnected:    func() { fmt.Println("headset connected") },
		OnDisconnected: func() { fmt.Println("headset disconnected") },
		OnBattery:      func(level int) { fmt.Printf("battery: %d%%\n", level) },
		OnSleepTimer:   func(minutes int) { fmt.Printf("sleep timer: %d min\n", minutes) },
		OnVoicePrompt:  func(on bool) { fmt.Printf("voice prompts: %v\n", on) },
		OnMicMonitor:   func(on bool) { fmt.Printf("mic monitor: %v\n", on) },
		OnNotice: func(title, message string, warning bool) {
			prefix := "notice"
			if warning {
				prefix = "warning"
			}
			fmt.Printf("[%s] %s: %s\n", prefix, title, message)
		},
	}

	ctrl := NewController(cfg, log, tr, cb, *statePath)
	ctrl.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go commandLoop(ctrl, sigCh)

	<-sigCh
	fmt.Println("shutting down")
	ctrl.Stop()
}

// commandLoop reads simple commands from stdin so the session can be driven
// without a GUI. EOF (piped input draining) leaves the session running.
func commandLoop(ctrl *Controller, quit chan<- os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(strings.ToLower(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "status":
			snap := ctrl.Snapshot()
			fmt.Printf("state: %s, battery: %d%%", snap.State, snap.Battery)
			if snap.EstimateHours > 0 {
				fmt.Printf(", est %.1fh remaining", snap.EstimateHours)
			}
			fmt.Println()
			ctrl.RequestStates()
		case "devices":
			for i, d := range ctrl.Devices() {
				marker := " "
				if d.Key == ctrl.Snapshot().Selected {
					marker = "*"
				}
				fmt.Printf("%s [%d] %s (%s)\n", marker, i, d.DisplayName(), d.Key)
			}
		case "select":
			if len(fields) < 2 {
				fmt.Println("usage: select <key>")
				continue
			}
			ctrl.SelectDevice(fields[1])
		case "sleep":
			if len(fields) < 2 {
				fmt.Println("usage: sleep <10|20|30>")
				continue
			}
			var minutes int
			fmt.Sscanf(fields[1], "%d", &minutes)
			if !ctrl.SetSleepTimer(minutes) {
				fmt.Println("command rejected (not ready, busy, or bad value)")
			}
		case "voice":
			if len(fields) < 2 || !ctrl.SetVoicePrompts(fields[1] == "on") {
				fmt.Println("usage: voice <on|off> (rejected when not ready)")
			}
		case "mic":
			if len(fields) < 2 || !ctrl.SetMicMonitor(fields[1] == "on") {
				fmt.Println("usage: mic <on|off> (rejected when not ready)")
			}
		case "quit", "exit":
			quit <- os.Interrupt
			return
		default:
			fmt.Println("commands: status, devices, select, sleep, voice, mic, quit")
		}
	}
}
