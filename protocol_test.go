package main

import (
	"bytes"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	cases := []struct {
		name  string
		data  []byte
		op    byte
		value byte
		ok    bool
	}{
		{"connected", []byte{0x21, 0xBB, 0x03, 0x02}, 0x03, 0x02, true},
		{"battery", []byte{0x21, 0xBB, 0x0B, 0x37}, 0x0B, 0x37, true},
		{"trailing bytes tolerated", []byte{0x21, 0xBB, 0x24, 0x01, 0x00, 0x00}, 0x24, 0x01, true},
		{"too short", []byte{0x21, 0xBB, 0x03}, 0, 0, false},
		{"empty", nil, 0, 0, false},
		{"wrong first magic", []byte{0x22, 0xBB, 0x03, 0x02}, 0, 0, false},
		{"wrong second magic", []byte{0x21, 0xBC, 0x03, 0x02}, 0, 0, false},
	}
	for _, tc := range cases {
		op, value, ok := decodeFrame(tc.data)
		if ok != tc.ok || op != tc.op || value != tc.value {
			t.Errorf("%s: decodeFrame(% X) = (0x%02X, 0x%02X, %v), want (0x%02X, 0x%02X, %v)",
				tc.name, tc.data, op, value, ok, tc.op, tc.value, tc.ok)
		}
	}
}

func TestCommandBytes(t *testing.T) {
	cases := []struct {
		cmd  Command
		want []byte
	}{
		{CmdConnectionState, []byte{0x21, 0xBB, 0x03, 0x00}},
		{CmdPing, []byte{0x21, 0xBB, 0x24, 0x00}},
		{CmdSleepTimer20, []byte{0x21, 0xBB, 0x12, 0x14}},
		{CmdMicMonitorOn, []byte{0x21, 0xBB, 0x22, 0x01}},
	}
	for _, tc := range cases {
		got := tc.cmd.Bytes()
		if !bytes.Equal(got, tc.want) {
			t.Errorf("%s.Bytes() = % X, want % X", tc.cmd.Name(), got, tc.want)
		}
		if len(got) != 4 {
			t.Errorf("%s.Bytes() length = %d, want 4", tc.cmd.Name(), len(got))
		}
	}
}

func TestCommandName(t *testing.T) {
	if got := CmdStatusRequest.Name(); got != "STATUS_REQUEST" {
		t.Errorf("Name() = %q, want STATUS_REQUEST", got)
	}
	if got := Command(0xDEADBEEF).Name(); got != "CMD_0xDEADBEEF" {
		t.Errorf("unknown command Name() = %q, want CMD_0xDEADBEEF", got)
	}
}

func TestSleepMinutes(t *testing.T) {
	cases := []struct {
		value byte
		min   int
		ok    bool
	}{
		{0x0A, 10, true},
		{0x14, 20, true},
		{0x1E, 30, true},
		{0x00, 0, false},
		{0xFF, 0, false},
	}
	for _, tc := range cases {
		min, ok := sleepMinutes(tc.value)
		if min != tc.min || ok != tc.ok {
			t.Errorf("sleepMinutes(0x%02X) = (%d, %v), want (%d, %v)", tc.value, min, ok, tc.min, tc.ok)
		}
	}
}

func TestFormatPacket(t *testing.T) {
	if got := formatPacket([]byte{0x21, 0xBB, 0x0B, 0x64}); got != "21 BB 0B 64" {
		t.Errorf("formatPacket = %q, want %q", got, "21 BB 0B 64")
	}
	if got := formatPacket(nil); got != "" {
		t.Errorf("formatPacket(nil) = %q, want empty", got)
	}
}
