package main

import (
	"encoding/binary"
	"fmt"
)

// Wire protocol for the wireless dongle. Every outgoing command is a 4-byte
// big-endian word. Inbound frames start with a fixed two-byte magic, followed
// by a one-byte opcode and a one-byte value; anything shorter than 4 bytes or
// with a mismatched magic is dropped without comment.
const (
	frameMagic0 = 0x21
	frameMagic1 = 0xBB
	frameMinLen = 4
)

type Command uint32

// Probe commands ask the headset to report a state; the dongle answers on the
// matching opcode. Setter commands carry the new value in the low byte.
const (
	CmdConnectionState Command = 0x21BB0300
	CmdSleepState      Command = 0x21BB0700
	CmdVoiceState      Command = 0x21BB0900
	CmdMicMonitorState Command = 0x21BB0A00
	CmdStatusRequest   Command = 0x21BB0B00
	CmdPing            Command = 0x21BB2400

	CmdSleepTimer10 Command = 0x21BB120A
	CmdSleepTimer20 Command = 0x21BB1214
	CmdSleepTimer30 Command = 0x21BB121E

	CmdVoicePromptsOn  Command = 0x21BB1301
	CmdVoicePromptsOff Command = 0x21BB1300

	CmdMicMonitorOn  Command = 0x21BB2201
	CmdMicMonitorOff Command = 0x21BB2200
)

var commandNames = map[Command]string{
	CmdConnectionState: "CONNECTION_STATE",
	CmdSleepState:      "SLEEP_STATE",
	CmdVoiceState:      "VOICE_STATE",
	CmdMicMonitorState: "MIC_MONITOR_STATE",
	CmdStatusRequest:   "STATUS_REQUEST",
	CmdPing:            "PING",
	CmdSleepTimer10:    "SLEEP_TIMER_10",
	CmdSleepTimer20:    "SLEEP_TIMER_20",
	CmdSleepTimer30:    "SLEEP_TIMER_30",
	CmdVoicePromptsOn:  "VOICE_PROMPTS",
	CmdVoicePromptsOff: "VOICE_PROMPTS_OFF",
	CmdMicMonitorOn:    "MICROPHONE_MONITOR",
	CmdMicMonitorOff:   "MICROPHONE_MONITOR_OFF",
}

func (c Command) Name() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD_0x%08X", uint32(c))
}

func (c Command) Bytes() []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(c))
	return payload
}

// Inbound opcodes. Several states are reported on two opcodes: one for the
// unsolicited change report and one echoing a probe/setter.
const (
	opConnection         = 0x03
	opSleepState         = 0x07
	opVoiceState         = 0x09
	opMicMonitorState    = 0x0A
	opBattery            = 0x0B
	opSleepStateEcho     = 0x12
	opVoiceStateEcho     = 0x13
	opMicMonitorFeedback = 0x22
	opConnectionEcho     = 0x24
)

const (
	connValueDisconnected = 0x01
	connValueConnected    = 0x02
)

// decodeFrame validates the magic and length floor and extracts the opcode
// and value bytes. ok is false for frames that must be silently ignored.
func decodeFrame(data []byte) (op, value byte, ok bool) {
	if len(data) < frameMinLen {
		return 0, 0, false
	}
	if data[0] != frameMagic0 || data[1] != frameMagic1 {
		return 0, 0, false
	}
	return data[2], data[3], true
}

// sleepMinutes maps a sleep-timer report value to minutes.
func sleepMinutes(value byte) (int, bool) {
	switch value {
	case 0x0A:
		return 10, true
	case 0x14:
		return 20, true
	case 0x1E:
		return 30, true
	}
	return 0, false
}

func formatPacket(data []byte) string {
	out := make([]byte, 0, len(data)*3)
	for i, b := range data {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	return string(out)
}
