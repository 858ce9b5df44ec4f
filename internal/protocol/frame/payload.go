package frame

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload   = errors.New("frame: empty payload")
	ErrUnknownCommand = errors.New("frame: unknown command")
)

// Command is the CMD payload sub-code.
type Command uint8

const (
	CmdClear       Command = 0x10
	CmdSleep       Command = 0x11
	CmdWake        Command = 0x12
	CmdPartialMode Command = 0x13
	CmdFullMode    Command = 0x14
)

func (c Command) String() string {
	switch c {
	case CmdClear:
		return "CLEAR"
	case CmdSleep:
		return "SLEEP"
	case CmdWake:
		return "WAKE"
	case CmdPartialMode:
		return "PARTIAL_MODE"
	case CmdFullMode:
		return "FULL_MODE"
	default:
		return "UNKNOWN"
	}
}

// ParseCommand reads the sub-code from a CMD payload. Bytes after the first
// are parameters and are ignored.
func ParseCommand(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: command", ErrEmptyPayload)
	}
	c := Command(payload[0])
	if c.String() == "UNKNOWN" {
		return c, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, payload[0])
	}
	return c, nil
}

// ParseTile splits a TILE payload into its band index and the run-length
// data for that band.
func ParseTile(payload []byte) (band uint8, data []byte, err error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("%w: tile", ErrEmptyPayload)
	}
	return payload[0], payload[1:], nil
}
