package eventlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed is returned by ParseLine for lines that are not valid events.
	ErrMalformed = errors.New("eventlog: malformed line")
	// ErrUnknownPayload is returned by FormatLine for a nil or foreign payload.
	ErrUnknownPayload = errors.New("eventlog: unknown payload")
)

// ParseLine decodes one log line.
//
// Formats:
//
//	<ticks> key <virtual-key> <down|up>
//	<ticks> mouse <x> <y> <button> <move|down|up|wheel> [wheel-delta]
func ParseLine(line string) (InputEvent, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return InputEvent{}, fmt.Errorf("%w: too few fields", ErrMalformed)
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return InputEvent{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, fields[0])
	}

	switch fields[1] {
	case "key":
		if len(fields) != 4 {
			return InputEvent{}, fmt.Errorf("%w: key event wants 4 fields, got %d", ErrMalformed, len(fields))
		}
		vk, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return InputEvent{}, fmt.Errorf("%w: bad virtual key %q", ErrMalformed, fields[2])
		}
		var down bool
		switch fields[3] {
		case "down":
			down = true
		case "up":
		default:
			return InputEvent{}, fmt.Errorf("%w: bad key state %q", ErrMalformed, fields[3])
		}
		return InputEvent{Timestamp: ts, Payload: Keyboard{Key: uint16(vk), Down: down}}, nil

	case "mouse":
		if len(fields) != 6 && len(fields) != 7 {
			return InputEvent{}, fmt.Errorf("%w: mouse event wants 6 or 7 fields, got %d", ErrMalformed, len(fields))
		}
		x, errX := strconv.ParseInt(fields[2], 10, 32)
		y, errY := strconv.ParseInt(fields[3], 10, 32)
		if errX != nil || errY != nil {
			return InputEvent{}, fmt.Errorf("%w: bad coordinates", ErrMalformed)
		}
		button, ok := parseButton(fields[4])
		if !ok {
			return InputEvent{}, fmt.Errorf("%w: bad button %q", ErrMalformed, fields[4])
		}
		action, ok := parseAction(fields[5])
		if !ok {
			return InputEvent{}, fmt.Errorf("%w: bad action %q", ErrMalformed, fields[5])
		}
		m := Mouse{X: int32(x), Y: int32(y), Button: button, Action: action}
		if len(fields) == 7 {
			wheel, err := strconv.ParseInt(fields[6], 10, 32)
			if err != nil {
				return InputEvent{}, fmt.Errorf("%w: bad wheel delta %q", ErrMalformed, fields[6])
			}
			m.WheelDelta = int32(wheel)
		}
		return InputEvent{Timestamp: ts, Payload: m}, nil

	default:
		return InputEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, fields[1])
	}
}

// FormatLine encodes an event in the log line format (without newline).
func FormatLine(e InputEvent) (string, error) {
	switch p := e.Payload.(type) {
	case Keyboard:
		state := "up"
		if p.Down {
			state = "down"
		}
		return fmt.Sprintf("%d key %d %s", e.Timestamp, p.Key, state), nil
	case Mouse:
		line := fmt.Sprintf("%d mouse %d %d %s %s", e.Timestamp, p.X, p.Y, p.Button, p.Action)
		if p.WheelDelta != 0 {
			line += " " + strconv.FormatInt(int64(p.WheelDelta), 10)
		}
		return line, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownPayload, e.Payload)
	}
}
