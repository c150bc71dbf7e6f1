// Package eventlog reads the device-input-event log recorded alongside a
// capture session and correlates it with the media clock.
package eventlog

import "fmt"

// InputEvent is a single keyboard or mouse event. Immutable once read.
type InputEvent struct {
	// Timestamp is in the log's own clock domain (ticks).
	Timestamp int64
	// MediaUs is Timestamp converted into the media clock.
	MediaUs int64
	Payload Payload
}

// Payload is either Keyboard or Mouse. The set is closed.
type Payload interface {
	isPayload()
}

// Keyboard is a key transition identified by its virtual-key code.
type Keyboard struct {
	Key  uint16
	Down bool
}

// Mouse is a pointer event in screen coordinates.
type Mouse struct {
	X, Y       int32
	Button     MouseButton
	Action     MouseAction
	WheelDelta int32
}

func (Keyboard) isPayload() {}
func (Mouse) isPayload()    {}

// MouseButton identifies the button involved in a mouse event.
type MouseButton uint8

const (
	ButtonNone MouseButton = iota
	ButtonLeft
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2
)

var buttonNames = [...]string{"none", "left", "right", "middle", "x1", "x2"}

func (b MouseButton) String() string {
	if int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return fmt.Sprintf("button(%d)", uint8(b))
}

// MouseAction is what the pointer did.
type MouseAction uint8

const (
	ActionMove MouseAction = iota
	ActionDown
	ActionUp
	ActionWheel
)

var actionNames = [...]string{"move", "down", "up", "wheel"}

func (a MouseAction) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func parseButton(s string) (MouseButton, bool) {
	for i, name := range buttonNames {
		if s == name {
			return MouseButton(i), true
		}
	}
	return 0, false
}

func parseAction(s string) (MouseAction, bool) {
	for i, name := range actionNames {
		if s == name {
			return MouseAction(i), true
		}
	}
	return 0, false
}
