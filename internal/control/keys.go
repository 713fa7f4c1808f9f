package control

import "strings"

// Key is one of the recognised driving keys.
type Key int

const (
	KeyLeft Key = iota
	KeyRight
	KeyReset
	KeyBrake
	KeyBackward
	KeyForward
	KeyToggleView

	numKeys
)

var keyNames = [numKeys]string{"left", "right", "reset", "brake", "backward", "forward", "toggle-view"}

func (k Key) String() string {
	if k < 0 || k >= numKeys {
		return "unknown"
	}
	return keyNames[k]
}

// keyBindings maps lowercased KeyboardEvent.key values to keys.
var keyBindings = map[string]Key{
	"a":     KeyLeft,
	"d":     KeyRight,
	"r":     KeyReset,
	" ":     KeyBrake,
	"s":     KeyBackward,
	"w":     KeyForward,
	"enter": KeyToggleView,
}

// ParseKey accepts either a keyboard key value ("w", " ", "Enter") or a
// logical key name ("forward", "toggle-view", "space").
func ParseKey(name string) (Key, bool) {
	if k, ok := keyBindings[strings.ToLower(name)]; ok {
		return k, true
	}
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "space" {
		return KeyBrake, true
	}
	for i, kn := range keyNames {
		if kn == n {
			return Key(i), true
		}
	}
	return 0, false
}

// KeyState records which driving keys are held.
type KeyState struct {
	pressed [numKeys]bool
}

// Pressed reports whether k is held.
func (s KeyState) Pressed(k Key) bool {
	if k < 0 || k >= numKeys {
		return false
	}
	return s.pressed[k]
}

// With returns a copy of s with k set to down.
func (s KeyState) With(k Key, down bool) KeyState {
	if k >= 0 && k < numKeys {
		s.pressed[k] = down
	}
	return s
}

// Keys builds a state with the given keys held.
func Keys(held ...Key) KeyState {
	var s KeyState
	for _, k := range held {
		s = s.With(k, true)
	}
	return s
}

// KeyEvent is a key transition from the page.
type KeyEvent struct {
	Key  Key
	Down bool
	// Ctrl marks events produced while ctrl was held; they are ignored.
	Ctrl bool
}
