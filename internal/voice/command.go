package voice

import (
	"encoding/json"
	"strings"
)

// Command is one of the discrete driving instructions a finalized utterance
// can resolve to. The declaration order is the tie-break order used by the
// classifier.
type Command int

const (
	Forward Command = iota
	Backward
	Left
	Right
	Faster
	Slower
	Stop

	numCommands
)

var commandNames = [numCommands]string{"forward", "backward", "left", "right", "faster", "slower", "stop"}

func (c Command) String() string {
	if c < 0 || c >= numCommands {
		return "unknown"
	}
	return commandNames[c]
}

// ParseCommand maps a command name back to its Command.
func ParseCommand(s string) (Command, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range commandNames {
		if n == s {
			return Command(i), true
		}
	}
	return 0, false
}

// Commands lists every command in table order.
func Commands() []Command {
	out := make([]Command, numCommands)
	for i := range out {
		out[i] = Command(i)
	}
	return out
}

// CommandSet holds the active voice command. At most one flag is ever set;
// the zero value means no active voice command.
type CommandSet struct {
	flags [numCommands]bool
}

// Only returns a set with exactly cmd active.
func Only(cmd Command) CommandSet {
	var s CommandSet
	if cmd >= 0 && cmd < numCommands {
		s.flags[cmd] = true
	}
	return s
}

// Has reports whether cmd is the active command.
func (s CommandSet) Has(cmd Command) bool {
	if cmd < 0 || cmd >= numCommands {
		return false
	}
	return s.flags[cmd]
}

// Active returns the active command, if any.
func (s CommandSet) Active() (Command, bool) {
	for i, on := range s.flags {
		if on {
			return Command(i), true
		}
	}
	return 0, false
}

// Any reports whether a voice command is active.
func (s CommandSet) Any() bool {
	_, ok := s.Active()
	return ok
}

// Count returns how many flags are set.
func (s CommandSet) Count() int {
	n := 0
	for _, on := range s.flags {
		if on {
			n++
		}
	}
	return n
}

func (s CommandSet) String() string {
	if c, ok := s.Active(); ok {
		return c.String()
	}
	return "none"
}

// MarshalJSON renders the set as the seven named flags the cockpit panel
// expects.
func (s CommandSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, numCommands)
	for i, n := range commandNames {
		m[n] = s.flags[i]
	}
	return json.Marshal(m)
}
