package voice

// State is the lifecycle position of a recognition session.
type State int

const (
	Idle State = iota
	Starting
	Listening
	Restarting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// transitions enumerates every legal state change.
var transitions = map[State][]State{
	Idle:       {Starting, Stopped},
	Starting:   {Listening, Restarting, Stopped},
	Listening:  {Restarting, Stopped},
	Restarting: {Starting, Stopped},
	Stopped:    {Starting},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// active reports whether the engine may be running or about to run.
func (s State) active() bool {
	return s == Starting || s == Listening || s == Restarting
}
