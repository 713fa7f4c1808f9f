package bridge

import (
	"github.com/voice-drive-lab/internal/control"
	"github.com/voice-drive-lab/internal/voice"
)

// Inbound message types sent by the cockpit page.
const (
	TypeHello       = "hello"
	TypeRecognition = "recognition"
	TypeKey         = "key"
	TypeVoice       = "voice"
)

// Outbound message types sent to the cockpit page.
const (
	TypeWelcome    = "welcome"
	TypeRecognizer = "recognizer"
	TypeActuate    = "actuate"
	TypeStatus     = "status"
	TypeError      = "error"
)

// Inbound is the envelope for every JSON message the page sends. Fields not
// used by a type are left empty.
type Inbound struct {
	Type string `json:"type"`

	// hello
	SpeechSupported bool `json:"speech_supported,omitempty"`

	// recognition: event is start | result | error | end
	Event       string          `json:"event,omitempty"`
	ResultIndex int             `json:"result_index,omitempty"`
	Results     []voice.Segment `json:"results,omitempty"`
	Error       string          `json:"error,omitempty"`

	// key
	Key  string `json:"key,omitempty"`
	Down bool   `json:"down,omitempty"`
	Ctrl bool   `json:"ctrl,omitempty"`

	// voice: action is start | stop
	Action string `json:"action,omitempty"`
}

// Welcome confirms the handshake.
type Welcome struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Recognition string `json:"recognition"`
}

// RecognizerCommand asks the page to start or abort its speech engine.
type RecognizerCommand struct {
	Type    string         `json:"type"`
	Action  string         `json:"action"`
	Options *voice.Options `json:"options,omitempty"`
}

// Actuate carries one resolve's worth of actuator calls.
type Actuate struct {
	Type string       `json:"type"`
	Ops  []control.Op `json:"ops"`
}

// StatusMessage mirrors voice.Status for the voice panel.
type StatusMessage struct {
	Type   string       `json:"type"`
	Status voice.Status `json:"status"`
}

// ErrorMessage reports a protocol problem before the connection closes.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// recognitionEvent converts a recognition message into a voice.Event.
func recognitionEvent(in Inbound) (voice.Event, bool) {
	switch in.Event {
	case "start":
		return voice.StartEvent{}, true
	case "result":
		return voice.ResultEvent{Index: in.ResultIndex, Results: in.Results}, true
	case "error":
		return voice.ErrorEvent{Code: in.Error}, true
	case "end":
		return voice.EndEvent{}, true
	default:
		return nil, false
	}
}
