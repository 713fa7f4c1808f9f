package voice

import "errors"

var (
	// ErrUnsupported is returned by Start when no recognition engine is
	// available for the session.
	ErrUnsupported = errors.New("speech recognition unsupported")
	// ErrClosed is returned once the session loop has shut down.
	ErrClosed = errors.New("voice session closed")
)

// Options configures a recognition run on the engine side.
type Options struct {
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interim_results"`
	Lang            string `json:"lang"`
	MaxAlternatives int    `json:"max_alternatives"`
}

// Recognizer is the external recognition engine. Start begins a run and may
// fail synchronously; everything else arrives later as Events delivered to
// the Manager.
type Recognizer interface {
	Supported() bool
	Start(Options) error
	Abort() error
}

// Event is a typed notification from the recognition engine.
type Event interface{ eventName() string }

// StartEvent reports that the engine is capturing audio.
type StartEvent struct{}

// Segment is the top alternative of one recognition result.
type Segment struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// ResultEvent carries the engine's result list; only entries from Index
// onward changed since the previous event.
type ResultEvent struct {
	Index   int
	Results []Segment
}

// ErrorEvent carries the engine's error code, e.g. "no-speech".
type ErrorEvent struct {
	Code string
}

// EndEvent reports that the engine stopped capturing.
type EndEvent struct{}

func (StartEvent) eventName() string  { return "start" }
func (ResultEvent) eventName() string { return "result" }
func (ErrorEvent) eventName() string  { return "error" }
func (EndEvent) eventName() string    { return "end" }

// ErrorKind groups engine error codes by how the session reacts to them.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUnsupported
	KindPermission
	KindNoSpeech
	KindDevice
	KindNetwork
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindPermission:
		return "permission"
	case KindNoSpeech:
		return "no_speech"
	case KindDevice:
		return "device"
	case KindNetwork:
		return "network"
	case KindAborted:
		return "aborted"
	default:
		return "other"
	}
}

// Terminal reports whether the kind ends the session without retry.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindUnsupported, KindPermission, KindDevice, KindNetwork:
		return true
	}
	return false
}

// ClassifyErrorCode maps an engine error code onto an ErrorKind.
func ClassifyErrorCode(code string) ErrorKind {
	switch code {
	case "not-allowed", "service-not-allowed":
		return KindPermission
	case "no-speech":
		return KindNoSpeech
	case "audio-capture":
		return KindDevice
	case "network":
		return KindNetwork
	case "aborted":
		return KindAborted
	case "unsupported":
		return KindUnsupported
	default:
		return KindOther
	}
}
