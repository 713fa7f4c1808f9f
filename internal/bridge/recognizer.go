package bridge

import "github.com/voice-drive-lab/internal/voice"

// pageRecognizer drives the speech engine that runs inside the cockpit page.
// Start and Abort become recognizer commands; the page reports the engine's
// events back as recognition messages. A start the engine refuses arrives
// later as a recognition error rather than a synchronous failure.
type pageRecognizer struct {
	supported bool
	send      func(any) error
}

func (p *pageRecognizer) Supported() bool { return p.supported }

func (p *pageRecognizer) Start(opts voice.Options) error {
	if !p.supported {
		return voice.ErrUnsupported
	}
	return p.send(RecognizerCommand{Type: TypeRecognizer, Action: "start", Options: &opts})
}

func (p *pageRecognizer) Abort() error {
	return p.send(RecognizerCommand{Type: TypeRecognizer, Action: "abort"})
}
