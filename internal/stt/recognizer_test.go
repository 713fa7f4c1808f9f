package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/voice-drive-lab/internal/voice"
)

// pcmDecoder treats each frame as raw little-endian PCM16.
type pcmDecoder struct{}

func (pcmDecoder) Decode(data []byte, pcm []int16) (int, error) {
	n := len(data) / 2
	if n > len(pcm) {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return n, nil
}

type fakeTranscriber struct {
	text string
	conf float64
	err  error
	got  chan int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []int16, _ int, _ string) (Transcript, error) {
	if f.got != nil {
		f.got <- len(pcm)
	}
	return Transcript{Text: f.text, Confidence: f.conf}, f.err
}

func frame(level int16, samples int) []byte {
	b := make([]byte, 2*samples)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(level))
	}
	return b
}

func testConfig() Config {
	return Config{
		VADRMS:        500,
		Silence:       60 * time.Millisecond,
		MaxUtterance:  5 * time.Second,
		NoSpeech:      80 * time.Millisecond,
		MaxFrameBytes: 4000,
		Tick:          10 * time.Millisecond,
	}
}

func collect(t *testing.T, events <-chan voice.Event) voice.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for recognizer event")
		return nil
	}
}

func TestRecognizerTranscribesUtterance(t *testing.T) {
	events := make(chan voice.Event, 16)
	tr := &fakeTranscriber{text: "turn left", conf: 0.7, got: make(chan int, 1)}
	r := NewRecognizer(testConfig(), tr, pcmDecoder{}, "t", func(ev voice.Event) { events <- ev })
	if err := r.Start(voice.Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(voice.Options{}); err == nil {
		t.Fatalf("second Start should fail while running")
	}
	if _, ok := collect(t, events).(voice.StartEvent); !ok {
		t.Fatalf("expected start event")
	}
	// 20 ms of speech, then quiet frames until the silence window closes
	r.Feed(frame(2000, 960))
	r.Feed(frame(10, 960))
	ev := collect(t, events)
	res, ok := ev.(voice.ResultEvent)
	if !ok {
		t.Fatalf("expected result, got %#v", ev)
	}
	if len(res.Results) != 1 || !res.Results[0].Final || res.Results[0].Transcript != "turn left" || res.Results[0].Confidence != 0.7 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := <-tr.got; n != 1920 {
		t.Fatalf("expected 1920 samples transcribed, got %d", n)
	}
	r.Abort()
}

func TestRecognizerNoSpeech(t *testing.T) {
	events := make(chan voice.Event, 16)
	r := NewRecognizer(testConfig(), &fakeTranscriber{}, pcmDecoder{}, "t", func(ev voice.Event) { events <- ev })
	if err := r.Start(voice.Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	collect(t, events)
	r.Feed(frame(5, 960))
	if ev, ok := collect(t, events).(voice.ErrorEvent); !ok || ev.Code != "no-speech" {
		t.Fatalf("expected no-speech error, got %#v", ev)
	}
	if _, ok := collect(t, events).(voice.EndEvent); !ok {
		t.Fatalf("expected end event")
	}
	// the run is over, so it can be started again
	if err := r.Start(voice.Options{}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Abort()
}

func TestRecognizerTranscriptionFailureIsNetworkError(t *testing.T) {
	events := make(chan voice.Event, 16)
	tr := &fakeTranscriber{err: errors.New("boom")}
	r := NewRecognizer(testConfig(), tr, pcmDecoder{}, "t", func(ev voice.Event) { events <- ev })
	r.Start(voice.Options{})
	collect(t, events)
	r.Feed(frame(3000, 960))
	if ev, ok := collect(t, events).(voice.ErrorEvent); !ok || ev.Code != "network" {
		t.Fatalf("expected network error, got %#v", ev)
	}
	if _, ok := collect(t, events).(voice.EndEvent); !ok {
		t.Fatalf("expected end event")
	}
}

func TestRecognizerAbortIsSilent(t *testing.T) {
	events := make(chan voice.Event, 16)
	r := NewRecognizer(testConfig(), &fakeTranscriber{}, pcmDecoder{}, "t", func(ev voice.Event) { events <- ev })
	r.Start(voice.Options{})
	collect(t, events)
	r.Abort()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after abort %#v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRecognizerUnsupportedWithoutDecoder(t *testing.T) {
	r := NewRecognizer(testConfig(), &fakeTranscriber{}, nil, "t", nil)
	if r.Supported() {
		t.Fatalf("expected unsupported without decoder")
	}
	if err := r.Start(voice.Options{}); !errors.Is(err, voice.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRMS(t *testing.T) {
	if got := rms([]int16{3, -3, 3, -3}); got != 3 {
		t.Fatalf("rms = %d", got)
	}
	if rms(nil) != 0 {
		t.Fatalf("rms of nothing should be 0")
	}
}

func TestRecognizerArchivesUtterances(t *testing.T) {
	dir := t.TempDir()
	events := make(chan voice.Event, 16)
	tr := &fakeTranscriber{text: "stop", conf: 1}
	r := NewRecognizer(testConfig(), tr, pcmDecoder{}, "sess", func(ev voice.Event) { events <- ev })
	r.SetArchive(NewArchive(dir, time.Hour, 10))
	if err := r.Start(voice.Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Abort()
	collect(t, events)
	r.Feed(frame(2000, 960))
	if _, ok := collect(t, events).(voice.ResultEvent); !ok {
		t.Fatalf("expected result event")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one archived sidecar, got %v", matches)
	}
}
