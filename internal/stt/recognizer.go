package stt

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/voice"
)

// SampleRate is the rate of decoded cockpit audio.
const SampleRate = 48000

// maxFrameSamples covers the longest opus frame (120 ms at 48 kHz).
const maxFrameSamples = SampleRate * 120 / 1000

// Decoder decodes one compressed frame into pcm and returns the sample count.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Config tunes voice activity detection for the server-side recognizer.
type Config struct {
	// VADRMS is the RMS level a frame must reach to count as speech.
	VADRMS        int
	Silence       time.Duration
	MaxUtterance  time.Duration
	NoSpeech      time.Duration
	MaxFrameBytes int
	Tick          time.Duration
}

func DefaultConfig() Config {
	return Config{
		VADRMS:        500,
		Silence:       700 * time.Millisecond,
		MaxUtterance:  8 * time.Second,
		NoSpeech:      8 * time.Second,
		MaxFrameBytes: 4000,
		Tick:          100 * time.Millisecond,
	}
}

type result struct {
	tr  Transcript
	err error
	cid string
}

// Recognizer is a voice.Recognizer fed with opus frames from the cockpit.
// It segments speech by energy, transcribes each utterance and reports the
// transcript as a final result, mirroring a browser engine's event stream.
type Recognizer struct {
	cfg     Config
	tr      Transcriber
	dec     Decoder
	deliver func(voice.Event)
	id      string
	archive *Archive

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	frames  chan []byte
}

func NewRecognizer(cfg Config, tr Transcriber, dec Decoder, sessionID string, deliver func(voice.Event)) *Recognizer {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	return &Recognizer{cfg: cfg, tr: tr, dec: dec, deliver: deliver, id: sessionID}
}

// SetArchive keeps every transcribed utterance in a. Call before Start.
func (r *Recognizer) SetArchive(a *Archive) { r.archive = a }

func (r *Recognizer) Supported() bool { return r.tr != nil && r.dec != nil }

// Start begins a capture run. It fails if a run is already active.
func (r *Recognizer) Start(voice.Options) error {
	if !r.Supported() {
		return voice.ErrUnsupported
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("recognition has already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.gen++
	r.cancel = cancel
	r.frames = make(chan []byte, 64)
	go r.run(ctx, r.gen, r.frames)
	return nil
}

// Abort ends the active run. Events from an aborted run are discarded.
func (r *Recognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	r.gen++
	r.cancel()
	return nil
}

// Feed queues one opus frame. Frames are dropped while no run is active or
// the queue is full.
func (r *Recognizer) Feed(frame []byte) {
	if r.cfg.MaxFrameBytes > 0 && len(frame) > r.cfg.MaxFrameBytes {
		logging.Debugw("dropping oversized audio frame", "session.id", r.id, "bytes", len(frame))
		return
	}
	r.mu.Lock()
	running, frames := r.running, r.frames
	r.mu.Unlock()
	if !running {
		return
	}
	select {
	case frames <- append([]byte(nil), frame...):
	default:
		logging.Warnw("dropping audio frame; queue full", "session.id", r.id)
	}
}

func (r *Recognizer) emit(gen uint64, ev voice.Event) bool {
	r.mu.Lock()
	current := r.gen == gen
	r.mu.Unlock()
	if current && r.deliver != nil {
		r.deliver(ev)
	}
	return current
}

// finish marks the run over and reports its terminal events.
func (r *Recognizer) finish(gen uint64, evs ...voice.Event) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	for _, ev := range evs {
		if r.deliver != nil {
			r.deliver(ev)
		}
	}
}

type utterance struct {
	samples    []int16
	cid        string
	startedAt  time.Time
	lastVoiced time.Time
}

func (r *Recognizer) run(ctx context.Context, gen uint64, frames <-chan []byte) {
	if !r.emit(gen, voice.StartEvent{}) {
		return
	}
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	results := make(chan result, 4)
	pcm := make([]int16, maxFrameSamples)
	var cur *utterance
	idleSince := time.Now()
	inflight := 0

	flush := func() {
		u := cur
		cur = nil
		inflight++
		durMs := len(u.samples) * 1000 / SampleRate
		logging.Debugw("flushing utterance", append(logging.UtteranceFields(u.cid, len(u.samples), durMs), "session.id", r.id)...)
		go func() {
			tr, err := r.tr.Transcribe(ctx, u.samples, SampleRate, u.cid)
			if r.archive != nil {
				if aerr := r.archive.Save(r.id, u.cid, u.samples, tr, err); aerr != nil {
					logging.Warnw("archive: save failed", "session.id", r.id, "correlation_id", u.cid, "err", aerr)
				}
			}
			select {
			case results <- result{tr: tr, err: err, cid: u.cid}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			n, err := r.dec.Decode(frame, pcm)
			if err != nil {
				logging.Debugw("audio decode error", "session.id", r.id, "err", err)
				continue
			}
			samples := pcm[:n]
			voiced := rms(samples) >= r.cfg.VADRMS
			now := time.Now()
			if cur == nil {
				if !voiced {
					continue
				}
				cur = &utterance{cid: uuid.NewString(), startedAt: now}
			}
			cur.samples = append(cur.samples, samples...)
			if voiced {
				cur.lastVoiced = now
			}
			if time.Duration(len(cur.samples))*time.Second/SampleRate >= r.cfg.MaxUtterance {
				flush()
			}
		case <-ticker.C:
			now := time.Now()
			if cur != nil && now.Sub(cur.lastVoiced) >= r.cfg.Silence {
				flush()
				continue
			}
			if cur == nil && inflight == 0 && now.Sub(idleSince) >= r.cfg.NoSpeech {
				r.finish(gen, voice.ErrorEvent{Code: "no-speech"}, voice.EndEvent{})
				return
			}
		case res := <-results:
			inflight--
			idleSince = time.Now()
			if res.err != nil {
				logging.Warnw("transcription failed", "session.id", r.id, "correlation_id", res.cid, "err", res.err)
				r.finish(gen, voice.ErrorEvent{Code: "network"}, voice.EndEvent{})
				return
			}
			if res.tr.Text == "" {
				continue
			}
			logging.Infow("utterance transcribed", "session.id", r.id, "correlation_id", res.cid, "transcript", res.tr.Text)
			r.emit(gen, voice.ResultEvent{Results: []voice.Segment{{Transcript: res.tr.Text, Confidence: res.tr.Confidence, Final: true}}})
		}
	}
}

func rms(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range samples {
		v := int64(s)
		sumSq += v * v
	}
	return int(math.Sqrt(float64(sumSq / int64(len(samples)))))
}
