package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voice-drive-lab/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Transcript is the recognised text of one utterance.
type Transcript struct {
	Text       string
	Confidence float64
}

// Transcriber turns mono PCM16 audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int, correlationID string) (Transcript, error)
}

// WhisperClient posts WAV audio to a whisper-style HTTP endpoint.
type WhisperClient struct {
	URL      string
	Language string
	HTTP     *http.Client
	Attempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

func NewWhisperClient(rawURL, language string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		URL:      rawURL,
		Language: language,
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
	}
}

type whisperResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Segments   []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe sends pcm and returns the transcript. Network failures and 5xx
// responses are retried and reported as ErrTransient once attempts run out;
// other non-2xx responses are ErrPermanent.
func (c *WhisperClient) Transcribe(ctx context.Context, pcm []int16, sampleRate int, correlationID string) (Transcript, error) {
	if c.URL == "" {
		return Transcript{}, fmt.Errorf("%w: whisper url not configured", ErrPermanent)
	}
	target, err := c.requestURL()
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	wav := buildWAV(pcmBytes(pcm), sampleRate, 1, 16)
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Transcript{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
			case <-time.After(c.Backoff * time.Duration(1<<(i-1))):
			}
		}
		tr, err := c.post(ctx, target, wav, correlationID)
		if err == nil {
			return tr, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) {
			return Transcript{}, err
		}
		logging.Warnw("whisper request failed", "correlation_id", correlationID, "attempt", i+1, "err", err)
	}
	return Transcript{}, lastErr
}

func (c *WhisperClient) requestURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}
	if c.Language != "" {
		q := u.Query()
		q.Set("language", c.Language)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *WhisperClient) post(ctx context.Context, target string, wav []byte, correlationID string) (Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(wav))
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	sent := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return Transcript{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Transcript{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	logging.Debugw("whisper response", "correlation_id", correlationID, "status", resp.StatusCode, "stt_latency_ms", time.Since(sent).Milliseconds())
	return Transcript{Text: strings.TrimSpace(out.Text), Confidence: out.confidence()}, nil
}

// confidence prefers an explicit score, then the mean segment probability.
func (r whisperResponse) confidence() float64 {
	if r.Confidence != nil {
		return *r.Confidence
	}
	if len(r.Segments) == 0 {
		return 1
	}
	var sum float64
	for _, s := range r.Segments {
		sum += math.Exp(s.AvgLogprob)
	}
	return sum / float64(len(r.Segments))
}

func pcmBytes(pcm []int16) []byte {
	buf := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

// buildWAV prepends a RIFF/WAVE header for integer PCM.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))

	buf := &bytes.Buffer{}
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
