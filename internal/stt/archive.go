package stt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/voice-drive-lab/internal/logging"
)

// Archive keeps server-side utterances on disk for debugging: one WAV plus
// a JSON sidecar per utterance, pruned by age and count.
type Archive struct {
	Dir       string
	Retention time.Duration
	MaxFiles  int

	now func() time.Time
}

// Sidecar describes one archived utterance.
type Sidecar struct {
	CorrelationID string    `json:"correlation_id"`
	SessionID     string    `json:"session_id"`
	WAVPath       string    `json:"wav_path"`
	Samples       int       `json:"samples"`
	DurationMs    int       `json:"duration_ms"`
	Transcript    string    `json:"transcript,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewArchive returns nil when dir is empty so callers can skip archiving
// with a nil check.
func NewArchive(dir string, retention time.Duration, maxFiles int) *Archive {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Archive{Dir: dir, Retention: retention, MaxFiles: maxFiles, now: time.Now}
}

func (a *Archive) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

// Save writes the utterance audio and its sidecar.
func (a *Archive) Save(sessionID, cid string, pcm []int16, tr Transcript, trErr error) error {
	created := a.clock()
	base := filepath.Join(a.Dir, created.UTC().Format("20060102T150405.000")+"-cid"+cid)
	sc := Sidecar{
		CorrelationID: cid,
		SessionID:     sessionID,
		WAVPath:       base + ".wav",
		Samples:       len(pcm),
		DurationMs:    len(pcm) * 1000 / SampleRate,
		Transcript:    tr.Text,
		Confidence:    tr.Confidence,
		CreatedAt:     created,
	}
	if trErr != nil {
		sc.Error = trErr.Error()
	}
	if err := saveFileAtomic(sc.WAVPath, buildWAV(pcmBytes(pcm), SampleRate, 1, 16), 0o644); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return saveFileAtomic(base+".json", b, 0o644)
}

// RunCleaner prunes the archive every interval until ctx is done.
func (a *Archive) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(); n > 0 {
				logging.Debugw("archive: pruned utterances", "dir", a.Dir, "removed", n)
			}
		}
	}
}

type archived struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Prune removes utterances older than Retention, then the oldest ones beyond
// MaxFiles. It returns how many were removed.
func (a *Archive) Prune() int {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		logging.Debugw("archive: readDir failed", "dir", a.Dir, "err", err)
		return 0
	}
	var items []archived
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(a.Dir, name)
		info, err := e.Info()
		if err != nil {
			continue
		}
		item := archived{jsonPath: jsonPath, wavPath: strings.TrimSuffix(jsonPath, ".json") + ".wav", mod: info.ModTime()}
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc Sidecar
			if json.Unmarshal(b, &sc) == nil && sc.WAVPath != "" {
				item.wavPath = sc.WAVPath
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })

	removed := 0
	remove := func(it archived) {
		_ = os.Remove(it.jsonPath)
		_ = os.Remove(it.wavPath)
		removed++
	}
	keep := items[:0]
	if a.Retention > 0 {
		cutoff := a.clock().Add(-a.Retention)
		for _, it := range items {
			if it.mod.Before(cutoff) {
				remove(it)
				continue
			}
			keep = append(keep, it)
		}
	} else {
		keep = items
	}
	if a.MaxFiles > 0 && len(keep) > a.MaxFiles {
		for _, it := range keep[:len(keep)-a.MaxFiles] {
			remove(it)
		}
	}
	return removed
}

// saveFileAtomic writes data next to path and renames it into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
