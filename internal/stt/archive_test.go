package stt

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewArchiveDisabledWithoutDir(t *testing.T) {
	if NewArchive("  ", time.Hour, 10) != nil {
		t.Fatalf("empty dir should disable the archive")
	}
}

func TestArchiveSaveWritesPair(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, time.Hour, 10)
	if err := a.Save("sess-1", "cid-1", []int16{1, 2, 3}, Transcript{Text: "stop", Confidence: 0.9}, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := a.Save("sess-1", "cid-2", []int16{1}, Transcript{}, errors.New("boom")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*cidcid-1.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one sidecar for cid-1, got %v", matches)
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if sc.SessionID != "sess-1" || sc.Transcript != "stop" || sc.Samples != 3 || sc.Error != "" {
		t.Fatalf("unexpected sidecar %+v", sc)
	}
	wav, err := os.ReadFile(sc.WAVPath)
	if err != nil || len(wav) != 44+6 {
		t.Fatalf("wav missing or wrong size: %d %v", len(wav), err)
	}

	failed, _ := filepath.Glob(filepath.Join(dir, "*cidcid-2.json"))
	if len(failed) != 1 {
		t.Fatalf("expected sidecar for failed utterance")
	}
	if b, _ := os.ReadFile(failed[0]); !strings.Contains(string(b), `"error": "boom"`) {
		t.Fatalf("error not recorded: %s", b)
	}
}

func TestArchivePruneByAgeAndCount(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, time.Hour, 2)
	now := time.Now()
	for i, cid := range []string{"old", "a", "b", "c"} {
		if err := a.Save("s", cid, []int16{0}, Transcript{}, nil); err != nil {
			t.Fatalf("Save: %v", err)
		}
		age := time.Duration(3-i) * time.Minute
		if cid == "old" {
			age = 2 * time.Hour
		}
		matches, _ := filepath.Glob(filepath.Join(dir, "*cid"+cid+".json"))
		if len(matches) != 1 {
			t.Fatalf("sidecar for %s not found", cid)
		}
		if err := os.Chtimes(matches[0], now.Add(-age), now.Add(-age)); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	if n := a.Prune(); n != 2 {
		t.Fatalf("expected 2 removals (one expired, one over count), got %d", n)
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*.json"))
	if len(left) != 2 {
		t.Fatalf("expected 2 sidecars left, got %v", left)
	}
	for _, p := range left {
		if strings.Contains(p, "cidold") || strings.Contains(p, "cida.") {
			t.Fatalf("oldest entries should have been pruned, left %v", left)
		}
	}
	wavs, _ := filepath.Glob(filepath.Join(dir, "*.wav"))
	if len(wavs) != 2 {
		t.Fatalf("wav files should be pruned with their sidecars, got %v", wavs)
	}
}
