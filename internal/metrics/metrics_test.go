package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voice-drive-lab/internal/voice"
)

func TestObserverFeedsRegistry(t *testing.T) {
	m := New("test")
	var _ voice.Observer = m

	m.CommandAccepted(voice.Left)
	m.CommandAccepted(voice.Left)
	m.CommandRejected(voice.Debounced)
	m.RestartScheduled("end")
	m.Fault(voice.KindNetwork)
	m.SessionOpened()
	m.MessageDropped()

	ts := httptest.NewServer(m.Handler())
	defer ts.Close()
	resp, err := ts.Client().Get(ts.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`test_voice_commands_accepted_total{command="left"} 2`,
		`test_voice_commands_rejected_total{reason="debounced"} 1`,
		`test_voice_restarts_total{cause="end"} 1`,
		`test_voice_faults_total{kind="network"} 1`,
		`test_cockpit_sessions_active 1`,
		`test_cockpit_inbound_dropped_total 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
