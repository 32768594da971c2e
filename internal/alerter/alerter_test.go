package alerter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/lifecycle"
	"Go2NetLog/internal/model"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) Send(subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

type staticSource struct {
	snap *ownerstore.Snapshot
}

func (s staticSource) Snapshot(context.Context) (*ownerstore.Snapshot, error) {
	return s.snap, nil
}

func testSnapshot(t *testing.T) *ownerstore.Snapshot {
	t.Helper()
	state := &lifecycle.Tracker{}
	state.Set(lifecycle.Running)
	s := ownerstore.NewStore(0)
	err := s.Rebuild([]model.OwnerDescriptor{{ID: 1000, Name: "System"}, {ID: 10050, Name: "Browser"}}, state)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.Ingest(&model.FlowRecord{OwnerID: 10050, OutInterface: "wlan0", DstAddr: "1.1.1.1", DstPort: 443 + i, Length: 1000})
	}
	return s.Snapshot()
}

func TestEvaluate(t *testing.T) {
	cfg := &config.AlerterConfig{
		CheckInterval: "1m",
		Rules: []config.AlerterRule{
			{Name: "heavy", Metric: "total_bytes", Operator: ">", Threshold: 2500},
			{Name: "chatty", Owner: "browser", Metric: "peer_count", Operator: ">=", Threshold: 3},
			{Name: "system quiet", Owner: "1000", Metric: "total_packets", Operator: "=", Threshold: 0},
			{Name: "never", Metric: "total_packets", Operator: "<", Threshold: 0},
		},
	}
	a, err := NewAlerter(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}

	msgs := a.Evaluate(testSnapshot(t))
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 alerts, got %d: %v", len(msgs), msgs)
	}
	for i, want := range []string{"heavy", "chatty", "system quiet"} {
		if !strings.Contains(msgs[i], want) {
			t.Errorf("Alert %d should be %q, got %q", i, want, msgs[i])
		}
	}
}

func TestNotify_RendersHTML(t *testing.T) {
	n := &recordingNotifier{}
	a, err := NewAlerter(&config.AlerterConfig{CheckInterval: "1m"}, nil, n, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}

	a.Notify(nil)
	if n.count() != 0 {
		t.Fatalf("No notification expected without alerts")
	}

	a.Notify([]string{"### Alert: heavy\n\n- **Owner:** `Browser`\n"})
	if n.count() != 1 {
		t.Fatalf("Expected 1 notification, got %d", n.count())
	}
	if !strings.Contains(n.subjects[0], "1 Triggered") {
		t.Errorf("Unexpected subject %q", n.subjects[0])
	}
	if !strings.Contains(n.bodies[0], "<h3") || !strings.Contains(n.bodies[0], "<strong>Owner:</strong>") {
		t.Errorf("Body was not rendered to HTML: %s", n.bodies[0])
	}
}

func TestStartStop(t *testing.T) {
	n := &recordingNotifier{}
	cfg := &config.AlerterConfig{
		CheckInterval: "10ms",
		Rules:         []config.AlerterRule{{Name: "any", Metric: "total_packets", Operator: ">", Threshold: 0}},
	}
	a, err := NewAlerter(cfg, staticSource{snap: testSnapshot(t)}, n, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}

	a.Start()
	deadline := time.Now().Add(time.Second)
	for n.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.Stop()

	if n.count() == 0 {
		t.Errorf("Expected at least one notification from the running alerter")
	}
}

func TestNewAlerter_InvalidInterval(t *testing.T) {
	if _, err := NewAlerter(&config.AlerterConfig{CheckInterval: "often"}, nil, nil, nil); err == nil {
		t.Errorf("Expected error for an invalid interval")
	}
}
