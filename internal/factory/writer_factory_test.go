package factory

import (
	"strings"
	"testing"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"
)

type stubWriter struct {
	interval time.Duration
	closed   bool
}

func (w *stubWriter) Name() string                    { return "stub" }
func (w *stubWriter) Write(interface{}, string) error { return nil }
func (w *stubWriter) GetInterval() time.Duration      { return w.interval }
func (w *stubWriter) Close() error                    { w.closed = true; return nil }

var created []*stubWriter

func init() {
	RegisterWriter("stub", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		w := &stubWriter{interval: interval}
		created = append(created, w)
		return w, nil
	})
}

func TestCreate(t *testing.T) {
	created = nil
	cfg := config.Default()
	cfg.Export.Writers = []config.WriterDef{
		{Type: "stub", Enabled: true, Interval: "5s"},
		{Type: "stub", Enabled: false, Interval: "5s"},
	}

	writers, err := Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(writers) != 1 {
		t.Fatalf("Expected 1 enabled writer, got %d", len(writers))
	}
	if writers[0].GetInterval() != 5*time.Second {
		t.Errorf("Expected 5s interval, got %v", writers[0].GetInterval())
	}
}

func TestCreate_UnknownTypeClosesCreatedWriters(t *testing.T) {
	created = nil
	cfg := config.Default()
	cfg.Export.Writers = []config.WriterDef{
		{Type: "stub", Enabled: true, Interval: "1s"},
		{Type: "carrier-pigeon", Enabled: true, Interval: "1s"},
	}

	_, err := Create(cfg)
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("Expected unknown type error, got %v", err)
	}
	if len(created) != 1 || !created[0].closed {
		t.Errorf("Writers created before the failure must be closed")
	}
}

func TestRegisterWriter_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic on duplicate registration")
		}
	}()
	RegisterWriter("stub", nil)
}
