package transcript

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/session"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("failed to unmarshal log line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func runWriter(t *testing.T, w *Writer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	// Let Run subscribe and record the existing log before the test mutates.
	time.Sleep(50 * time.Millisecond)
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("transcript writer did not stop")
		}
	}
}

func TestWriterAppendsMessagesPerSession(t *testing.T) {
	t.Parallel()

	store := session.New()
	w, err := New(t.TempDir(), store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWriter(t, w)

	store.SetSessionID("S1")
	store.AppendMessage(domain.Message{Sender: domain.SenderUser, Text: "As a user..."})
	store.AppendMessage(domain.Message{Sender: domain.SenderAssistant, Text: "**Refined Story:**\nGiven a user"})
	stop()

	events := readEvents(t, w.Path("S1"))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Sender != domain.SenderUser || events[1].Seq != 1 || events[1].SessionID != "S1" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestWriterSkipsRestoredMessages(t *testing.T) {
	t.Parallel()

	store := session.New()
	restored := domain.NewSnapshot()
	restored.SessionID = "S2"
	restored.Messages = []domain.Message{{Sender: domain.SenderUser, Text: "old"}}
	store.Restore(restored)

	w, err := New(t.TempDir(), store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runWriter(t, w)

	store.AppendMessage(domain.Message{Sender: domain.SenderSystem, Text: "new"})
	stop()

	events := readEvents(t, w.Path("S2"))
	if len(events) != 1 || events[0].Text != "new" || events[0].Seq != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestWriterRestartsAfterReset(t *testing.T) {
	t.Parallel()

	store := session.New()
	w, err := New(t.TempDir(), store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := domain.NewSnapshot()
	snap.Messages = []domain.Message{{Sender: domain.SenderUser, Text: "first"}, {Sender: domain.SenderUser, Text: "second"}}
	w.flush(snap)

	snap.Messages = []domain.Message{{Sender: domain.SenderUser, Text: "after reset"}}
	w.flush(snap)

	events := readEvents(t, w.Path(""))
	if len(events) != 3 || events[2].Text != "after reset" || events[2].Seq != 0 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestPathSanitizesSessionID(t *testing.T) {
	t.Parallel()

	w := &Writer{dir: "/tmp/t"}
	if got := w.Path("../etc/passwd"); filepath.Dir(got) != "/tmp/t" {
		t.Errorf("unsafe path: %s", got)
	}
	if got := w.Path(""); !strings.HasSuffix(got, "unassigned.ndjson") {
		t.Errorf("empty session id path = %s", got)
	}
}
