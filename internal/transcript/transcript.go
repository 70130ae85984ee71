// Package transcript writes the refinement conversation to per-session
// NDJSON files.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/ashureev/story-refiner/internal/session"
)

// unassigned names the file used before the backend hands out a session id.
const unassigned = "unassigned"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Event is one conversation message as written to disk.
type Event struct {
	Timestamp time.Time     `json:"ts"`
	SessionID string        `json:"session_id,omitempty"`
	Stage     domain.Stage  `json:"stage"`
	Seq       int           `json:"seq"`
	Sender    domain.Sender `json:"sender"`
	Text      string        `json:"text"`
}

// Writer follows a session store and appends every new message to
// <dir>/<session id>.ndjson.
type Writer struct {
	dir    string
	store  *session.Store
	logger *slog.Logger
	now    func() time.Time

	seen int
	last domain.Message
}

// New creates a transcript writer rooted at dir.
func New(dir string, store *session.Store, logger *slog.Logger) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, store: store, logger: logger, now: time.Now}, nil
}

// Run writes messages until ctx is cancelled. Messages present when Run
// starts, such as a restored session, are not written again.
func (w *Writer) Run(ctx context.Context) {
	updates, cancel := w.store.Subscribe()
	defer cancel()

	w.mark(w.store.Snapshot().Messages)
	for {
		select {
		case <-ctx.Done():
			w.flush(w.store.Snapshot())
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			w.flush(snap)
		}
	}
}

func (w *Writer) mark(msgs []domain.Message) {
	w.seen = len(msgs)
	if w.seen > 0 {
		w.last = msgs[w.seen-1]
	}
}

// flush writes the messages of snap that have not been written yet. A
// shorter or diverging log means the session was reset.
func (w *Writer) flush(snap domain.Snapshot) {
	msgs := snap.Messages
	if len(msgs) < w.seen || (w.seen > 0 && msgs[w.seen-1] != w.last) {
		w.seen = 0
	}
	if len(msgs) == w.seen {
		return
	}

	events := make([]Event, 0, len(msgs)-w.seen)
	now := w.now().UTC()
	for i := w.seen; i < len(msgs); i++ {
		events = append(events, Event{
			Timestamp: now,
			SessionID: snap.SessionID,
			Stage:     snap.Stage,
			Seq:       i,
			Sender:    msgs[i].Sender,
			Text:      msgs[i].Text,
		})
	}
	if err := w.append(snap.SessionID, events); err != nil {
		w.logger.Error("Failed to write transcript", "session_id", snap.SessionID, "error", err)
		return
	}
	w.mark(msgs)
}

func (w *Writer) append(sessionID string, events []Event) error {
	f, err := os.OpenFile(w.Path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode transcript event: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	return nil
}

// Path returns the transcript file for sessionID.
func (w *Writer) Path(sessionID string) string {
	name := unsafeName.ReplaceAllString(sessionID, "_")
	if name == "" {
		name = unassigned
	}
	return filepath.Join(w.dir, name+".ndjson")
}
