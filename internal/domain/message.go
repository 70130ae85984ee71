package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sender identifies who authored a conversation message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
	// SenderUserStory tags a story imported from the issue tracker.
	SenderUserStory Sender = "userStory"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAssistant, SenderSystem, SenderUserStory:
		return true
	}
	return false
}

// ErrInvalidMessage is returned when a message violates the data contract.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a single conversation entry. Text is kept raw (markdown with
// Given/When/Then keywords) so any renderer can reprocess it.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// UnmarshalJSON rejects messages whose text is absent or not a string.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sender Sender           `json:"sender"`
		Text   *json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Text == nil || string(*raw.Text) == "null" {
		return fmt.Errorf("%w: missing text", ErrInvalidMessage)
	}
	var text string
	if err := json.Unmarshal(*raw.Text, &text); err != nil {
		return fmt.Errorf("%w: text must be a string", ErrInvalidMessage)
	}
	if !raw.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, raw.Sender)
	}
	m.Sender = raw.Sender
	m.Text = text
	return nil
}
