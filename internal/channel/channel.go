// Package channel defines the outbound chat transport contract. The
// concrete transport is deliberately pluggable, so this package holds only
// the narrow interface the engine consumes plus an in-process double used
// by tests and local runs. A real transport (Slack, Telegram, a chat bot
// SDK) is a one-file adapter implementing Channel.
package channel

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Channel is the outbound half of the chat transport. Send delivers text to
// the chat identified by chatID; the concrete transport decides how a
// chatID maps onto its own addressing scheme.
type Channel interface {
	Send(ctx context.Context, chatID, text string) error
}

// InboundMessage is what the concrete transport hands to the Admission
// Front for OnMessage.
type InboundMessage struct {
	UserID    string
	ChatID    string
	MessageID string
	Text      string
	Timestamp int64
}

// Recorder is an in-process Channel double: it appends every send to an
// in-memory log instead of talking to a real transport. Used by engine and
// admission tests, and as the default channel for a local dry-run without
// any chat provider configured.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// Sent is one recorded outbound message.
type Sent struct {
	ChatID string
	Text   string
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send implements Channel by appending to the in-memory log.
func (r *Recorder) Send(_ context.Context, chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{ChatID: chatID, Text: text})
	return nil
}

// All returns a snapshot of every message sent so far, in order.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recently sent message to chatID, or the zero value
// and false if none was sent.
func (r *Recorder) Last(chatID string) (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].ChatID == chatID {
			return r.sent[i], true
		}
	}
	return Sent{}, false
}

// RenderTemplate substitutes {reward_code}, {level_id}, {level_name} and
// {username} placeholders in a reward pool's send_message_template.
func RenderTemplate(tmpl string, levelID int, levelName, username, rewardCode string) string {
	replacer := strings.NewReplacer(
		"{reward_code}", rewardCode,
		"{level_id}", strconv.Itoa(levelID),
		"{level_name}", levelName,
		"{username}", username,
	)
	return replacer.Replace(tmpl)
}
