// Package admission implements the admission front: the front door that
// validates an inbound chat message, enforces per-user serialization and
// the inflight lock, and enqueues a PendingTask. A per-user mutex map
// serializes admission without a single global lock.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/promptchallenge/engine/internal/channel"
	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/idgen"
	"github.com/promptchallenge/engine/internal/queue"
	"github.com/promptchallenge/engine/internal/storage"
)

// ConfigSource is the narrow dependency the admission front holds on
// configuration; config.Registry satisfies it.
type ConfigSource interface {
	Get() *config.Config
}

// Front is the Admission Front. One Front serves every user on the
// configured channel.
type Front struct {
	store storage.Storage
	q     *queue.PersistentQueue
	ch    channel.Channel
	cfg   ConfigSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Front.
func New(store storage.Storage, q *queue.PersistentQueue, ch channel.Channel, cfg ConfigSource) *Front {
	return &Front{store: store, q: q, ch: ch, cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the per-user mutex for userID, creating it on first use.
// The map is never cleaned up: workers never take this lock, so there is no
// deadlock hazard, only a small steady-state memory cost per distinct user.
func (f *Front) lockFor(userID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[userID] = l
	}
	return l
}

// OnMessage runs the full admission pipeline for one inbound message. It
// never returns an error for outcomes that are part of normal operation
// (bans, validation failures, state conflicts) — those are surfaced
// to the user via Channel.Send and this returns nil. A non-nil return means
// Storage itself failed unexpectedly.
func (f *Front) OnMessage(ctx context.Context, msg channel.InboundMessage) error {
	lock := f.lockFor(msg.UserID)
	lock.Lock()
	defer lock.Unlock()

	user, err := f.store.GetOrCreateUser(ctx, msg.UserID, msg.UserID)
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	if user.Banned {
		f.reply(ctx, msg.ChatID, "You have been banned from this activity.")
		return nil
	}

	activity := f.cfg.Get().Activity
	now := time.Unix(msg.Timestamp, 0)
	if msg.Timestamp == 0 {
		now = time.Now()
	}
	if !activity.Enabled || !activity.Window(now) {
		f.reply(ctx, msg.ChatID, "This activity is not currently available. Please check back later.")
		return nil
	}

	highest, err := f.store.HighestPassedLevel(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("highest passed level: %w", err)
	}
	currentLevelID := highest + 1
	level := f.cfg.Get().LevelByID(currentLevelID)
	if level == nil {
		f.reply(ctx, msg.ChatID, "You have completed every level. Thanks for playing!")
		return nil
	}
	if !level.Enabled {
		f.reply(ctx, msg.ChatID, "This level is temporarily disabled. Please check back later.")
		return nil
	}

	if verr := validateInput(msg.Text, level.Limits); verr != nil {
		f.reply(ctx, msg.ChatID, verr.Error())
		return nil
	}

	sess, err := f.store.GetSession(ctx, user.UserID, currentLevelID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get session: %w", err)
		}
		sess = domain.Session{UserID: user.UserID, LevelID: currentLevelID, State: domain.SessionReady}
	}

	switch sess.State {
	case domain.SessionInflight:
		f.reply(ctx, msg.ChatID, "Your previous submission is still processing. Please wait.")
		return nil
	case domain.SessionCooldown:
		if now.Before(sess.CooldownUntil) {
			wait := int(sess.CooldownUntil.Sub(now).Seconds())
			f.reply(ctx, msg.ChatID, fmt.Sprintf("Please wait %ds before trying again.", wait))
			return nil
		}
		// Cooldown expired: fall through and treat like READY.
	case domain.SessionPassed:
		f.reply(ctx, msg.ChatID, "You've already passed this level.")
		return nil
	case domain.SessionFailedOut:
		f.reply(ctx, msg.ChatID, "You have no attempts remaining on this level.")
		return nil
	}

	taskID := idgen.New()
	task := domain.PendingTask{
		TaskID:     taskID,
		UserID:     user.UserID,
		LevelID:    currentLevelID,
		UserPrompt: msg.Text,
		EnqueuedAt: now,
	}
	sess.State = domain.SessionInflight
	sess.InflightTaskID = taskID
	sess.UpdatedAt = now

	if err := f.store.EnqueueTask(ctx, task, sess, activity.GlobalLimits.QueueMaxLength); err != nil {
		if errors.Is(err, storage.ErrQueueFull) {
			f.reply(ctx, msg.ChatID, "The queue is full right now. Please try again shortly.")
			return nil
		}
		return fmt.Errorf("enqueue task: %w", err)
	}
	f.q.Push(task)

	ahead := f.q.Len() - 1
	if ahead < 0 {
		ahead = 0
	}
	if err := f.store.AppendLogEvent(ctx, domain.LogEvent{
		EventID:   idgen.New(),
		TraceID:   taskID,
		EventType: domain.EventUserIn,
		UserID:    user.UserID,
		LevelID:   currentLevelID,
		TurnIndex: sess.TurnIndex,
		Content:   domain.TruncateContent(msg.Text),
		CreatedAt: now,
	}); err != nil {
		slog.Error("append USER_IN log event failed", "error", err)
	}

	f.reply(ctx, msg.ChatID, fmt.Sprintf("Submission queued, approx %d ahead of you.", ahead))
	return nil
}

func (f *Front) reply(ctx context.Context, chatID, text string) {
	if err := f.ch.Send(ctx, chatID, text); err != nil {
		slog.Error("channel send failed", "error", err, "chat_id", chatID)
	}
}

// validateInput checks the inbound text: non-empty, length bound, and
// a character-class policy (line count, repeat-run limits).
func validateInput(text string, limits config.LimitsConfig) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if len(text) > limits.MaxInputChars {
		return fmt.Errorf("message too long: max %d characters", limits.MaxInputChars)
	}
	if limits.MaxLineCount > 0 {
		if lines := strings.Count(text, "\n") + 1; lines > limits.MaxLineCount {
			return fmt.Errorf("message has too many lines: max %d", limits.MaxLineCount)
		}
	}
	if limits.MaxRepeatRun > 0 {
		if run := longestRepeatRun(text); run > limits.MaxRepeatRun {
			return fmt.Errorf("message contains an excessive repeated character run")
		}
	}
	return nil
}

// longestRepeatRun returns the length of the longest run of one repeated
// rune in s.
func longestRepeatRun(s string) int {
	runes := []rune(s)
	best, cur := 0, 0
	var prev rune
	for i, r := range runes {
		if i > 0 && r == prev {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
		prev = r
	}
	return best
}
