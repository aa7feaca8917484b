// Package engine implements the per-attempt orchestration: the game engine
// that a worker invokes for each dequeued task. It calls the LLM
// collaborator, then the grader, then (on pass) the reward claim protocol,
// updates the session state machine, and sends the user-visible reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptchallenge/engine/internal/channel"
	"github.com/promptchallenge/engine/internal/config"
	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/grader"
	"github.com/promptchallenge/engine/internal/idgen"
	"github.com/promptchallenge/engine/internal/llmclient"
	"github.com/promptchallenge/engine/internal/metrics"
	"github.com/promptchallenge/engine/internal/reward"
	"github.com/promptchallenge/engine/internal/storage"
)

// ConfigSource is the narrow dependency the engine holds on configuration:
// just the current snapshot, not the reload machinery. config.Registry
// satisfies this; tests can supply a literal *config.Config wrapped in a
// trivial adapter instead of loading YAML from disk.
type ConfigSource interface {
	Get() *config.Config
}

// Engine drives one attempt end to end. It implements queue.TaskExecutor,
// so a queue.WorkerPool can drive it directly.
type Engine struct {
	store   storage.Storage
	claimer reward.Claimer
	llm     llmclient.Client
	grader  *grader.Grader
	channel channel.Channel
	cfg     ConfigSource
	metrics *metrics.Collectors
}

// New constructs an Engine wired to its collaborators. metrics may be nil,
// in which case observations are skipped.
func New(store storage.Storage, claimer reward.Claimer, llm llmclient.Client, g *grader.Grader, ch channel.Channel, cfg ConfigSource, m *metrics.Collectors) *Engine {
	return &Engine{store: store, claimer: claimer, llm: llm, grader: g, channel: ch, cfg: cfg, metrics: m}
}

// chatID maps a user_id onto the chat transport's addressing scheme. This
// engine only ever has one direct-message thread per user, so the chat ID
// is the user ID itself; a transport with richer addressing would carry
// its own chat_id on PendingTask instead.
func chatID(userID string) string { return userID }

// ProcessTask runs one attempt to completion. It never returns an error
// for outcomes that are part of normal operation (transient failure,
// grading failure, claim exhaustion); a non-nil error means something
// genuinely unexpected went wrong, which the caller (the worker) logs and
// moves past.
func (e *Engine) ProcessTask(ctx context.Context, task domain.PendingTask) error {
	log := slog.With("component", "engine", "task_id", task.TaskID, "user_id", task.UserID, "level_id", task.LevelID)
	// Admission stamps this attempt's USER_IN event with the task ID as its
	// trace ID; reusing it ties every LogEvent of the attempt together.
	traceID := task.TaskID

	sess, err := e.store.GetSession(ctx, task.UserID, task.LevelID)
	if err != nil {
		log.Error("load session failed", "error", err)
		e.logEvent(ctx, traceID, domain.EventError, task, 0, fmt.Sprintf("load session: %v", err))
		_ = e.store.DeleteTask(ctx, task.TaskID)
		return nil
	}
	if sess.State != domain.SessionInflight {
		// Idempotent recovery path: a replayed task whose session already
		// moved on (e.g. an admin cleared the queue) is simply dropped.
		log.Warn("session not inflight, dropping replayed task", "state", sess.State)
		e.logEvent(ctx, traceID, domain.EventError, task, sess.TurnIndex, fmt.Sprintf("session state %s, not INFLIGHT", sess.State))
		_ = e.store.DeleteTask(ctx, task.TaskID)
		return nil
	}

	level := e.cfg.Get().LevelByID(task.LevelID)
	if level == nil {
		log.Error("level no longer configured")
		e.toReady(ctx, sess)
		e.send(ctx, task.UserID, "This level is no longer available. Please try again later.")
		_ = e.store.DeleteTask(ctx, task.TaskID)
		return nil
	}

	activity := e.cfg.Get().Activity
	genCtx := ctx
	if activity.LLM.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, activity.LLM.Timeout)
		defer cancel()
	}

	e.logEvent(ctx, traceID, domain.EventLLMCall, task, sess.TurnIndex, task.UserPrompt)
	output, err := e.llm.Generate(genCtx, level.Prompt.SystemPrompt, task.UserPrompt, level.Limits.MaxOutputTokens)
	if err != nil {
		e.handleTransient(ctx, traceID, task, sess, "", domain.JudgeError, fmt.Sprintf("llm generate: %v", err))
		return nil
	}

	result, err := e.grader.Grade(ctx, level, level.Prompt.IntroMessage, task.UserPrompt, output)
	if err != nil {
		e.handleTransient(ctx, traceID, task, sess, output, domain.JudgeError, fmt.Sprintf("grade: %v", err))
		return nil
	}

	attempt := domain.Attempt{
		AttemptID:    idgen.New(),
		UserID:       task.UserID,
		LevelID:      task.LevelID,
		TurnIndex:    sess.TurnIndex,
		UserPrompt:   task.UserPrompt,
		LLMOutput:    output,
		KeywordPass:  result.KeywordPass,
		JudgeVerdict: result.JudgeVerdict,
		JudgeReason:  result.JudgeReason,
		FinalVerdict: result.Final,
		CreatedAt:    time.Now(),
	}
	if err := e.store.RecordAttempt(ctx, attempt); err != nil {
		log.Error("record attempt failed", "error", err)
	}
	e.logEvent(ctx, traceID, domain.EventGrade, task, sess.TurnIndex,
		fmt.Sprintf("keyword=%t judge=%s final=%s", result.KeywordPass, result.JudgeVerdict, result.Final))
	if e.metrics != nil && result.JudgeVerdict != domain.JudgeError {
		e.metrics.ObserveAttempt(string(result.Final))
	}

	if result.JudgeVerdict == domain.JudgeError {
		// Malformed judge output is transient by default; the turn is
		// not counted.
		e.handleTransient(ctx, traceID, task, sess, output, domain.JudgeError, result.JudgeReason)
		return nil
	}

	if result.Final == domain.FinalPass {
		e.handlePass(ctx, traceID, task, level, sess)
		return nil
	}
	e.handleFail(ctx, traceID, task, level, sess)
	return nil
}

// handleTransient handles transient system errors: the turn is not
// counted, the session returns to READY with no cooldown, and the user
// sees a retry message.
func (e *Engine) handleTransient(ctx context.Context, traceID string, task domain.PendingTask, sess domain.Session, output string, verdict domain.JudgeVerdict, reason string) {
	attempt := domain.Attempt{
		AttemptID:    idgen.New(),
		UserID:       task.UserID,
		LevelID:      task.LevelID,
		TurnIndex:    sess.TurnIndex,
		UserPrompt:   task.UserPrompt,
		LLMOutput:    output,
		JudgeVerdict: verdict,
		JudgeReason:  reason,
		FinalVerdict: domain.FinalFail,
		CreatedAt:    time.Now(),
	}
	_ = e.store.RecordAttempt(ctx, attempt)
	e.logEvent(ctx, traceID, domain.EventError, task, sess.TurnIndex, reason)

	e.toReady(ctx, sess)
	e.send(ctx, task.UserID, "System busy, please try again.")
	_ = e.store.DeleteTask(ctx, task.TaskID)
	e.logEvent(ctx, traceID, domain.EventSystemOut, task, sess.TurnIndex, "system busy, please try again")
}

// handlePass marks the level passed, claims the reward, and replies.
func (e *Engine) handlePass(ctx context.Context, traceID string, task domain.PendingTask, level *config.Level, sess domain.Session) {
	username := task.UserID

	// MarkLevelPassed runs first so the real turns-used count lands; the
	// claim protocol's own level_progress insert is ON CONFLICT DO NOTHING
	// and becomes a harmless no-op once this has run.
	if err := e.store.MarkLevelPassed(ctx, task.UserID, task.LevelID, sess.TurnIndex+1); err != nil {
		slog.Error("mark level passed failed", "error", err, "user_id", task.UserID, "level_id", task.LevelID)
	}

	var msg string
	result, err := e.claimer.ClaimReward(ctx, level.RewardPoolID, task.UserID, task.LevelID)
	switch {
	case errors.Is(err, reward.ErrAlreadyClaimed):
		msg = fmt.Sprintf("You already passed %s and claimed your reward.", level.Name)
		e.logEvent(ctx, traceID, domain.EventRewardClaim, task, sess.TurnIndex, "already claimed")
	case errors.Is(err, reward.ErrPoolExhausted):
		msg = fmt.Sprintf("You passed %s! Unfortunately all rewards for this level have been claimed.", level.Name)
		e.logEvent(ctx, traceID, domain.EventRewardClaim, task, sess.TurnIndex, "pool exhausted")
	case err != nil:
		slog.Error("claim reward failed", "error", err, "user_id", task.UserID, "level_id", task.LevelID)
		msg = fmt.Sprintf("You passed %s! (reward delivery is temporarily unavailable, an admin will follow up)", level.Name)
		e.logEvent(ctx, traceID, domain.EventError, task, sess.TurnIndex, fmt.Sprintf("claim reward: %v", err))
	default:
		pool := e.cfg.Get().PoolByID(level.RewardPoolID)
		tmpl := "Congratulations! You passed {level_name} and won: {reward_code}"
		if pool != nil && pool.SendMessageTemplate != "" {
			tmpl = pool.SendMessageTemplate
		}
		msg = channel.RenderTemplate(tmpl, level.LevelID, level.Name, username, result.Code)
		e.logEvent(ctx, traceID, domain.EventRewardClaim, task, sess.TurnIndex, fmt.Sprintf("item=%s kind=%s", result.ItemID, result.Kind))
		if e.metrics != nil {
			e.metrics.ObserveClaim(level.RewardPoolID)
		}
	}

	sess.State = domain.SessionPassed
	sess.InflightTaskID = ""
	sess.UpdatedAt = time.Now()
	if err := e.store.UpsertSession(ctx, sess); err != nil {
		slog.Error("upsert session failed", "error", err)
	}

	e.send(ctx, task.UserID, msg)
	_ = e.store.DeleteTask(ctx, task.TaskID)
	e.logEvent(ctx, traceID, domain.EventSystemOut, task, sess.TurnIndex, msg)
}

// handleFail counts the turn and moves the session to COOLDOWN or
// FAILED_OUT.
func (e *Engine) handleFail(ctx context.Context, traceID string, task domain.PendingTask, level *config.Level, sess domain.Session) {
	sess.TurnIndex++
	var msg string
	if sess.TurnIndex >= level.Limits.MaxTurns {
		sess.State = domain.SessionFailedOut
		msg = "You're out of attempts for this level."
	} else {
		sess.State = domain.SessionCooldown
		sess.CooldownUntil = time.Now().Add(time.Duration(level.Limits.CooldownSecondsAfterFail) * time.Second)
		remaining := level.Limits.MaxTurns - sess.TurnIndex
		msg = fmt.Sprintf("Not quite — %d attempt(s) remaining. Please wait %ds before trying again.",
			remaining, level.Limits.CooldownSecondsAfterFail)
	}
	sess.InflightTaskID = ""
	sess.UpdatedAt = time.Now()
	if err := e.store.UpsertSession(ctx, sess); err != nil {
		slog.Error("upsert session failed", "error", err)
	}

	e.send(ctx, task.UserID, msg)
	_ = e.store.DeleteTask(ctx, task.TaskID)
	e.logEvent(ctx, traceID, domain.EventSystemOut, task, sess.TurnIndex, msg)
}

// toReady resets a session to READY with no turn change, used by the
// transient-error path.
func (e *Engine) toReady(ctx context.Context, sess domain.Session) {
	sess.State = domain.SessionReady
	sess.InflightTaskID = ""
	sess.UpdatedAt = time.Now()
	if err := e.store.UpsertSession(ctx, sess); err != nil {
		slog.Error("upsert session failed", "error", err)
	}
}

func (e *Engine) send(ctx context.Context, userID, text string) {
	if err := e.channel.Send(ctx, chatID(userID), text); err != nil {
		slog.Error("channel send failed", "error", err, "user_id", userID)
	}
}

func (e *Engine) logEvent(ctx context.Context, traceID string, eventType domain.LogEventType, task domain.PendingTask, turnIndex int, content string) {
	evt := domain.LogEvent{
		EventID:   idgen.New(),
		TraceID:   traceID,
		EventType: eventType,
		UserID:    task.UserID,
		LevelID:   task.LevelID,
		TurnIndex: turnIndex,
		Content:   domain.TruncateContent(content),
		CreatedAt: time.Now(),
	}
	if err := e.store.AppendLogEvent(ctx, evt); err != nil {
		slog.Error("append log event failed", "error", err)
	}
}
