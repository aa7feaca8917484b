// Package domain holds the plain data types of the prompt-challenge engine:
// users, per-level sessions, attempts, reward inventory and claims, the
// durable queue row, and the audit log. Storage owns these rows; every
// other component only holds transient copies.
package domain

import "time"

// SessionState is the state of a (user, level) progress record.
type SessionState string

// Session states, per the engine's state machine.
const (
	SessionReady     SessionState = "READY"
	SessionInflight  SessionState = "INFLIGHT"
	SessionCooldown  SessionState = "COOLDOWN"
	SessionPassed    SessionState = "PASSED"
	SessionFailedOut SessionState = "FAILED_OUT"
)

// JudgeVerdict is the LLM judge's raw verdict for one attempt.
type JudgeVerdict string

// Judge verdicts.
const (
	JudgePass  JudgeVerdict = "PASS"
	JudgeFail  JudgeVerdict = "FAIL"
	JudgeError JudgeVerdict = "ERROR"
)

// FinalVerdict is the grader's combined pass/fail decision.
type FinalVerdict string

// Final verdicts.
const (
	FinalPass FinalVerdict = "PASS"
	FinalFail FinalVerdict = "FAIL"
)

// RewardKind distinguishes reward item types with different claim semantics.
type RewardKind string

// Reward kinds.
const (
	RewardAlipayCode RewardKind = "ALIPAY_CODE"
	RewardJDECard    RewardKind = "JD_ECARD"
)

// LogEventType classifies an audit LogEvent row.
type LogEventType string

// Log event types.
const (
	EventUserIn      LogEventType = "USER_IN"
	EventSystemOut   LogEventType = "SYSTEM_OUT"
	EventLLMCall     LogEventType = "LLM_CALL"
	EventGrade       LogEventType = "GRADE"
	EventRewardClaim LogEventType = "REWARD_CLAIM"
	EventError       LogEventType = "ERROR"
)

// maxLogContentChars is the truncation bound for LogEvent.Content.
const maxLogContentChars = 500

// User is a channel-scoped participant identity. Created on first contact,
// never destroyed.
type User struct {
	UserID      string
	DisplayName string
	Banned      bool
	BanReason   string
	CreatedAt   time.Time
}

// Session is the per (user, level) mutable progress record.
//
// Invariant: at most one Session per (UserID, LevelID); at most one Session
// per UserID has State == SessionInflight. Neither is enforced by this type:
// storage keys sessions by (UserID, LevelID), and the admission front's
// per-user lock and state check keep a second session from going INFLIGHT.
type Session struct {
	UserID         string
	LevelID        int
	State          SessionState
	TurnIndex      int
	CooldownUntil  time.Time
	InflightTaskID string // empty when not inflight
	UpdatedAt      time.Time
}

// LevelProgress records that a user has passed a level. Unique on
// (UserID, LevelID); once written, immutable.
type LevelProgress struct {
	UserID    string
	LevelID   int
	PassedAt  time.Time
	TurnsUsed int
}

// Attempt is an immutable record of one submit→judge cycle.
type Attempt struct {
	AttemptID    string
	UserID       string
	LevelID      int
	TurnIndex    int
	UserPrompt   string
	LLMOutput    string
	KeywordPass  bool
	JudgeVerdict JudgeVerdict
	JudgeReason  string
	FinalVerdict FinalVerdict
	CreatedAt    time.Time
}

// RewardItem is a single dispensable reward tuple from configuration.
//
// Invariant: 0 <= ClaimedCount <= MaxClaims.
type RewardItem struct {
	ItemID       string
	PoolID       string
	Kind         RewardKind
	Code         string
	MaxClaims    int
	ClaimedCount int
	Enabled      bool
}

// RewardClaim is the award a user received. Unique on (UserID, LevelID).
type RewardClaim struct {
	ClaimID     string
	UserID      string
	LevelID     int
	PoolID      string
	ItemID      string
	CodeSnap    string
	ClaimedAt   time.Time
}

// PendingTask is a durable queue row. Deleted when the worker finishes the
// task, whether the attempt succeeded or terminated transiently/terminally.
type PendingTask struct {
	TaskID     string
	UserID     string
	LevelID    int
	UserPrompt string
	EnqueuedAt time.Time
}

// LogEvent is an append-only audit row. Reward codes are never stored in
// Content — only ItemID references are.
type LogEvent struct {
	EventID   string
	TraceID   string
	EventType LogEventType
	UserID    string
	LevelID   int
	TurnIndex int
	Content   string
	CreatedAt time.Time
}

// TruncateContent clamps s to the LogEvent content bound.
func TruncateContent(s string) string {
	if len(s) <= maxLogContentChars {
		return s
	}
	return s[:maxLogContentChars]
}

// IsTerminal reports whether a session state accepts no further attempts
// without external intervention (admin reset).
func (s SessionState) IsTerminal() bool {
	return s == SessionPassed || s == SessionFailedOut
}
