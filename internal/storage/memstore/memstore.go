// Package memstore is an in-memory Storage implementation. It
// exists to keep the Storage contract demonstrably swappable — there is
// exactly one production backend (internal/storage/postgres) — and
// to give engine/admission/queue unit tests a fast, dependency-free
// Storage without a running Postgres instance. It is not used by
// cmd/promptchallenge; it trades the postgres backend's durability and
// cross-process safety for process-local correctness only.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

type sessionKey struct {
	userID  string
	levelID int
}

// Store is a mutex-guarded, map-backed Storage. All methods are safe for
// concurrent use; a single RWMutex serializes every mutation, which is
// sufficient for the process-local invariants this package targets (the
// compare-and-set claim protocol does not need row-level locking when
// every access already funnels through one mutex).
type Store struct {
	mu sync.RWMutex

	users         map[string]domain.User
	sessions      map[sessionKey]domain.Session
	levelProgress map[sessionKey]domain.LevelProgress
	attempts      []domain.Attempt
	rewardItems   map[string]domain.RewardItem
	rewardClaims  map[sessionKey]domain.RewardClaim
	pendingTasks  map[string]domain.PendingTask
	logEvents     []domain.LogEvent
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		sessions:      make(map[sessionKey]domain.Session),
		levelProgress: make(map[sessionKey]domain.LevelProgress),
		rewardItems:   make(map[string]domain.RewardItem),
		rewardClaims:  make(map[sessionKey]domain.RewardClaim),
		pendingTasks:  make(map[string]domain.PendingTask),
	}
}

func (s *Store) GetOrCreateUser(_ context.Context, userID, displayName string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, storage.NewValidationError("user_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	u := domain.User{UserID: userID, DisplayName: displayName, CreatedAt: time.Now()}
	s.users[userID] = u
	return u, nil
}

func (s *Store) SetBanned(_ context.Context, userID string, banned bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Banned = banned
	u.BanReason = reason
	s.users[userID] = u
	return nil
}

func (s *Store) GetSession(_ context.Context, userID string, levelID int) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{userID, levelID}]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) UpsertSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now()
	s.sessions[sessionKey{sess.UserID, sess.LevelID}] = sess
	return nil
}

func (s *Store) ResetSession(_ context.Context, userID string, levelID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{userID, levelID})
	return nil
}

func (s *Store) IsLevelPassed(_ context.Context, userID string, levelID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.levelProgress[sessionKey{userID, levelID}]
	return ok, nil
}

func (s *Store) MarkLevelPassed(_ context.Context, userID string, levelID, turnsUsed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{userID, levelID}
	if _, ok := s.levelProgress[key]; ok {
		return nil // idempotent
	}
	s.levelProgress[key] = domain.LevelProgress{UserID: userID, LevelID: levelID, PassedAt: time.Now(), TurnsUsed: turnsUsed}
	return nil
}

func (s *Store) HighestPassedLevel(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for k := range s.levelProgress {
		if k.userID == userID && k.levelID > max {
			max = k.levelID
		}
	}
	return max, nil
}

func (s *Store) RecordAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = time.Now()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *Store) AppendLogEvent(_ context.Context, e domain.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Content = domain.TruncateContent(e.Content)
	e.CreatedAt = time.Now()
	s.logEvents = append(s.logEvents, e)
	return nil
}

func (s *Store) ExportLogEvents(_ context.Context, day time.Time) ([]domain.LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var out []domain.LogEvent
	for _, e := range s.logEvents {
		if !e.CreatedAt.Before(start) && e.CreatedAt.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EnqueueTask(_ context.Context, t domain.PendingTask, sess domain.Session, maxLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxLen > 0 && len(s.pendingTasks) >= maxLen {
		return storage.ErrQueueFull
	}
	t.EnqueuedAt = time.Now()
	s.pendingTasks[t.TaskID] = t
	sess.UpdatedAt = time.Now()
	s.sessions[sessionKey{sess.UserID, sess.LevelID}] = sess
	return nil
}

func (s *Store) ListPendingTasksOrdered(_ context.Context) ([]domain.PendingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingTask, 0, len(s.pendingTasks))
	for _, t := range s.pendingTasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

func (s *Store) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingTasks, taskID)
	return nil
}

func (s *Store) ClearQueue(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pendingTasks)
	for _, t := range s.pendingTasks {
		key := sessionKey{t.UserID, t.LevelID}
		if sess, ok := s.sessions[key]; ok {
			sess.State = domain.SessionReady
			sess.InflightTaskID = ""
			sess.UpdatedAt = time.Now()
			s.sessions[key] = sess
		}
	}
	s.pendingTasks = make(map[string]domain.PendingTask)
	return n, nil
}

func (s *Store) QueueDepth(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pendingTasks), nil
}

const claimRetries = 5

// ClaimReward mirrors the postgres implementation's protocol exactly,
// substituting the mutex for row-level locking.
func (s *Store) ClaimReward(_ context.Context, poolID, userID string, levelID int) (storage.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{userID, levelID}
	if _, ok := s.rewardClaims[key]; ok {
		return storage.ClaimResult{}, storage.ErrAlreadyClaimed
	}

	claimed := false
	var chosen domain.RewardItem
	for attempt := 0; attempt < claimRetries && !claimed; attempt++ {
		candidates := make([]domain.RewardItem, 0)
		for _, it := range s.rewardItems {
			if it.PoolID == poolID && it.Enabled && it.ClaimedCount < it.MaxClaims {
				candidates = append(candidates, it)
			}
		}
		if len(candidates) == 0 {
			return storage.ClaimResult{}, storage.ErrPoolExhausted
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			iJD := candidates[i].Kind == domain.RewardJDECard
			jJD := candidates[j].Kind == domain.RewardJDECard
			if iJD != jJD {
				return iJD
			}
			return candidates[i].ItemID < candidates[j].ItemID
		})
		chosen = candidates[0]
		item := s.rewardItems[chosen.ItemID]
		if item.ClaimedCount >= item.MaxClaims {
			continue // lost a race in this single-threaded simulation; retry
		}
		item.ClaimedCount++
		s.rewardItems[chosen.ItemID] = item
		claimed = true
	}
	if !claimed {
		return storage.ClaimResult{}, storage.ErrPoolExhausted
	}

	s.rewardClaims[key] = domain.RewardClaim{
		ClaimID:   uuid.NewString(),
		UserID:    userID,
		LevelID:   levelID,
		PoolID:    poolID,
		ItemID:    chosen.ItemID,
		CodeSnap:  chosen.Code,
		ClaimedAt: time.Now(),
	}
	if _, ok := s.levelProgress[key]; !ok {
		s.levelProgress[key] = domain.LevelProgress{UserID: userID, LevelID: levelID, PassedAt: time.Now()}
	}

	return storage.ClaimResult{ItemID: chosen.ItemID, Code: chosen.Code, Kind: chosen.Kind}, nil
}

func (s *Store) ReconcileRewardItems(_ context.Context, specs []storage.RewardItemSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		maxClaims := spec.MaxClaims
		if maxClaims <= 0 {
			maxClaims = 1 << 30
		}
		existing, ok := s.rewardItems[spec.ItemID]
		claimedCount := 0
		if ok {
			claimedCount = existing.ClaimedCount
		}
		s.rewardItems[spec.ItemID] = domain.RewardItem{
			ItemID: spec.ItemID, PoolID: spec.PoolID, Kind: spec.Kind, Code: spec.Code,
			MaxClaims: maxClaims, ClaimedCount: claimedCount, Enabled: spec.Enabled,
		}
		seen[spec.ItemID] = true
	}
	for id, item := range s.rewardItems {
		if !seen[id] {
			item.Enabled = false
			s.rewardItems[id] = item
		}
	}
	return nil
}

func (s *Store) TodayClaimCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := time.Now()
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	n := 0
	for _, c := range s.rewardClaims {
		if !c.ClaimedAt.Before(start) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
func (s *Store) Close()                       {}

var _ storage.Storage = (*Store)(nil)
