package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptchallenge/engine/internal/domain"
	"github.com/promptchallenge/engine/internal/storage"
)

func seedPool(t *testing.T, s *Store, poolID string, items ...storage.RewardItemSpec) {
	t.Helper()
	for i := range items {
		items[i].PoolID = poolID
		items[i].Enabled = true
	}
	require.NoError(t, s.ReconcileRewardItems(context.Background(), items))
}

func TestClaimRewardSuccessThenAlreadyClaimed(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedPool(t, s, "pool-1",
		storage.RewardItemSpec{ItemID: "item-1", Kind: domain.RewardAlipayCode, Code: "ALI", MaxClaims: 3})

	result, err := s.ClaimReward(ctx, "pool-1", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "ALI", result.Code)

	_, err = s.ClaimReward(ctx, "pool-1", "user-1", 1)
	assert.ErrorIs(t, err, storage.ErrAlreadyClaimed)

	// The claim protocol also wrote level progress.
	passed, err := s.IsLevelPassed(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestClaimRewardJDECardFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedPool(t, s, "pool-1",
		storage.RewardItemSpec{ItemID: "a-alipay", Kind: domain.RewardAlipayCode, Code: "ALI", MaxClaims: 10},
		storage.RewardItemSpec{ItemID: "z-jd", Kind: domain.RewardJDECard, Code: "JD", MaxClaims: 1})

	result, err := s.ClaimReward(ctx, "pool-1", "user-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "z-jd", result.ItemID)

	result, err = s.ClaimReward(ctx, "pool-1", "user-2", 1)
	require.NoError(t, err)
	assert.Equal(t, "a-alipay", result.ItemID)
}

func TestClaimRewardConcurrentNoOverclaim(t *testing.T) {
	s := New()
	ctx := context.Background()

	const items = 10
	const users = 20

	specs := make([]storage.RewardItemSpec, 0, items)
	for i := 0; i < items; i++ {
		specs = append(specs, storage.RewardItemSpec{
			ItemID: fmt.Sprintf("jd-%02d", i), Kind: domain.RewardJDECard,
			Code: fmt.Sprintf("CODE-%02d", i), MaxClaims: 1,
		})
	}
	seedPool(t, s, "pool-1", specs...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := make(map[string]int)
	exhausted := 0
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			result, err := s.ClaimReward(ctx, "pool-1", userID, 5)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, storage.ErrPoolExhausted)
				exhausted++
				return
			}
			codes[result.Code]++
		}(fmt.Sprintf("user-%02d", i))
	}
	wg.Wait()

	assert.Len(t, codes, items)
	assert.Equal(t, users-items, exhausted)
	for code, n := range codes {
		assert.Equal(t, 1, n, "code %s dispensed more than once", code)
	}
}

func TestReconcilePreservesClaimedCountAndDisables(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedPool(t, s, "pool-1",
		storage.RewardItemSpec{ItemID: "item-1", Kind: domain.RewardAlipayCode, Code: "A", MaxClaims: 2},
		storage.RewardItemSpec{ItemID: "item-2", Kind: domain.RewardAlipayCode, Code: "B", MaxClaims: 2})

	_, err := s.ClaimReward(ctx, "pool-1", "user-1", 1)
	require.NoError(t, err) // item-1

	// Reload without item-1: it must be disabled, and item-2 becomes the
	// only candidate.
	seedPool(t, s, "pool-1",
		storage.RewardItemSpec{ItemID: "item-2", Kind: domain.RewardAlipayCode, Code: "B", MaxClaims: 2})

	result, err := s.ClaimReward(ctx, "pool-1", "user-2", 1)
	require.NoError(t, err)
	assert.Equal(t, "item-2", result.ItemID)
	assert.False(t, s.rewardItems["item-1"].Enabled)
	assert.Equal(t, 1, s.rewardItems["item-1"].ClaimedCount)
}

func TestUnlimitedAlipayItems(t *testing.T) {
	s := New()
	ctx := context.Background()
	// MaxClaims 0 is the "unlimited" sentinel from configuration.
	seedPool(t, s, "pool-1",
		storage.RewardItemSpec{ItemID: "item-1", Kind: domain.RewardAlipayCode, Code: "A", MaxClaims: 0})

	for i := 0; i < 50; i++ {
		_, err := s.ClaimReward(ctx, "pool-1", fmt.Sprintf("user-%02d", i), 1)
		require.NoError(t, err)
	}
}

func TestEnqueueTaskRespectsBound(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := func(i int) domain.PendingTask {
		return domain.PendingTask{TaskID: fmt.Sprintf("task-%d", i), UserID: fmt.Sprintf("u%d", i), LevelID: 1}
	}
	sess := func(i int) domain.Session {
		return domain.Session{UserID: fmt.Sprintf("u%d", i), LevelID: 1, State: domain.SessionInflight}
	}

	require.NoError(t, s.EnqueueTask(ctx, task(0), sess(0), 2))
	require.NoError(t, s.EnqueueTask(ctx, task(1), sess(1), 2))
	assert.ErrorIs(t, s.EnqueueTask(ctx, task(2), sess(2), 2), storage.ErrQueueFull)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestClearQueueReleasesSessions(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := domain.PendingTask{TaskID: "task-1", UserID: "user-1", LevelID: 2}
	sess := domain.Session{UserID: "user-1", LevelID: 2, State: domain.SessionInflight, InflightTaskID: "task-1"}
	require.NoError(t, s.EnqueueTask(ctx, task, sess, 0))

	n, err := s.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSession(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, got.State)
	assert.Empty(t, got.InflightTaskID)
}

func TestMarkLevelPassedIdempotentKeepsFirstTurnsUsed(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.MarkLevelPassed(ctx, "user-1", 1, 2))
	require.NoError(t, s.MarkLevelPassed(ctx, "user-1", 1, 7))

	highest, err := s.HighestPassedLevel(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, highest)
	assert.Equal(t, 2, s.levelProgress[sessionKey{"user-1", 1}].TurnsUsed)
}

func TestAppendLogEventTruncates(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendLogEvent(ctx, domain.LogEvent{
		EventID: "e1", TraceID: "t1", EventType: domain.EventUserIn,
		Content: strings.Repeat("y", 1000),
	}))

	events, err := s.ExportLogEvents(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.LessOrEqual(t, len(events[0].Content), 500)
}
