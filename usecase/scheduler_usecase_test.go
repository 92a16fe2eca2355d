package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

type schedulerHarness struct {
	posts     *fakePostRepo
	schedules *fakeScheduleRepo
	queue     *fakeQueue
	clock     *fakeClock
	uc        ISchedulerUsecase
}

// newSchedulerHarness builds a scheduler with a one-minute tick, so the due
// horizon reaches thirty seconds past the fake clock.
func newSchedulerHarness(t *testing.T) *schedulerHarness {
	t.Helper()
	posts := newFakePostRepo()
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	h := &schedulerHarness{
		posts:     posts,
		schedules: newFakeScheduleRepo(posts),
		queue:     newFakeQueue(),
		clock:     clock,
	}
	governor := NewRepostGovernor(posts, clock, 24*time.Hour)
	h.uc = NewSchedulerUsecase(h.schedules, h.queue, governor, clock, &seqIDs{}, "post-jobs", time.Minute, 10)
	return h
}

func (h *schedulerHarness) addOneShot(t *testing.T, id string, at time.Time, targets ...model.PlatformTarget) {
	t.Helper()
	require.NoError(t, h.schedules.Create(context.Background(), &model.Schedule{
		ID:          id,
		UserID:      "u1",
		VideoID:     "v1",
		Targets:     targets,
		ScheduledAt: at,
		State:       model.SchedulePending,
		CreatedAt:   h.clock.NowUTC(),
		UpdatedAt:   h.clock.NowUTC(),
	}))
}

func (h *schedulerHarness) addRecurring(t *testing.T, id string, next time.Time, variants []string, targets ...model.PlatformTarget) {
	t.Helper()
	require.NoError(t, h.schedules.CreateRecurring(context.Background(), &model.RecurringSchedule{
		ID:              id,
		UserID:          "u1",
		VideoID:         "v1",
		Targets:         targets,
		Cadence:         model.Cadence{Kind: model.CadenceDaily, Hour: 10, Minute: 30},
		CaptionVariants: variants,
		State:           model.RecurringActive,
		NextOccurrence:  next,
		CreatedAt:       h.clock.NowUTC(),
		UpdatedAt:       h.clock.NowUTC(),
	}))
}

func TestTickFiresDueOneShot(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	now := h.clock.NowUTC()
	h.addOneShot(t, "s1", now.Add(10*time.Second),
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "tiktok take"},
		model.PlatformTarget{Platform: model.PlatformYouTube, Caption: "youtube take"},
	)

	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	s, err := h.schedules.Get(ctx, "s1", "u1")
	require.NoError(t, err)
	require.Equal(t, model.ScheduleFired, s.State)
	require.NotEmpty(t, s.MultiPostID)
	require.NotNil(t, s.FiredAt)
	require.Equal(t, now, *s.FiredAt)

	posts, err := h.posts.List(ctx, repository.PostFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	for _, p := range posts {
		require.Equal(t, s.MultiPostID, p.MultiPostID)
		require.Equal(t, model.PostPending, p.Status)
	}

	require.Equal(t, 2, h.queue.readyLen())
	var job model.PostJob
	require.NoError(t, json.Unmarshal(h.queue.ready[0].payload, &job))
	require.Equal(t, posts[0].ID, job.PostID)
	require.Equal(t, "v1", job.VideoID)
	require.Equal(t, now, job.EnqueuedAt)

	// The schedule is no longer pending, so a second scan is a no-op.
	fired, err = h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, fired)
}

func TestTickLookaheadIsHalfATick(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	h.addOneShot(t, "s1", h.clock.NowUTC().Add(31*time.Second),
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "soon"})

	// 31s out is just past the +30s horizon of a one-minute tick.
	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, fired)
	require.Zero(t, h.queue.readyLen())

	h.clock.Advance(2 * time.Second)
	fired, err = h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	require.Equal(t, 1, h.queue.readyLen())
}

func TestTickFiresRecurringWithVariant(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	now := h.clock.NowUTC()
	h.addRecurring(t, "r1", now.Add(-time.Second), []string{"morning push", "evening push"},
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "base"})

	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	posts, err := h.posts.List(ctx, repository.PostFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "morning push", posts[0].Caption)

	rs, err := h.schedules.GetRecurring(ctx, "r1", "u1")
	require.NoError(t, err)
	require.Equal(t, 1, rs.VariantCursor)
	require.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), rs.NextOccurrence)
	require.NotNil(t, rs.LastFiredAt)
	require.Equal(t, now, *rs.LastFiredAt)
	require.Equal(t, 1, h.queue.readyLen())
}

func TestTickVariantRotationWraps(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	h.addRecurring(t, "r1", h.clock.NowUTC(), []string{"morning push", "evening push"},
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "base"})

	for i := 0; i < 3; i++ {
		fired, err := h.uc.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, fired)
		rs, err := h.schedules.GetRecurring(ctx, "r1", "u1")
		require.NoError(t, err)
		// Jump just past the next daily occurrence so it is due again.
		h.clock.Advance(rs.NextOccurrence.Sub(h.clock.NowUTC()) + time.Minute)
	}

	posts, err := h.posts.List(ctx, repository.PostFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	require.Equal(t, "morning push", posts[0].Caption)
	require.Equal(t, "evening push", posts[1].Caption)
	require.Equal(t, "morning push", posts[2].Caption)
}

func TestTickCollapsesMissedOccurrences(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	now := h.clock.NowUTC()
	// Three days of downtime: the next occurrence is badly stale.
	h.addRecurring(t, "r1", now.Add(-72*time.Hour), nil,
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "base"})

	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	// One firing for the whole gap, and the next slot is strictly in the
	// future rather than the next of the missed ones.
	posts, err := h.posts.List(ctx, repository.PostFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "base", posts[0].Caption)

	rs, err := h.schedules.GetRecurring(ctx, "r1", "u1")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), rs.NextOccurrence)

	fired, err = h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, fired)
}

func TestTickSkipsPausedRecurring(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	h.addRecurring(t, "r1", h.clock.NowUTC(), nil,
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "base"})
	require.NoError(t, h.schedules.PauseRecurring(ctx, "r1", "u1"))

	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, fired)
	require.Zero(t, h.queue.readyLen())
}

func TestTickBrokerFailureCreatesNothing(t *testing.T) {
	h := newSchedulerHarness(t)
	ctx := context.Background()
	h.addOneShot(t, "s1", h.clock.NowUTC(),
		model.PlatformTarget{Platform: model.PlatformTikTok, Caption: "take"})
	h.queue.enqueueErr = model.Errf(model.KindStorageUnavailable, "broker down")

	// The failure is contained: Tick reports zero fired and no error, and no
	// half-materialized posts are left behind.
	fired, err := h.uc.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, fired)

	posts, err := h.posts.List(ctx, repository.PostFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, posts)
}
