package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosspost/domain/model"
)

func TestGovernorAllowsFirstPost(t *testing.T) {
	posts := newFakePostRepo()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gov := NewRepostGovernor(posts, clock, 24*time.Hour)

	require.NoError(t, gov.Check(context.Background(), "u1", "TIKTOK", "v1"))
}

func TestGovernorDeniesInsideWindow(t *testing.T) {
	posts := newFakePostRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	posts.lastPosted[tripleKey("u1", model.PlatformTikTok, "v1")] = now.Add(-2 * time.Hour)
	gov := NewRepostGovernor(posts, clock, 24*time.Hour)

	err := gov.Check(context.Background(), "u1", "TIKTOK", "v1")
	require.Error(t, err)
	require.Equal(t, model.KindRepostCooldown, model.KindOf(err))

	var app *model.AppError
	require.True(t, errors.As(err, &app))
	require.InDelta(t, 22.0, app.HoursRemaining, 0.001)
}

func TestGovernorAllowsAfterWindow(t *testing.T) {
	posts := newFakePostRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	posts.lastPosted[tripleKey("u1", model.PlatformTikTok, "v1")] = now.Add(-25 * time.Hour)
	gov := NewRepostGovernor(posts, clock, 24*time.Hour)

	require.NoError(t, gov.Check(context.Background(), "u1", "TIKTOK", "v1"))
}

func TestGovernorScopesPerPlatformAndVideo(t *testing.T) {
	posts := newFakePostRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	posts.lastPosted[tripleKey("u1", model.PlatformTikTok, "v1")] = now.Add(-time.Hour)
	gov := NewRepostGovernor(posts, clock, 24*time.Hour)
	ctx := context.Background()

	// Same video elsewhere and another video on the same platform both pass.
	require.NoError(t, gov.Check(ctx, "u1", "YOUTUBE", "v1"))
	require.NoError(t, gov.Check(ctx, "u1", "TIKTOK", "v2"))
	require.NoError(t, gov.Check(ctx, "u2", "TIKTOK", "v1"))
	require.Error(t, gov.Check(ctx, "u1", "TIKTOK", "v1"))
}

func TestGovernorNormalizesPlatformName(t *testing.T) {
	posts := newFakePostRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	posts.lastPosted[tripleKey("u1", model.PlatformTikTok, "v1")] = now.Add(-time.Hour)
	gov := NewRepostGovernor(posts, clock, 24*time.Hour)

	err := gov.Check(context.Background(), "u1", "tiktok", "v1")
	require.Equal(t, model.KindRepostCooldown, model.KindOf(err))

	err = gov.Check(context.Background(), "u1", "myspace", "v1")
	require.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestGovernorDefaultWindow(t *testing.T) {
	posts := newFakePostRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(now)
	posts.lastPosted[tripleKey("u1", model.PlatformTikTok, "v1")] = now.Add(-23 * time.Hour)

	// Zero cooldown falls back to 24h.
	gov := NewRepostGovernor(posts, clock, 0)
	err := gov.Check(context.Background(), "u1", "TIKTOK", "v1")
	require.Equal(t, model.KindRepostCooldown, model.KindOf(err))
}

func TestSelectVariantRoundRobin(t *testing.T) {
	gov := NewRepostGovernor(newFakePostRepo(), newFakeClock(time.Now()), 24*time.Hour)
	variants := []string{"a", "b", "c"}

	tests := []struct {
		cursor int
		want   string
	}{
		{0, "a"},
		{1, "b"},
		{2, "c"},
		{3, "a"},
		{7, "b"},
	}
	for _, tc := range tests {
		got, ok := gov.SelectVariant(variants, tc.cursor)
		require.True(t, ok)
		require.Equal(t, tc.want, got)
	}

	_, ok := gov.SelectVariant(nil, 2)
	require.False(t, ok)
}
