package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosspost/domain/model"
)

var testTwitterApp = model.OAuth1Credential{
	APIKey:            "key",
	APISecret:         "secret",
	AccessToken:       "app-token",
	AccessTokenSecret: "app-token-secret",
}

func newTokenHarness(t *testing.T) (*fakeConnectionRepo, *fakeAdapter, *fakeClock, ITokenUsecase) {
	t.Helper()
	conns := newFakeConnectionRepo()
	adapter := newFakeAdapter(model.PlatformYouTube)
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	adapter.refreshBundle = &model.TokenBundle{
		AccessToken: "refreshed-token",
		ExpiresAt:   clock.NowUTC().Add(time.Hour),
	}
	tokens := NewTokenUsecase(conns, newFakeRegistry(adapter), clock, time.Minute, time.Hour, testTwitterApp)
	return conns, adapter, clock, tokens
}

func TestAccessTokenReturnsFreshTokenWithoutRefresh(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(time.Hour))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	got, err := tokens.AccessToken(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "access-token", got)
	require.Zero(t, adapter.refreshCount())
}

func TestAccessTokenRefreshesInsideSafetyWindow(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	// Expires in 30s, safety window is a minute.
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(30*time.Second))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	got, err := tokens.AccessToken(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "refreshed-token", got)
	require.Equal(t, 1, adapter.refreshCount())

	// The bundle had no refresh token; the stored one must survive.
	stored, err := conns.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "refresh-token", stored.RefreshToken)
	require.Equal(t, "refreshed-token", stored.AccessToken)
}

func TestAccessTokenSingleFlight(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	adapter.refreshDelay = 20 * time.Millisecond
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(-time.Minute))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tokens.AccessToken(context.Background(), "c1")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, "refreshed-token", results[0])
	require.Equal(t, "refreshed-token", results[1])
	// The loser of the race reused the winner's token.
	require.Equal(t, 1, adapter.refreshCount())
}

func TestRefreshRejectedGrantDeactivatesConnection(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	adapter.refreshErr = model.NewError(model.KindInvalidGrant, "invalid_grant")
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(-time.Minute))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	_, err := tokens.AccessToken(context.Background(), "c1")
	require.Equal(t, model.KindAuthRevoked, model.KindOf(err))

	stored, err := conns.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, stored.Active)
}

func TestRefreshWithoutCredentialRequiresReconnect(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(-time.Minute))
	conn.RefreshToken = ""
	require.NoError(t, conns.Upsert(context.Background(), conn))

	_, err := tokens.AccessToken(context.Background(), "c1")
	require.Equal(t, model.KindAuthRevoked, model.KindOf(err))
	require.Zero(t, adapter.refreshCount())

	stored, err := conns.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, stored.Active)
}

func TestRefreshTransientFailureKeepsConnectionActive(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	adapter.refreshErr = model.NewError(model.KindPlatformTransient, "token endpoint 503")
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(-time.Minute))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	_, err := tokens.AccessToken(context.Background(), "c1")
	require.Equal(t, model.KindPlatformTransient, model.KindOf(err))

	stored, err := conns.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, stored.Active)
}

func TestForceRefreshIgnoresStoredExpiry(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	conn := activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(time.Hour))
	require.NoError(t, conns.Upsert(context.Background(), conn))

	got, err := tokens.ForceRefresh(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "refreshed-token", got)
	require.Equal(t, 1, adapter.refreshCount())
}

func TestRefreshExpiringSweep(t *testing.T) {
	conns, adapter, clock, tokens := newTokenHarness(t)
	ctx := context.Background()
	// Two expiring within the hour, one comfortably fresh.
	require.NoError(t, conns.Upsert(ctx, activeTestConnection("c1", "u1", model.PlatformYouTube, clock.NowUTC().Add(10*time.Minute))))
	require.NoError(t, conns.Upsert(ctx, activeTestConnection("c2", "u2", model.PlatformYouTube, clock.NowUTC().Add(30*time.Minute))))
	require.NoError(t, conns.Upsert(ctx, activeTestConnection("c3", "u3", model.PlatformYouTube, clock.NowUTC().Add(48*time.Hour))))

	n, err := tokens.RefreshExpiring(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, adapter.refreshCount())
}

func TestAppAuth(t *testing.T) {
	_, _, clock, tokens := newTokenHarness(t)

	cred, err := tokens.AppAuth(model.PlatformYouTube)
	require.NoError(t, err)
	require.Nil(t, cred)

	cred, err = tokens.AppAuth(model.PlatformTwitter)
	require.NoError(t, err)
	require.Equal(t, "key", cred.APIKey)

	bare := NewTokenUsecase(newFakeConnectionRepo(), newFakeRegistry(), clock, time.Minute, time.Hour, model.OAuth1Credential{})
	_, err = bare.AppAuth(model.PlatformTwitter)
	require.Equal(t, model.KindConfigMissing, model.KindOf(err))
}
