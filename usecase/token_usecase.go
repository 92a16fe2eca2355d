package usecase

import (
	"context"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// refreshSweepBatch bounds how many connections one proactive sweep touches.
const refreshSweepBatch = 100

// ITokenUsecase hands out access tokens that remain valid for at least the
// safety window, refreshing through the platform adapter when needed.
// Refreshes are serialized per connection; the loser of the race gets the
// winner's token from a re-read instead of a second network call.
type ITokenUsecase interface {
	AccessToken(ctx context.Context, connectionID string) (string, error)
	// ForceRefresh refreshes regardless of the stored expiry. The dispatcher
	// uses it when a platform reports AUTH_EXPIRED despite a fresh-looking
	// token.
	ForceRefresh(ctx context.Context, connectionID string) (string, error)
	// AppAuth returns the app-level OAuth 1.0a credential for platforms whose
	// media endpoints need one, nil for the rest. An incomplete credential is
	// CONFIG_MISSING.
	AppAuth(platform model.PlatformID) (*model.OAuth1Credential, error)
	// RefreshExpiring proactively refreshes active connections whose tokens
	// expire within the horizon. Returns how many it refreshed.
	RefreshExpiring(ctx context.Context) (int, error)
}

type tokenUsecase struct {
	connections repository.IConnectionRepository
	adapters    repository.IAdapterRegistry
	clock       repository.IClock
	safety      time.Duration
	horizon     time.Duration
	twitterApp  model.OAuth1Credential

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTokenUsecase(connections repository.IConnectionRepository, adapters repository.IAdapterRegistry, clock repository.IClock, safety time.Duration, sweepHorizon time.Duration, twitterApp model.OAuth1Credential) ITokenUsecase {
	if safety <= 0 {
		safety = time.Minute
	}
	if sweepHorizon <= 0 {
		sweepHorizon = time.Hour
	}
	if !oauth1Complete(twitterApp) {
		logger.GetLogger().Warn("Twitter app credentials (oauth1) incomplete; twitter publishing will fail with CONFIG_MISSING")
	}
	return &tokenUsecase{
		connections: connections,
		adapters:    adapters,
		clock:       clock,
		safety:      safety,
		horizon:     sweepHorizon,
		twitterApp:  twitterApp,
		locks:       map[string]*sync.Mutex{},
	}
}

func (u *tokenUsecase) AccessToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := u.connections.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !conn.Active {
		return "", model.NewError(model.KindAuthRevoked, "connection is inactive")
	}
	if conn.TokenFresh(u.clock.NowUTC(), u.safety) {
		return conn.AccessToken, nil
	}
	return u.refresh(ctx, connectionID, u.safety, false)
}

func (u *tokenUsecase) ForceRefresh(ctx context.Context, connectionID string) (string, error) {
	return u.refresh(ctx, connectionID, 0, true)
}

// refresh serializes on the per-connection lock, then re-reads the row: if
// another caller already refreshed the token past the window while this one
// waited, the fresh token is returned without touching the platform. Two
// workers in different processes race through the platform instead, which
// every provider tolerates.
func (u *tokenUsecase) refresh(ctx context.Context, connectionID string, window time.Duration, force bool) (string, error) {
	lock := u.lockFor(connectionID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := u.connections.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !conn.Active {
		return "", model.NewError(model.KindAuthRevoked, "connection is inactive")
	}
	if !force && conn.TokenFresh(u.clock.NowUTC(), window) {
		return conn.AccessToken, nil
	}
	if conn.RefreshToken == "" {
		// No refresh credential means the platform wants a fresh consent.
		if markErr := u.connections.MarkInactive(ctx, conn.ID); markErr != nil {
			logger.GetLogger().WithField("error", markErr).Error("Failed to deactivate connection without refresh credential")
		}
		return "", model.NewError(model.KindAuthRevoked, "connection has no refresh credential; reconnect required")
	}

	adapter, err := u.adapters.ForPlatform(conn.Platform)
	if err != nil {
		return "", err
	}
	bundle, err := adapter.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		return "", u.mapRefreshFailure(ctx, conn, err)
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = conn.RefreshToken
	}
	if err := u.connections.UpdateTokens(ctx, conn.ID, *bundle); err != nil {
		return "", err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"platform":      conn.Platform,
	}).Info("Refreshed platform access token")
	return bundle.AccessToken, nil
}

// mapRefreshFailure routes a failed refresh: a rejected grant deactivates the
// connection and becomes permanent AUTH_REVOKED; anything transient keeps its
// kind and retries under the standard policy.
func (u *tokenUsecase) mapRefreshFailure(ctx context.Context, conn *model.PlatformConnection, err error) error {
	switch model.KindOf(err) {
	case model.KindInvalidGrant, model.KindAuthRevoked:
		if markErr := u.connections.MarkInactive(ctx, conn.ID); markErr != nil {
			logger.GetLogger().WithFields(map[string]interface{}{
				"connection_id": conn.ID,
				"error":         markErr,
			}).Error("Failed to deactivate revoked connection")
		}
		return model.WrapError(model.KindAuthRevoked, err, "platform rejected the refresh credential")
	case model.KindAuthExpired:
		// A refresh cannot fix an expired refresh credential either.
		return model.WrapError(model.KindPlatformTransient, err, "token refresh failed")
	default:
		return err
	}
}

func (u *tokenUsecase) AppAuth(platform model.PlatformID) (*model.OAuth1Credential, error) {
	if platform != model.PlatformTwitter {
		return nil, nil
	}
	if !oauth1Complete(u.twitterApp) {
		return nil, model.NewError(model.KindConfigMissing, "twitter app credentials (oauth1) are not configured")
	}
	cred := u.twitterApp
	return &cred, nil
}

func (u *tokenUsecase) RefreshExpiring(ctx context.Context) (int, error) {
	before := u.clock.NowUTC().Add(u.horizon)
	conns, err := u.connections.ListExpiring(ctx, before, refreshSweepBatch)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for i := range conns {
		// The sweep refreshes anything expiring inside the horizon, not just
		// inside the per-request safety window.
		if _, err := u.refresh(ctx, conns[i].ID, u.horizon, false); err != nil {
			logger.GetLogger().WithFields(map[string]interface{}{
				"connection_id": conns[i].ID,
				"platform":      conns[i].Platform,
				"error_kind":    model.KindOf(err),
			}).Warn("Proactive token refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (u *tokenUsecase) lockFor(connectionID string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.locks[connectionID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[connectionID] = l
	}
	return l
}

func oauth1Complete(c model.OAuth1Credential) bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}
