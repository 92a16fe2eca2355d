package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// IConnectionRepository stores platform connections. Implementations seal
// token material through ISecretSealer on every write and open it on every
// single-row read; list queries never load token columns.
type IConnectionRepository interface {
	// Upsert inserts the connection or, when an active row for the same
	// (user, platform, account) exists, replaces its tokens and scopes.
	Upsert(ctx context.Context, conn *model.PlatformConnection) error
	Get(ctx context.Context, id string) (*model.PlatformConnection, error)
	// GetActive returns the newest active connection for the pair, or a
	// CONFIG_MISSING error when none exists.
	GetActive(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformConnection, error)
	ListForUser(ctx context.Context, userID string) ([]model.PlatformConnection, error)
	UpdateTokens(ctx context.Context, id string, bundle model.TokenBundle) error
	MarkInactive(ctx context.Context, id string) error
	// Deactivate disconnects every active connection the user holds on the
	// platform and returns how many rows it touched.
	Deactivate(ctx context.Context, userID string, platform model.PlatformID) (int64, error)
	// ListExpiring returns active, refreshable connections whose access token
	// expires before the given instant. Feeds the background refresh sweep.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]model.PlatformConnection, error)
}
