package repository

import (
	"context"

	"crosspost/domain/model"
)

// IPlatformAdapter adapts one platform's OAuth and upload protocol to a
// uniform surface. Implementations classify every failure into an error kind
// so callers can route retries without platform knowledge.
type IPlatformAdapter interface {
	Platform() model.PlatformID
	DisplayName() string

	// BuildAuthorizationURL returns the consent URL for the given opaque
	// state, plus the PKCE verifier when the platform requires one.
	BuildAuthorizationURL(state string) (*model.AuthRequest, error)
	// ExchangeCode trades an authorization code for tokens. verifier is the
	// PKCE verifier from the auth request, empty when unused.
	ExchangeCode(ctx context.Context, code string, verifier string) (*model.TokenBundle, error)
	// Refresh trades a refresh token for a new bundle. Platforms without
	// refresh support return an INVALID_GRANT error.
	Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error)
	// FetchIdentity resolves the platform-side account the token belongs to.
	FetchIdentity(ctx context.Context, accessToken string) (accountID string, displayName string, err error)

	// Publish uploads the video and creates the platform post, polling any
	// asynchronous processing to completion.
	Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error)

	// Limits reports what media the platform accepts.
	Limits() model.MediaLimits
}

// IStatsFetcher is implemented by adapters that can read engagement counts
// for an already published post.
type IStatsFetcher interface {
	FetchStats(ctx context.Context, auth model.PublishAuth, platformPostID string) (*model.StatSnapshot, error)
}

// IAdapterRegistry resolves platform adapters. The platform set is closed;
// unknown identifiers are a VALIDATION failure.
type IAdapterRegistry interface {
	ForPlatform(p model.PlatformID) (IPlatformAdapter, error)
	All() []IPlatformAdapter
}
