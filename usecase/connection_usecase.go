package usecase

import (
	"context"
	"net/url"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
	"crosspost/infrastructure/utils"
)

// IConnectionUsecase drives the OAuth connect flow and connection
// management. The state parameter is a signed, self-contained token: the
// callback needs no server-side session to finish the flow.
type IConnectionUsecase interface {
	BeginConnect(ctx context.Context, req *dto.BeginConnectRequest) (*dto.BeginConnectResponse, error)
	CompleteConnect(ctx context.Context, req *dto.CompleteConnectRequest) (*dto.ConnectionResponse, error)
	List(ctx context.Context, userID string) ([]dto.ConnectionResponse, error)
	// Disconnect deactivates every active connection for the platform and
	// returns how many it touched. Post history is kept.
	Disconnect(ctx context.Context, req *dto.DisconnectRequest) (int64, error)
}

type connectionUsecase struct {
	connections repository.IConnectionRepository
	adapters    repository.IAdapterRegistry
	clock       repository.IClock
	ids         repository.IIDSource
	secretKey   string
}

func NewConnectionUsecase(connections repository.IConnectionRepository, adapters repository.IAdapterRegistry, clock repository.IClock, ids repository.IIDSource, secretKey string) IConnectionUsecase {
	return &connectionUsecase{
		connections: connections,
		adapters:    adapters,
		clock:       clock,
		ids:         ids,
		secretKey:   secretKey,
	}
}

func (u *connectionUsecase) BeginConnect(ctx context.Context, req *dto.BeginConnectRequest) (*dto.BeginConnectResponse, error) {
	if req == nil || req.UserID == "" {
		return nil, model.NewError(model.KindValidation, "user id is required")
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	adapter, err := u.adapters.ForPlatform(platform)
	if err != nil {
		return nil, err
	}

	now := u.clock.NowUTC()
	claims := utils.StateClaims{
		UserID:   req.UserID,
		Platform: string(platform),
		Nonce:    u.ids.NewID(),
	}
	state, err := utils.SignState(claims, u.secretKey, now)
	if err != nil {
		return nil, err
	}
	authReq, err := adapter.BuildAuthorizationURL(state)
	if err != nil {
		return nil, err
	}
	authURL := authReq.URL
	if authReq.CodeVerifier != "" {
		// The PKCE verifier only exists once the adapter built the URL, so
		// the state is re-signed with it and swapped into the query string.
		// The challenge in the URL derives from the verifier, not the state.
		claims.Verifier = authReq.CodeVerifier
		state, err = utils.SignState(claims, u.secretKey, now)
		if err != nil {
			return nil, err
		}
		authURL, err = replaceStateParam(authReq.URL, state)
		if err != nil {
			return nil, err
		}
	}

	return &dto.BeginConnectResponse{AuthorizationURL: authURL, State: state}, nil
}

func (u *connectionUsecase) CompleteConnect(ctx context.Context, req *dto.CompleteConnectRequest) (*dto.ConnectionResponse, error) {
	if req == nil || req.Code == "" {
		return nil, model.NewError(model.KindValidation, "authorization code is required")
	}
	claims, err := utils.VerifyState(req.State, u.secretKey, u.clock.NowUTC())
	if err != nil {
		return nil, err
	}
	platform, err := model.ParsePlatform(claims.Platform)
	if err != nil {
		return nil, model.WrapError(model.KindAuthStateInvalid, err, "state carries an unknown platform")
	}
	adapter, err := u.adapters.ForPlatform(platform)
	if err != nil {
		return nil, err
	}

	bundle, err := adapter.ExchangeCode(ctx, req.Code, claims.Verifier)
	if err != nil {
		return nil, err
	}
	accountID, displayName, err := adapter.FetchIdentity(ctx, bundle.AccessToken)
	if err != nil {
		return nil, err
	}

	now := u.clock.NowUTC()
	conn := &model.PlatformConnection{
		ID:             u.ids.NewID(),
		UserID:         claims.UserID,
		Platform:       platform,
		AccountID:      accountID,
		DisplayName:    displayName,
		Scopes:         bundle.Scopes,
		AccessToken:    bundle.AccessToken,
		RefreshToken:   bundle.RefreshToken,
		TokenExpiresAt: bundle.ExpiresAt,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.connections.Upsert(ctx, conn); err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"user_id":  conn.UserID,
		"platform": conn.Platform,
		"account":  conn.AccountID,
	}).Info("Platform connected")
	return toConnectionResponse(conn), nil
}

func (u *connectionUsecase) List(ctx context.Context, userID string) ([]dto.ConnectionResponse, error) {
	if userID == "" {
		return nil, model.NewError(model.KindValidation, "user id is required")
	}
	conns, err := u.connections.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ConnectionResponse, 0, len(conns))
	for i := range conns {
		out = append(out, *toConnectionResponse(&conns[i]))
	}
	return out, nil
}

func (u *connectionUsecase) Disconnect(ctx context.Context, req *dto.DisconnectRequest) (int64, error) {
	if req == nil || req.UserID == "" {
		return 0, model.NewError(model.KindValidation, "user id is required")
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		return 0, err
	}
	return u.connections.Deactivate(ctx, req.UserID, platform)
}

func replaceStateParam(rawURL string, state string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", model.WrapError(model.KindInternal, err, "authorization url is invalid")
	}
	q := parsed.Query()
	q.Set("state", state)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func toConnectionResponse(c *model.PlatformConnection) *dto.ConnectionResponse {
	resp := &dto.ConnectionResponse{
		ID:          c.ID,
		Platform:    string(c.Platform),
		AccountID:   c.AccountID,
		AccountName: c.DisplayName,
		Scopes:      c.Scopes,
		Active:      c.Active,
		ConnectedAt: c.CreatedAt.Format(time.RFC3339),
	}
	if !c.TokenExpiresAt.IsZero() {
		resp.TokenExpiresAt = c.TokenExpiresAt.Format(time.RFC3339)
	}
	if c.UpdatedAt.After(c.CreatedAt) {
		resp.LastRefreshedAt = c.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}
