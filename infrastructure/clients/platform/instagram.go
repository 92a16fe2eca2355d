package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
)

const instagramDefaultExpiry = 5184000 // 60 days, the long-lived token lifetime

type instagramAdapter struct {
	http        *http.Client
	cfg         configuration.OAuthClient
	store       repository.IObjectStore
	poll        poller
	downloadTTL time.Duration

	authBase  string
	graphBase string
}

func newInstagramAdapter(deps Deps) *instagramAdapter {
	return &instagramAdapter{
		http:        deps.HTTP,
		cfg:         deps.Platforms.Instagram,
		store:       deps.Store,
		poll:        processingPoll,
		downloadTTL: deps.DownloadTTL,
		authBase:    "https://api.instagram.com",
		graphBase:   "https://graph.instagram.com/v18.0",
	}
}

func (a *instagramAdapter) Platform() model.PlatformID { return model.PlatformInstagram }
func (a *instagramAdapter) DisplayName() string        { return "Instagram" }

func (a *instagramAdapter) Limits() model.MediaLimits {
	return model.MediaLimits{
		Containers:    []string{"mp4", "mov"},
		MaxSizeBytes:  100 << 20,
		MaxDurationMS: 90_000,
		CaptionLimit:  2200,
	}
}

func (a *instagramAdapter) scopes() string {
	if len(a.cfg.Scopes) > 0 {
		return strings.Join(a.cfg.Scopes, ",")
	}
	return "instagram_basic,instagram_content_publish"
}

func (a *instagramAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return nil, model.NewError(model.KindConfigMissing, "instagram client credentials are not configured")
	}
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("scope", a.scopes())
	q.Set("response_type", "code")
	q.Set("state", state)
	return &model.AuthRequest{URL: a.authBase + "/oauth/authorize?" + q.Encode()}, nil
}

// ExchangeCode trades the code for a short-lived token, then immediately for
// the 60-day token. The long-lived token doubles as the refresh credential:
// refresh_access_token takes the token itself, not a separate secret.
func (a *instagramAdapter) ExchangeCode(ctx context.Context, code string, _ string) (*model.TokenBundle, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.cfg.RedirectURI)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.authBase+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var short struct {
		AccessToken string `json:"access_token"`
	}
	if err := tokenCall(a.http, req, &short); err != nil {
		return nil, err
	}
	if short.AccessToken == "" {
		return nil, model.NewError(model.KindPlatformPermanent, "token endpoint returned no access token")
	}

	q := url.Values{}
	q.Set("grant_type", "ig_exchange_token")
	q.Set("client_secret", a.cfg.ClientSecret)
	q.Set("access_token", short.AccessToken)
	return a.longLivedToken(ctx, a.graphBase+"/access_token?"+q.Encode())
}

func (a *instagramAdapter) Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", refreshToken)
	bundle, err := a.longLivedToken(ctx, a.graphBase+"/refresh_access_token?"+q.Encode())
	if err != nil {
		// A rejected refresh means the long-lived token is dead; the account
		// has to be reconnected.
		switch model.KindOf(err) {
		case model.KindAuthExpired, model.KindAuthRevoked, model.KindPlatformPermanent:
			return nil, model.WrapError(model.KindInvalidGrant, err, "instagram token refresh rejected")
		}
		return nil, err
	}
	return bundle, nil
}

func (a *instagramAdapter) longLivedToken(ctx context.Context, endpoint string) (*model.TokenBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building token request")
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := tokenCall(a.http, req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, model.NewError(model.KindPlatformPermanent, "token endpoint returned no access token")
	}
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = instagramDefaultExpiry
	}
	return &model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.AccessToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
		Scopes:       splitScopes(a.scopes(), ","),
	}, nil
}

func (a *instagramAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	var out struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := a.graphGet(ctx, "/me?fields=id,username&access_token="+url.QueryEscape(accessToken), &out); err != nil {
		return "", "", err
	}
	if out.ID == "" {
		return "", "", model.NewError(model.KindPlatformTransient, "identity response had no id")
	}
	return out.ID, out.Username, nil
}

// Publish creates a REELS container pointing at a presigned download of the
// media, waits for server-side ingestion to finish, then publishes the
// container.
func (a *instagramAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := a.graphGet(ctx, "/me?fields=id&access_token="+url.QueryEscape(auth.AccessToken), &me); err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "account lookup returned no id")
	}

	videoURL, err := a.store.PresignDownload(ctx, video.StorageKey, a.downloadTTL)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("media_type", "REELS")
	form.Set("video_url", videoURL)
	form.Set("caption", spec.CaptionWithTags())
	form.Set("share_to_feed", "true")
	form.Set("access_token", auth.AccessToken)

	var container struct {
		ID string `json:"id"`
	}
	if err := a.graphPost(ctx, "/"+me.ID+"/media", form, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "media container response had no id")
	}

	statusPath := "/" + container.ID + "?fields=status_code&access_token=" + url.QueryEscape(auth.AccessToken)
	err = a.poll.run(ctx, "instagram container "+container.ID, func(ctx context.Context) (bool, time.Duration, error) {
		var status struct {
			StatusCode string `json:"status_code"`
		}
		if err := a.graphGet(ctx, statusPath, &status); err != nil {
			return false, 0, err
		}
		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return true, 0, nil
		case "ERROR", "EXPIRED":
			return false, 0, model.Errf(model.KindPlatformPermanent,
				"instagram could not process the media (%s)", status.StatusCode)
		default: // IN_PROGRESS
			return false, 0, nil
		}
	})
	if err != nil {
		return nil, err
	}

	publishForm := url.Values{}
	publishForm.Set("creation_id", container.ID)
	publishForm.Set("access_token", auth.AccessToken)
	var published struct {
		ID string `json:"id"`
	}
	if err := a.graphPost(ctx, "/"+me.ID+"/media_publish", publishForm, &published); err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "media publish response had no id")
	}
	return &model.PublishReceipt{
		PlatformPostID: published.ID,
		PlatformURL:    "https://www.instagram.com/reel/" + published.ID,
	}, nil
}

func (a *instagramAdapter) graphGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.graphBase+path, nil)
	if err != nil {
		return model.WrapError(model.KindInternal, err, "building graph request")
	}
	body, err := apiCall(a.http, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.WrapError(model.KindPlatformTransient, err, "malformed graph response")
	}
	return nil
}

func (a *instagramAdapter) graphPost(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.graphBase+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return model.WrapError(model.KindInternal, err, "building graph request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := apiCall(a.http, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.WrapError(model.KindPlatformTransient, err, "malformed graph response")
	}
	return nil
}
