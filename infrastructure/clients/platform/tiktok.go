package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
)

const tiktokDefaultExpiry = 86400 // seconds; the endpoint omits expires_in on some app types

type tiktokAdapter struct {
	http  *http.Client
	cfg   configuration.OAuthClient
	store repository.IObjectStore

	authURL  string
	tokenURL string
	apiBase  string
}

func newTikTokAdapter(deps Deps) *tiktokAdapter {
	return &tiktokAdapter{
		http:     deps.HTTP,
		cfg:      deps.Platforms.TikTok,
		store:    deps.Store,
		authURL:  "https://www.tiktok.com/v2/auth/authorize/",
		tokenURL: "https://open.tiktokapis.com/v2/oauth/token/",
		apiBase:  "https://open.tiktokapis.com",
	}
}

func (a *tiktokAdapter) Platform() model.PlatformID { return model.PlatformTikTok }
func (a *tiktokAdapter) DisplayName() string        { return "TikTok" }

func (a *tiktokAdapter) Limits() model.MediaLimits {
	return model.MediaLimits{
		Containers:    []string{"mp4", "mov", "webm"},
		MaxSizeBytes:  500 << 20,
		MaxDurationMS: 600_000,
		CaptionLimit:  2200,
	}
}

// TikTok scopes are comma-separated, unlike the space-separated OAuth2 norm.
func (a *tiktokAdapter) scopes() string {
	if len(a.cfg.Scopes) > 0 {
		return strings.Join(a.cfg.Scopes, ",")
	}
	return "video.upload,user.info.basic"
}

func (a *tiktokAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return nil, model.NewError(model.KindConfigMissing, "tiktok client credentials are not configured")
	}
	q := url.Values{}
	q.Set("client_key", a.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", a.scopes())
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("state", state)
	return &model.AuthRequest{URL: a.authURL + "?" + q.Encode()}, nil
}

type tiktokTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"open_id"`
	Scope        string `json:"scope"`
}

func (a *tiktokAdapter) ExchangeCode(ctx context.Context, code string, _ string) (*model.TokenBundle, error) {
	form := url.Values{}
	form.Set("client_key", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.cfg.RedirectURI)
	return a.requestToken(ctx, form, "")
}

func (a *tiktokAdapter) Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error) {
	form := url.Values{}
	form.Set("client_key", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	// TikTok rotates refresh tokens; fall back to the prior one if the
	// response omits it.
	return a.requestToken(ctx, form, refreshToken)
}

func (a *tiktokAdapter) requestToken(ctx context.Context, form url.Values, priorRefresh string) (*model.TokenBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tiktokTokenResponse
	if err := tokenCall(a.http, req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, model.NewError(model.KindPlatformPermanent, "token endpoint returned no access token")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = tiktokDefaultExpiry
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = priorRefresh
	}
	scopes := splitScopes(tok.Scope, ",")
	if len(scopes) == 0 {
		scopes = splitScopes(a.scopes(), ",")
	}
	return &model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
		Scopes:       scopes,
	}, nil
}

func (a *tiktokAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.apiBase+"/v2/user/info/?fields=open_id,display_name", nil)
	if err != nil {
		return "", "", model.WrapError(model.KindInternal, err, "building user info request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := apiCall(a.http, req)
	if err != nil {
		return "", "", err
	}
	var out struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", model.WrapError(model.KindPlatformTransient, err, "malformed user info response")
	}
	if out.Data.User.OpenID == "" {
		return "", "", model.NewError(model.KindPlatformTransient, "user info response had no open_id")
	}
	return out.Data.User.OpenID, out.Data.User.DisplayName, nil
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Publish runs TikTok's direct-post flow: init the publish to get an upload
// URL, then PUT the bytes in one ranged request. Processing continues
// asynchronously on TikTok's side; the publish_id is the receipt.
func (a *tiktokAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	media, size, err := a.store.Open(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	defer media.Close()

	privacy := spec.Privacy
	if privacy == "" {
		privacy = "PUBLIC_TO_EVERYONE"
	}
	initPayload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":           spec.CaptionWithTags(),
			"privacy_level":   strings.ToUpper(privacy),
			"disable_comment": spec.DisableComments,
			"disable_duet":    spec.DisableDuet,
			"disable_stitch":  spec.DisableStitch,
		},
		"source_info": map[string]interface{}{
			"source":            "FILE_UPLOAD",
			"video_size":        size,
			"chunk_size":        size,
			"total_chunk_count": 1,
		},
	}
	raw, err := json.Marshal(initPayload)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "encoding publish init")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.apiBase+"/v2/post/publish/video/init/", bytes.NewReader(raw))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building publish init request")
	}
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	body, err := apiCall(a.http, req)
	if err != nil {
		return nil, err
	}
	var init tiktokInitResponse
	if err := json.Unmarshal(body, &init); err != nil {
		return nil, model.WrapError(model.KindPlatformTransient, err, "malformed publish init response")
	}
	if init.Error.Code != "" && init.Error.Code != "ok" {
		return nil, model.Errf(model.KindPlatformPermanent, "tiktok rejected publish init: %s %s",
			init.Error.Code, init.Error.Message)
	}
	if init.Data.UploadURL == "" || init.Data.PublishID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "publish init response missing upload_url")
	}

	upload, err := http.NewRequestWithContext(ctx, http.MethodPut, init.Data.UploadURL, media)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building upload request")
	}
	upload.ContentLength = size
	upload.Header.Set("Content-Type", mediaContentType(video.Container))
	upload.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	if _, err := apiCall(a.http, upload); err != nil {
		return nil, err
	}
	return &model.PublishReceipt{PlatformPostID: init.Data.PublishID}, nil
}

func splitScopes(raw string, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
