package platform

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"time"

	"golang.org/x/oauth2"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

const facebookDefaultExpiry = 5184000 // long-lived user tokens last about 60 days

type facebookAdapter struct {
	http  *http.Client
	oauth *oauth2.Config
	store repository.IObjectStore

	graphBase string
}

func newFacebookAdapter(deps Deps) *facebookAdapter {
	cfg := deps.Platforms.Facebook
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"pages_manage_posts", "pages_read_engagement", "pages_show_list"}
	}
	return &facebookAdapter{
		http: deps.HTTP,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.facebook.com/v18.0/dialog/oauth",
				TokenURL:  "https://graph.facebook.com/v18.0/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:     deps.Store,
		graphBase: "https://graph.facebook.com/v18.0",
	}
}

func (a *facebookAdapter) Platform() model.PlatformID { return model.PlatformFacebook }
func (a *facebookAdapter) DisplayName() string        { return "Facebook" }

func (a *facebookAdapter) Limits() model.MediaLimits {
	return model.MediaLimits{
		Containers:    []string{"mp4", "mov", "avi", "wmv", "flv", "webm", "mkv"},
		MaxSizeBytes:  10 << 30,
		MaxDurationMS: 14_400_000,
		CaptionLimit:  63206,
	}
}

func (a *facebookAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	if a.oauth.ClientID == "" || a.oauth.ClientSecret == "" {
		return nil, model.NewError(model.KindConfigMissing, "facebook client credentials are not configured")
	}
	return &model.AuthRequest{URL: a.oauth.AuthCodeURL(state)}, nil
}

// ExchangeCode swaps the code for a short-lived user token and immediately
// extends it to the 60-day form. Facebook has no refresh grant, so the bundle
// carries no refresh token and Refresh below always fails.
func (a *facebookAdapter) ExchangeCode(ctx context.Context, code string, _ string) (*model.TokenBundle, error) {
	tok, err := a.oauth.Exchange(a.httpCtx(ctx), code)
	if err != nil {
		return nil, classifyOAuth2(err)
	}

	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", a.oauth.ClientID)
	q.Set("client_secret", a.oauth.ClientSecret)
	q.Set("fb_exchange_token", tok.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.graphBase+"/oauth/access_token?"+q.Encode(), nil)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building token request")
	}
	var long struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := tokenCall(a.http, req, &long); err != nil {
		return nil, err
	}
	if long.AccessToken == "" {
		return nil, model.NewError(model.KindPlatformPermanent, "token endpoint returned no access token")
	}
	expiresIn := long.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = facebookDefaultExpiry
	}
	return &model.TokenBundle{
		AccessToken: long.AccessToken,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
		Scopes:      a.oauth.Scopes,
	}, nil
}

func (a *facebookAdapter) Refresh(ctx context.Context, _ string) (*model.TokenBundle, error) {
	return nil, model.NewError(model.KindInvalidGrant,
		"facebook tokens cannot be refreshed; reconnect the account")
}

func (a *facebookAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := a.graphGet(ctx, "/me?fields=id,name&access_token="+url.QueryEscape(accessToken), &out); err != nil {
		return "", "", err
	}
	if out.ID == "" {
		return "", "", model.NewError(model.KindPlatformTransient, "identity response had no id")
	}
	return out.ID, out.Name, nil
}

// Publish uploads the video to the first page the connected user manages.
// Page posts need the page access token, not the user token, so the accounts
// edge is consulted on every attempt.
func (a *facebookAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	var accounts struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	accountsPath := "/me/accounts?fields=id,name,access_token&access_token=" + url.QueryEscape(auth.AccessToken)
	if err := a.graphGet(ctx, accountsPath, &accounts); err != nil {
		return nil, err
	}
	if len(accounts.Data) == 0 {
		return nil, model.NewError(model.KindPlatformPermanent, "no facebook pages available on this account")
	}
	page := accounts.Data[0]

	media, _, err := a.store.Open(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	defer media.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("description", spec.CaptionWithTags()); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("source", path.Base(video.StorageKey))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, media); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	uploadURL := a.graphBase + "/" + page.ID + "/videos?access_token=" + url.QueryEscape(page.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := apiCall(a.http, req)
	if err != nil {
		return nil, err
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return nil, model.WrapError(model.KindPlatformTransient, err, "malformed upload response")
	}
	if uploaded.ID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "upload response had no video id")
	}
	return &model.PublishReceipt{
		PlatformPostID: uploaded.ID,
		PlatformURL:    "https://www.facebook.com/" + page.ID + "/videos/" + uploaded.ID,
	}, nil
}

func (a *facebookAdapter) graphGet(ctx context.Context, p string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.graphBase+p, nil)
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

func (a *facebookAdapter) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}
