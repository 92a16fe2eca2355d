package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

const (
	twitterChunkSize     = 5 << 20 // APPEND segment size
	twitterDefaultExpiry = 7200    // seconds
	twitterCheckDefault  = 5       // seconds between STATUS polls when unspecified
)

type twitterAdapter struct {
	http  *http.Client
	oauth *oauth2.Config
	app   model.OAuth1Credential
	store repository.IObjectStore
	poll  poller

	apiBase    string
	uploadBase string
}

func newTwitterAdapter(deps Deps) *twitterAdapter {
	cfg := deps.Platforms.Twitter
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"tweet.read", "tweet.write", "users.read", "offline.access", "media.write"}
	}
	return &twitterAdapter{
		http: deps.HTTP,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://twitter.com/i/oauth2/authorize",
				TokenURL:  "https://api.twitter.com/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		app: model.OAuth1Credential{
			APIKey:            deps.Platforms.TwitterApp.APIKey,
			APISecret:         deps.Platforms.TwitterApp.APISecret,
			AccessToken:       deps.Platforms.TwitterApp.AccessToken,
			AccessTokenSecret: deps.Platforms.TwitterApp.AccessTokenSecret,
		},
		store:      deps.Store,
		poll:       processingPoll,
		apiBase:    "https://api.twitter.com",
		uploadBase: "https://upload.twitter.com",
	}
}

func (a *twitterAdapter) Platform() model.PlatformID { return model.PlatformTwitter }
func (a *twitterAdapter) DisplayName() string        { return "Twitter" }

func (a *twitterAdapter) Limits() model.MediaLimits {
	return model.MediaLimits{
		Containers:    []string{"mp4", "mov"},
		MaxSizeBytes:  512 << 20,
		MaxDurationMS: 140_000,
		CaptionLimit:  280,
	}
}

func (a *twitterAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	if a.oauth.ClientID == "" {
		return nil, model.NewError(model.KindConfigMissing, "twitter client credentials are not configured")
	}
	verifier := oauth2.GenerateVerifier()
	authURL := a.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return &model.AuthRequest{URL: authURL, CodeVerifier: verifier}, nil
}

func (a *twitterAdapter) ExchangeCode(ctx context.Context, code string, verifier string) (*model.TokenBundle, error) {
	tok, err := a.oauth.Exchange(a.httpCtx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyOAuth2(err)
	}
	return a.bundleFrom(tok, ""), nil
}

func (a *twitterAdapter) Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error) {
	source := a.oauth.TokenSource(a.httpCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return nil, classifyOAuth2(err)
	}
	return a.bundleFrom(tok, refreshToken), nil
}

func (a *twitterAdapter) bundleFrom(tok *oauth2.Token, priorRefresh string) *model.TokenBundle {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = priorRefresh
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().UTC().Add(twitterDefaultExpiry * time.Second)
	}
	return &model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry.UTC(),
		Scopes:       a.oauth.Scopes,
	}
}

func (a *twitterAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+"/2/users/me", nil)
	if err != nil {
		return "", "", model.WrapError(model.KindInternal, err, "building users/me request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := apiCall(a.http, req)
	if err != nil {
		return "", "", err
	}
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", model.WrapError(model.KindPlatformTransient, err, "malformed users/me response")
	}
	if out.Data.ID == "" {
		return "", "", model.NewError(model.KindPlatformTransient, "users/me response had no id")
	}
	display := out.Data.Name
	if display == "" {
		display = "@" + out.Data.Username
	}
	return out.Data.ID, display, nil
}

// Publish runs the dual-credential flow: chunked media upload signed with the
// app's OAuth 1.0a credential, then the tweet itself with the user's OAuth2
// bearer.
func (a *twitterAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	app := auth.App
	if app == nil {
		app = &a.app
	}
	if app.APIKey == "" || app.APISecret == "" || app.AccessToken == "" || app.AccessTokenSecret == "" {
		return nil, model.NewError(model.KindConfigMissing,
			"twitter app credentials (oauth1) are not configured")
	}
	signer := oauth1Signer{cred: *app}

	media, size, err := a.store.Open(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	defer media.Close()

	mediaID, err := a.uploadMedia(ctx, signer, media, size, mediaContentType(video.Container))
	if err != nil {
		return nil, err
	}

	tweet := map[string]interface{}{
		"text": spec.CaptionWithTags(),
		"media": map[string]interface{}{
			"media_ids": []string{mediaID},
		},
	}
	raw, err := json.Marshal(tweet)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "encoding tweet")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/2/tweets", bytes.NewReader(raw))
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building tweet request")
	}
	req.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	body, err := apiCall(a.http, req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, model.WrapError(model.KindPlatformTransient, err, "malformed tweet response")
	}
	if out.Data.ID == "" {
		return nil, model.NewError(model.KindPlatformTransient, "tweet response had no id")
	}
	return &model.PublishReceipt{
		PlatformPostID: out.Data.ID,
		PlatformURL:    "https://twitter.com/i/web/status/" + out.Data.ID,
	}, nil
}

type twitterMediaResponse struct {
	MediaIDString  string `json:"media_id_string"`
	ProcessingInfo *struct {
		State          string `json:"state"`
		CheckAfterSecs int    `json:"check_after_secs"`
		Error          *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"processing_info"`
}

// uploadMedia drives INIT → APPEND (5 MiB segments) → FINALIZE → STATUS.
func (a *twitterAdapter) uploadMedia(ctx context.Context, signer oauth1Signer, media io.Reader, size int64, contentType string) (string, error) {
	initResp, err := a.mediaCommand(ctx, signer, http.MethodPost, url.Values{
		"command":        {"INIT"},
		"total_bytes":    {strconv.FormatInt(size, 10)},
		"media_type":     {contentType},
		"media_category": {"tweet_video"},
	}, nil)
	if err != nil {
		return "", err
	}
	if initResp.MediaIDString == "" {
		return "", model.NewError(model.KindPlatformTransient, "media INIT returned no media_id")
	}
	mediaID := initResp.MediaIDString

	buf := make([]byte, twitterChunkSize)
	for segment := 0; ; segment++ {
		n, readErr := io.ReadFull(media, buf)
		if n > 0 {
			if err := a.appendChunk(ctx, signer, mediaID, segment, buf[:n]); err != nil {
				return "", err
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", model.WrapError(model.KindStorageUnavailable, readErr, "reading media for upload")
		}
	}

	finalResp, err := a.mediaCommand(ctx, signer, http.MethodPost, url.Values{
		"command":  {"FINALIZE"},
		"media_id": {mediaID},
	}, nil)
	if err != nil {
		return "", err
	}
	if finalResp.ProcessingInfo == nil || finalResp.ProcessingInfo.State == "succeeded" {
		return mediaID, nil
	}

	// Asynchronous transcode: poll STATUS at the platform-suggested pace.
	err = a.poll.run(ctx, "twitter media "+mediaID, func(ctx context.Context) (bool, time.Duration, error) {
		status, err := a.mediaCommand(ctx, signer, http.MethodGet, url.Values{
			"command":  {"STATUS"},
			"media_id": {mediaID},
		}, nil)
		if err != nil {
			return false, 0, err
		}
		info := status.ProcessingInfo
		if info == nil || info.State == "succeeded" {
			return true, 0, nil
		}
		if info.State == "failed" {
			message := "media processing failed"
			if info.Error != nil && info.Error.Message != "" {
				message = info.Error.Message
			}
			return false, 0, model.Errf(model.KindPlatformPermanent, "twitter rejected media: %s", message)
		}
		wait := info.CheckAfterSecs
		if wait <= 0 {
			wait = twitterCheckDefault
		}
		return false, time.Duration(wait) * time.Second, nil
	})
	if err != nil {
		return "", err
	}
	return mediaID, nil
}

func (a *twitterAdapter) appendChunk(ctx context.Context, signer oauth1Signer, mediaID string, segment int, chunk []byte) error {
	params := url.Values{
		"command":       {"APPEND"},
		"media_id":      {mediaID},
		"segment_index": {strconv.Itoa(segment)},
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", "chunk")
	if err != nil {
		return model.WrapError(model.KindInternal, err, "building media chunk")
	}
	if _, err := part.Write(chunk); err != nil {
		return model.WrapError(model.KindInternal, err, "building media chunk")
	}
	if err := writer.Close(); err != nil {
		return model.WrapError(model.KindInternal, err, "building media chunk")
	}

	endpoint := a.uploadBase + "/1.1/media/upload.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return model.WrapError(model.KindInternal, err, "building APPEND request")
	}
	// Multipart bodies stay out of the signature base string; only the query
	// parameters are signed.
	header, err := signer.authorizationHeader(http.MethodPost, endpoint, nil, oauthNonce(), time.Now())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = apiCall(a.http, req)
	return err
}

func (a *twitterAdapter) mediaCommand(ctx context.Context, signer oauth1Signer, method string, params url.Values, body io.Reader) (*twitterMediaResponse, error) {
	endpoint := a.uploadBase + "/1.1/media/upload.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "building media request")
	}
	header, err := signer.authorizationHeader(method, endpoint, nil, oauthNonce(), time.Now())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	raw, err := apiCall(a.http, req)
	if err != nil {
		return nil, err
	}
	resp := &twitterMediaResponse{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, model.WrapError(model.KindPlatformTransient, err,
				fmt.Sprintf("malformed media %s response", params.Get("command")))
		}
	}
	return resp, nil
}

func (a *twitterAdapter) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}
