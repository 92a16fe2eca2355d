package platform

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

type youtubeAdapter struct {
	http  *http.Client
	oauth *oauth2.Config
	store repository.IObjectStore

	// serviceOpts lets tests point the generated client at a fake server.
	serviceOpts []option.ClientOption
}

func newYouTubeAdapter(deps Deps) *youtubeAdapter {
	cfg := deps.Platforms.YouTube
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope}
	}
	return &youtubeAdapter{
		http:  deps.HTTP,
		store: deps.Store,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

func (a *youtubeAdapter) Platform() model.PlatformID { return model.PlatformYouTube }
func (a *youtubeAdapter) DisplayName() string        { return "YouTube" }

func (a *youtubeAdapter) Limits() model.MediaLimits {
	return model.MediaLimits{
		Containers:    []string{"mp4", "mov", "avi", "wmv", "flv", "webm"},
		MaxSizeBytes:  256 << 20,
		MaxDurationMS: 60_000, // shorts
		CaptionLimit:  5000,
	}
}

func (a *youtubeAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	if a.oauth.ClientID == "" || a.oauth.ClientSecret == "" {
		return nil, model.NewError(model.KindConfigMissing, "youtube client credentials are not configured")
	}
	// Offline access plus forced consent, or Google stops returning the
	// refresh token after the first grant.
	authURL := a.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	return &model.AuthRequest{URL: authURL}, nil
}

func (a *youtubeAdapter) ExchangeCode(ctx context.Context, code string, _ string) (*model.TokenBundle, error) {
	tok, err := a.oauth.Exchange(a.httpCtx(ctx), code)
	if err != nil {
		return nil, classifyOAuth2(err)
	}
	return a.bundleFrom(tok, ""), nil
}

func (a *youtubeAdapter) Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error) {
	source := a.oauth.TokenSource(a.httpCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := source.Token()
	if err != nil {
		return nil, classifyOAuth2(err)
	}
	return a.bundleFrom(tok, refreshToken), nil
}

// bundleFrom keeps the prior refresh token when the endpoint omits one;
// Google only issues it on the initial consent.
func (a *youtubeAdapter) bundleFrom(tok *oauth2.Token, priorRefresh string) *model.TokenBundle {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = priorRefresh
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().UTC().Add(time.Hour)
	}
	return &model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry.UTC(),
		Scopes:       a.oauth.Scopes,
	}
}

func (a *youtubeAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	service, err := a.service(ctx, accessToken)
	if err != nil {
		return "", "", err
	}
	resp, err := service.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return "", "", classifyGoogleAPI(err)
	}
	if len(resp.Items) == 0 {
		return "", "", model.NewError(model.KindPlatformPermanent, "no channel found for authenticated user")
	}
	channel := resp.Items[0]
	return channel.Id, channel.Snippet.Title, nil
}

// Publish uploads the video as a Short: snippet+status insert with the media
// streamed from the object store.
func (a *youtubeAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	service, err := a.service(ctx, auth.AccessToken)
	if err != nil {
		return nil, err
	}

	media, _, err := a.store.Open(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	defer media.Close()

	privacy := strings.ToLower(spec.Privacy)
	if privacy == "" {
		privacy = "public"
	}
	description := spec.CaptionWithTags()
	if !strings.Contains(description, "#Shorts") {
		description = strings.TrimSpace(description + "\n\n#Shorts")
	}
	title := spec.Caption
	if title == "" {
		title = video.Title
	}

	upload := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncateRunes(title, 100),
			Description: description,
			Tags:        spec.Tags,
			CategoryId:  categoryOrDefault(spec.CategoryID),
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			// omitempty would drop the false; the declaration must be sent.
			ForceSendFields: []string{"SelfDeclaredMadeForKids"},
		},
	}

	resp, err := service.Videos.Insert([]string{"snippet", "status"}, upload).
		Media(media).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyGoogleAPI(err)
	}
	return &model.PublishReceipt{
		PlatformPostID: resp.Id,
		PlatformURL:    "https://www.youtube.com/shorts/" + resp.Id,
	}, nil
}

// FetchStats implements the optional stats capability via the statistics part.
func (a *youtubeAdapter) FetchStats(ctx context.Context, auth model.PublishAuth, platformPostID string) (*model.StatSnapshot, error) {
	service, err := a.service(ctx, auth.AccessToken)
	if err != nil {
		return nil, err
	}
	resp, err := service.Videos.List([]string{"statistics"}).Id(platformPostID).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleAPI(err)
	}
	if len(resp.Items) == 0 {
		return nil, model.Errf(model.KindPlatformPermanent, "video %s no longer exists", platformPostID)
	}
	stats := resp.Items[0].Statistics
	snapshot := &model.StatSnapshot{
		Platform:       model.PlatformYouTube,
		PlatformPostID: platformPostID,
	}
	if stats != nil {
		snapshot.Views = int64(stats.ViewCount)
		snapshot.Likes = int64(stats.LikeCount)
		snapshot.Comments = int64(stats.CommentCount)
	}
	return snapshot, nil
}

func (a *youtubeAdapter) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(source)}, a.serviceOpts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "creating youtube service")
	}
	return service, nil
}

// httpCtx pins the oauth2 exchanges onto the shared HTTP client.
func (a *youtubeAdapter) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.http)
}

func categoryOrDefault(categoryID string) string {
	if categoryID == "" {
		return "22" // People & Blogs
	}
	return categoryID
}

func classifyGoogleAPI(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(gErr.Code, gErr.Header, []byte(gErr.Message))
	}
	return classifyTransport(err)
}
