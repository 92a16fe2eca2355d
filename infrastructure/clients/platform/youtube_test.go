package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"crosspost/domain/model"
	"crosspost/infrastructure/configuration"
)

func newTestYouTube(t *testing.T, mux *http.ServeMux) *youtubeAdapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	adapter := newYouTubeAdapter(Deps{
		HTTP: srv.Client(),
		Platforms: configuration.Platforms{
			YouTube: configuration.OAuthClient{
				ClientID:     "yt-client",
				ClientSecret: "yt-secret",
				RedirectURI:  "https://app.test/callback",
			},
		},
		Store: &fakeStore{content: []byte("shorts-bytes")},
	})
	adapter.serviceOpts = []option.ClientOption{option.WithEndpoint(srv.URL)}
	return adapter
}

func TestYouTubeBuildAuthorizationURLRequestsOfflineAccess(t *testing.T) {
	adapter := newTestYouTube(t, http.NewServeMux())

	auth, err := adapter.BuildAuthorizationURL("state-7")
	require.NoError(t, err)
	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-7", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "youtube.upload")
}

func TestYouTubeBundleKeepsPriorRefreshToken(t *testing.T) {
	adapter := &youtubeAdapter{oauth: &oauth2.Config{Scopes: []string{"s"}}}

	bundle := adapter.bundleFrom(&oauth2.Token{AccessToken: "at-2"}, "rt-prior")
	assert.Equal(t, "rt-prior", bundle.RefreshToken)
	// Zero expiry gets a conservative default instead of an already-stale one.
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), bundle.ExpiresAt, time.Minute)

	bundle = adapter.bundleFrom(&oauth2.Token{AccessToken: "at-3", RefreshToken: "rt-new"}, "rt-prior")
	assert.Equal(t, "rt-new", bundle.RefreshToken)
}

func TestClassifyGoogleAPI(t *testing.T) {
	forbidden := &googleapi.Error{Code: http.StatusForbidden, Message: "quotaExceeded"}
	require.Equal(t, model.KindAuthRevoked, model.KindOf(classifyGoogleAPI(forbidden)))

	wrapped := fmt.Errorf("videos.insert: %w",
		&googleapi.Error{Code: http.StatusInternalServerError, Message: "backendError"})
	require.Equal(t, model.KindPlatformTransient, model.KindOf(classifyGoogleAPI(wrapped)))

	require.Equal(t, model.KindTimeout, model.KindOf(classifyGoogleAPI(context.DeadlineExceeded)))
}

func TestYouTubeFetchIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("mine"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"chan-1","snippet":{"title":"Creator Channel"}}]}`))
	})
	adapter := newTestYouTube(t, mux)

	accountID, displayName, err := adapter.FetchIdentity(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", accountID)
	assert.Equal(t, "Creator Channel", displayName)
}

func TestYouTubePublishUploadsShort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		payload := string(body)
		// Metadata part carries the Shorts-tagged description and the media
		// part the raw bytes.
		assert.Contains(t, payload, "#Shorts")
		assert.Contains(t, payload, `"privacyStatus":"public"`)
		assert.Contains(t, payload, "shorts-bytes")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"yt-55"}`))
	})
	adapter := newTestYouTube(t, mux)

	receipt, err := adapter.Publish(context.Background(),
		model.PublishAuth{AccessToken: "user-token"}, testVideo(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "yt-55", receipt.PlatformPostID)
	assert.Equal(t, "https://www.youtube.com/shorts/yt-55", receipt.PlatformURL)
}

func TestYouTubeFetchStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yt-55", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"statistics":{"viewCount":"1200","likeCount":"34","commentCount":"5"}}]}`))
	})
	adapter := newTestYouTube(t, mux)

	snapshot, err := adapter.FetchStats(context.Background(),
		model.PublishAuth{AccessToken: "user-token"}, "yt-55")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), snapshot.Views)
	assert.Equal(t, int64(34), snapshot.Likes)
	assert.Equal(t, int64(5), snapshot.Comments)
	assert.Equal(t, model.PlatformYouTube, snapshot.Platform)
}

func TestYouTubeFetchStatsMissingVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	adapter := newTestYouTube(t, mux)

	_, err := adapter.FetchStats(context.Background(),
		model.PublishAuth{AccessToken: "user-token"}, "gone-1")
	require.Equal(t, model.KindPlatformPermanent, model.KindOf(err))
}

// Descriptions that already carry the Shorts tag must not get a second one.
func TestYouTubeDescriptionTagging(t *testing.T) {
	mux := http.NewServeMux()
	var gotBody string
	mux.HandleFunc("/upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"yt-56"}`))
	})
	adapter := newTestYouTube(t, mux)

	spec := model.PostSpec{Caption: "Big reveal", Tags: []string{"Shorts"}}
	_, err := adapter.Publish(context.Background(),
		model.PublishAuth{AccessToken: "user-token"}, testVideo(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(gotBody, "#Shorts"))
}
