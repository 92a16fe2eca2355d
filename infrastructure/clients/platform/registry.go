package platform

import (
	"net/http"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
)

// Deps are the shared dependencies every adapter draws on.
type Deps struct {
	HTTP      *http.Client
	Store     repository.IObjectStore
	Platforms configuration.Platforms
	// DownloadTTL bounds presigned media URLs handed to pull-based platforms.
	DownloadTTL time.Duration
}

// Registry holds one adapter per supported platform. Lookup is a closed
// switch; adding a platform means adding a case here and nowhere else.
type Registry struct {
	tiktok    repository.IPlatformAdapter
	youtube   repository.IPlatformAdapter
	twitter   repository.IPlatformAdapter
	instagram repository.IPlatformAdapter
	facebook  repository.IPlatformAdapter
}

func NewRegistry(deps Deps) repository.IAdapterRegistry {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 2 * time.Minute}
	}
	if deps.DownloadTTL <= 0 {
		deps.DownloadTTL = time.Hour
	}
	return &Registry{
		tiktok:    newTikTokAdapter(deps),
		youtube:   newYouTubeAdapter(deps),
		twitter:   newTwitterAdapter(deps),
		instagram: newInstagramAdapter(deps),
		facebook:  newFacebookAdapter(deps),
	}
}

func (r *Registry) ForPlatform(p model.PlatformID) (repository.IPlatformAdapter, error) {
	switch p {
	case model.PlatformTikTok:
		return r.tiktok, nil
	case model.PlatformYouTube:
		return r.youtube, nil
	case model.PlatformTwitter:
		return r.twitter, nil
	case model.PlatformInstagram:
		return r.instagram, nil
	case model.PlatformFacebook:
		return r.facebook, nil
	}
	return nil, model.Errf(model.KindValidation, "unknown platform %q", p)
}

func (r *Registry) All() []repository.IPlatformAdapter {
	return []repository.IPlatformAdapter{r.tiktok, r.youtube, r.twitter, r.instagram, r.facebook}
}
