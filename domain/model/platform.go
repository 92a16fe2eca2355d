package model

import "strings"

// PlatformID identifies a supported publishing platform. The set is closed:
// adapter selection switches over it and no other component branches on
// platform identity.
type PlatformID string

const (
	PlatformTikTok    PlatformID = "TIKTOK"
	PlatformYouTube   PlatformID = "YOUTUBE"
	PlatformTwitter   PlatformID = "TWITTER"
	PlatformInstagram PlatformID = "INSTAGRAM"
	PlatformFacebook  PlatformID = "FACEBOOK"
)

// AllPlatforms returns the supported platforms in a stable order.
func AllPlatforms() []PlatformID {
	return []PlatformID{
		PlatformTikTok,
		PlatformYouTube,
		PlatformTwitter,
		PlatformInstagram,
		PlatformFacebook,
	}
}

// ParsePlatform normalizes an inbound platform name to its canonical
// uppercase identifier. Names are accepted case-insensitively at the API
// boundary; unknown names are a VALIDATION failure.
func ParsePlatform(name string) (PlatformID, error) {
	p := PlatformID(strings.ToUpper(strings.TrimSpace(name)))
	switch p {
	case PlatformTikTok, PlatformYouTube, PlatformTwitter, PlatformInstagram, PlatformFacebook:
		return p, nil
	}
	return "", Errf(KindValidation, "unknown platform %q", name)
}

func (p PlatformID) String() string {
	return string(p)
}
