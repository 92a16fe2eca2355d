package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePlatformNormalizesCase(t *testing.T) {
	cases := map[string]PlatformID{
		"tiktok":    PlatformTikTok,
		"TikTok":    PlatformTikTok,
		"YOUTUBE":   PlatformYouTube,
		"youtube":   PlatformYouTube,
		"Twitter":   PlatformTwitter,
		"instagram": PlatformInstagram,
		" facebook ": PlatformFacebook,
	}
	for in, want := range cases {
		got, err := ParsePlatform(in)
		require.NoError(t, err, "input %q", in)
		require.Equal(t, want, got)
	}
}

func TestParsePlatformRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "myspace", "you tube", "tiktok2"} {
		_, err := ParsePlatform(in)
		require.Error(t, err)
		require.Equal(t, KindValidation, KindOf(err))
	}
}
