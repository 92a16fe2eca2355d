package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsThroughChains(t *testing.T) {
	base := NewError(KindRateLimited, "quota exhausted")
	base.RetryAfter = 2 * time.Minute

	wrapped := fmt.Errorf("publish tiktok: %w", base)
	require.Equal(t, KindRateLimited, KindOf(wrapped))
	require.Equal(t, 2*time.Minute, RetryAfterHint(wrapped))
}

func TestKindOfDefaults(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	require.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(KindPlatformTransient, cause, "upload interrupted")
	require.ErrorIs(t, err, cause)
	require.Equal(t, "PLATFORM_TRANSIENT: upload interrupted", err.Error())
}

func TestTransientClassification(t *testing.T) {
	transient := []ErrorKind{
		KindAuthExpired, KindUploadProcessingTimeout, KindRateLimited,
		KindPlatformTransient, KindStorageUnavailable, KindTimeout, KindInternal,
	}
	for _, k := range transient {
		require.True(t, k.Transient(), "%s should retry", k)
	}
	permanent := []ErrorKind{
		KindValidation, KindAuthRevoked, KindAuthStateInvalid, KindInvalidGrant,
		KindConfigMissing, KindRepostCooldown, KindMediaUnsupported,
		KindPlatformPermanent, KindCryptoTamper,
	}
	for _, k := range permanent {
		require.False(t, k.Transient(), "%s should terminate", k)
	}
}

func TestMediaLimitsAccepts(t *testing.T) {
	limits := MediaLimits{
		Containers:    []string{"mp4", "mov"},
		MaxSizeBytes:  100,
		MaxDurationMS: 60_000,
		MinDurationMS: 3_000,
	}
	ok := &Video{Container: "MP4", SizeBytes: 100, DurationMS: 60_000}
	require.NoError(t, limits.Accepts(ok))

	for name, v := range map[string]*Video{
		"container": {Container: "webm", SizeBytes: 10, DurationMS: 5_000},
		"size":      {Container: "mp4", SizeBytes: 101, DurationMS: 5_000},
		"too long":  {Container: "mp4", SizeBytes: 10, DurationMS: 60_001},
		"too short": {Container: "mp4", SizeBytes: 10, DurationMS: 2_999},
	} {
		err := limits.Accepts(v)
		require.Error(t, err, name)
		require.Equal(t, KindMediaUnsupported, KindOf(err), name)
	}
}

func TestCaptionWithTags(t *testing.T) {
	spec := PostSpec{Caption: "hello", Tags: []string{"go", "#video", " "}}
	require.Equal(t, "hello\n\n#go #video", spec.CaptionWithTags())

	require.Equal(t, "hello", PostSpec{Caption: "hello"}.CaptionWithTags())
}
