package platform

import (
	"bytes"
	"context"
	"io"
	"time"

	"crosspost/domain/model"
)

// fakeStore satisfies the object store port with in-memory content so adapter
// tests never touch S3.
type fakeStore struct {
	content []byte
	opened  []string
}

func (f *fakeStore) PresignUpload(_ context.Context, key string, _ string, _ time.Duration) (string, error) {
	return "https://store.test/upload/" + key, nil
}

func (f *fakeStore) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://store.test/dl/" + key, nil
}

func (f *fakeStore) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f.opened = append(f.opened, key)
	return io.NopCloser(bytes.NewReader(f.content)), int64(len(f.content)), nil
}

func (f *fakeStore) Size(context.Context, string) (int64, error) {
	return int64(len(f.content)), nil
}

func (f *fakeStore) Delete(context.Context, string) error { return nil }

// quickPoll keeps processing waits in the microsecond range so flows that
// poll finish instantly under test.
var quickPoll = poller{
	initial: time.Millisecond,
	max:     2 * time.Millisecond,
	budget:  2 * time.Second,
}

func testVideo() *model.Video {
	return &model.Video{
		ID:         "vid-1",
		UserID:     "user-1",
		Title:      "Launch teaser",
		StorageKey: "videos/user-1/vid-1.mp4",
		Container:  "mp4",
		DurationMS: 42_000,
		SizeBytes:  10,
		Status:     model.VideoReady,
	}
}

func testSpec() model.PostSpec {
	return model.PostSpec{
		Caption: "Big announcement",
		Tags:    []string{"launch"},
	}
}
