package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// In-memory fakes for the repository ports. They mirror the error kinds and
// transition rules of the real implementations so the usecases under test see
// the same contract.

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at.UTC()}
}

func (c *fakeClock) NowUTC() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

// --- posts ---

type fakePostRepo struct {
	mu         sync.Mutex
	posts      map[string]*model.Post
	multi      map[string]*model.MultiPost
	outcomes   map[string][]model.PostOutcome
	lastPosted map[string]time.Time
	// cooldown re-arms the transactional window check in MarkPosted when set.
	cooldown      time.Duration
	createErr     error
	markPostedErr error
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{
		posts:      map[string]*model.Post{},
		multi:      map[string]*model.MultiPost{},
		outcomes:   map[string][]model.PostOutcome{},
		lastPosted: map[string]time.Time{},
	}
}

func tripleKey(userID string, platform model.PlatformID, videoID string) string {
	return userID + "|" + string(platform) + "|" + videoID
}

func (r *fakePostRepo) CreateMultiPost(ctx context.Context, mp *model.MultiPost, posts []model.Post, enqueue repository.EnqueueJobsFunc) error {
	if r.createErr != nil {
		return r.createErr
	}
	jobs := make([]model.PostJob, 0, len(posts))
	for i := range posts {
		jobs = append(jobs, model.PostJob{
			PostID:      posts[i].ID,
			MultiPostID: mp.ID,
			UserID:      posts[i].UserID,
			VideoID:     posts[i].VideoID,
			Platform:    posts[i].Platform,
			EnqueuedAt:  mp.CreatedAt,
		})
	}
	if enqueue != nil {
		if err := enqueue(ctx, jobs); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.multi[mp.ID] = mp
	for i := range posts {
		p := posts[i]
		r.posts[p.ID] = &p
	}
	return nil
}

func (r *fakePostRepo) Get(ctx context.Context, id string) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, model.Errf(model.KindValidation, "post %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (r *fakePostRepo) GetForUser(ctx context.Context, id string, userID string) (*model.Post, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, model.Errf(model.KindValidation, "post %s not found", id)
	}
	return p, nil
}

func (r *fakePostRepo) List(ctx context.Context, filter repository.PostFilter) ([]model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Post
	for _, p := range r.posts {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if filter.VideoID != "" && p.VideoID != filter.VideoID {
			continue
		}
		if filter.Platform != "" && p.Platform != filter.Platform {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p)
	}
	// The sequential test ids sort in creation order.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakePostRepo) ClaimForProcessing(ctx context.Context, id string) (*model.Post, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.Status.Terminal() {
		return nil, false, nil
	}
	p.Status = model.PostProcessing
	p.Attempts++
	cp := *p
	return &cp, true, nil
}

func (r *fakePostRepo) MarkPosted(ctx context.Context, post *model.Post, receipt model.PublishReceipt, outcome model.PostOutcome) error {
	if r.markPostedErr != nil {
		return r.markPostedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooldown > 0 {
		key := tripleKey(post.UserID, post.Platform, post.VideoID)
		if last, ok := r.lastPosted[key]; ok && outcome.FinishedAt.Before(last.Add(r.cooldown)) {
			return model.Errf(model.KindRepostCooldown, "video was posted to %s within the cooldown window", post.Platform)
		}
	}
	p, ok := r.posts[post.ID]
	if !ok {
		return model.Errf(model.KindValidation, "post %s not found", post.ID)
	}
	p.Status = model.PostPosted
	p.PlatformPostID = receipt.PlatformPostID
	p.PlatformURL = receipt.PlatformURL
	at := outcome.FinishedAt
	p.PostedAt = &at
	r.lastPosted[tripleKey(p.UserID, p.Platform, p.VideoID)] = at
	r.outcomes[post.ID] = append(r.outcomes[post.ID], outcome)
	return nil
}

func (r *fakePostRepo) MarkFailed(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return model.Errf(model.KindValidation, "post %s not found", id)
	}
	p.Status = model.PostFailed
	p.LastErrorKind = kind
	p.LastErrorMessage = message
	r.outcomes[id] = append(r.outcomes[id], outcome)
	return nil
}

func (r *fakePostRepo) RecordTransient(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return model.Errf(model.KindValidation, "post %s not found", id)
	}
	p.LastErrorKind = kind
	p.LastErrorMessage = message
	r.outcomes[id] = append(r.outcomes[id], outcome)
	return nil
}

func (r *fakePostRepo) Cancel(ctx context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.UserID != userID {
		return model.Errf(model.KindValidation, "post %s not found", id)
	}
	if p.Status != model.PostPending {
		return model.Errf(model.KindValidation, "post %s is %s; only pending posts can be canceled", id, p.Status)
	}
	p.Status = model.PostCanceled
	return nil
}

func (r *fakePostRepo) LastPostedAt(ctx context.Context, userID string, platform model.PlatformID, videoID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.lastPosted[tripleKey(userID, platform, videoID)]; ok {
		cp := at
		return &cp, nil
	}
	return nil, nil
}

func (r *fakePostRepo) ListPostedSince(ctx context.Context, since time.Time, limit int) ([]model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Post
	for _, p := range r.posts {
		if p.Status == model.PostPosted && p.PostedAt != nil && p.PostedAt.After(since) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakePostRepo) ListOutcomes(ctx context.Context, postID string) ([]model.PostOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PostOutcome(nil), r.outcomes[postID]...), nil
}

func (r *fakePostRepo) get(id string) model.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.posts[id]
}

func (r *fakePostRepo) add(p model.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.posts[p.ID] = &cp
}

// --- videos ---

type fakeVideoRepo struct {
	mu     sync.Mutex
	videos map[string]*model.Video
}

func newFakeVideoRepo() *fakeVideoRepo {
	return &fakeVideoRepo{videos: map[string]*model.Video{}}
}

func (r *fakeVideoRepo) Create(ctx context.Context, video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *video
	r.videos[video.ID] = &cp
	return nil
}

func (r *fakeVideoRepo) Get(ctx context.Context, id string) (*model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, model.Errf(model.KindValidation, "video %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (r *fakeVideoRepo) GetForUser(ctx context.Context, id string, userID string) (*model.Video, error) {
	v, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.UserID != userID {
		return nil, model.Errf(model.KindValidation, "video %s not found", id)
	}
	return v, nil
}

func (r *fakeVideoRepo) List(ctx context.Context, userID string, limit int, offset int) ([]model.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Video
	for _, v := range r.videos {
		if v.UserID == userID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *fakeVideoRepo) Update(ctx context.Context, video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[video.ID]; !ok {
		return model.Errf(model.KindValidation, "video %s not found", video.ID)
	}
	cp := *video
	r.videos[video.ID] = &cp
	return nil
}

func (r *fakeVideoRepo) Delete(ctx context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok || v.UserID != userID {
		return model.Errf(model.KindValidation, "video %s not found", id)
	}
	delete(r.videos, id)
	return nil
}

// --- connections ---

type fakeConnectionRepo struct {
	mu          sync.Mutex
	conns       map[string]*model.PlatformConnection
	updateCalls int
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{conns: map[string]*model.PlatformConnection{}}
}

func (r *fakeConnectionRepo) Upsert(ctx context.Context, conn *model.PlatformConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *conn
	r.conns[conn.ID] = &cp
	return nil
}

func (r *fakeConnectionRepo) Get(ctx context.Context, id string) (*model.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, model.Errf(model.KindValidation, "connection %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConnectionRepo) GetActive(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *model.PlatformConnection
	for _, c := range r.conns {
		if c.UserID == userID && c.Platform == platform && c.Active {
			if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
				newest = c
			}
		}
	}
	if newest == nil {
		return nil, model.Errf(model.KindConfigMissing, "no active %s connection for user", platform)
	}
	cp := *newest
	return &cp, nil
}

func (r *fakeConnectionRepo) ListForUser(ctx context.Context, userID string) ([]model.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.PlatformConnection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) UpdateTokens(ctx context.Context, id string, bundle model.TokenBundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return model.Errf(model.KindValidation, "connection %s not found", id)
	}
	c.AccessToken = bundle.AccessToken
	c.RefreshToken = bundle.RefreshToken
	c.TokenExpiresAt = bundle.ExpiresAt
	if len(bundle.Scopes) > 0 {
		c.Scopes = bundle.Scopes
	}
	c.UpdatedAt = c.UpdatedAt.Add(time.Second)
	r.updateCalls++
	return nil
}

func (r *fakeConnectionRepo) MarkInactive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Active = false
	}
	return nil
}

func (r *fakeConnectionRepo) Deactivate(ctx context.Context, userID string, platform model.PlatformID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.conns {
		if c.UserID == userID && c.Platform == platform && c.Active {
			c.Active = false
			n++
		}
	}
	return n, nil
}

func (r *fakeConnectionRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]model.PlatformConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.PlatformConnection
	for _, c := range r.conns {
		if c.Active && c.RefreshToken != "" && c.TokenExpiresAt.Before(before) {
			out = append(out, *c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- schedules ---

type fakeScheduleRepo struct {
	mu        sync.Mutex
	oneShots  map[string]*model.Schedule
	recurring map[string]*model.RecurringSchedule
	posts     *fakePostRepo
}

func newFakeScheduleRepo(posts *fakePostRepo) *fakeScheduleRepo {
	return &fakeScheduleRepo{
		oneShots:  map[string]*model.Schedule{},
		recurring: map[string]*model.RecurringSchedule{},
		posts:     posts,
	}
}

func (r *fakeScheduleRepo) Create(ctx context.Context, s *model.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.oneShots[s.ID] = &cp
	return nil
}

func (r *fakeScheduleRepo) CreateRecurring(ctx context.Context, rs *model.RecurringSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rs
	r.recurring[rs.ID] = &cp
	return nil
}

func (r *fakeScheduleRepo) Get(ctx context.Context, id string, userID string) (*model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.oneShots[id]
	if !ok || s.UserID != userID {
		return nil, model.Errf(model.KindValidation, "schedule %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeScheduleRepo) GetRecurring(ctx context.Context, id string, userID string) (*model.RecurringSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.recurring[id]
	if !ok || rs.UserID != userID {
		return nil, model.Errf(model.KindValidation, "recurring schedule %s not found", id)
	}
	cp := *rs
	return &cp, nil
}

func (r *fakeScheduleRepo) List(ctx context.Context, userID string, limit int, offset int) ([]model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Schedule
	for _, s := range r.oneShots {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) ListRecurring(ctx context.Context, userID string, limit int, offset int) ([]model.RecurringSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RecurringSchedule
	for _, rs := range r.recurring {
		if rs.UserID == userID {
			out = append(out, *rs)
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) DueOneShot(ctx context.Context, horizon time.Time, limit int) ([]model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Schedule
	for _, s := range r.oneShots {
		if s.State == model.SchedulePending && !s.ScheduledAt.After(horizon) {
			out = append(out, *s)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) DueRecurring(ctx context.Context, horizon time.Time, limit int) ([]model.RecurringSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RecurringSchedule
	for _, rs := range r.recurring {
		if rs.State == model.RecurringActive && !rs.NextOccurrence.After(horizon) {
			out = append(out, *rs)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeScheduleRepo) FireOneShot(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, enqueue repository.EnqueueJobsFunc) (bool, error) {
	r.mu.Lock()
	s, ok := r.oneShots[scheduleID]
	if !ok || s.State != model.SchedulePending {
		r.mu.Unlock()
		return false, nil
	}
	s.State = model.ScheduleFired
	s.MultiPostID = mp.ID
	at := mp.CreatedAt
	s.FiredAt = &at
	r.mu.Unlock()
	return true, r.posts.CreateMultiPost(ctx, mp, posts, enqueue)
}

func (r *fakeScheduleRepo) FireRecurring(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, nextOccurrence time.Time, nextCursor int, enqueue repository.EnqueueJobsFunc) (bool, error) {
	r.mu.Lock()
	rs, ok := r.recurring[scheduleID]
	if !ok || rs.State != model.RecurringActive {
		r.mu.Unlock()
		return false, nil
	}
	rs.NextOccurrence = nextOccurrence
	rs.VariantCursor = nextCursor
	at := mp.CreatedAt
	rs.LastFiredAt = &at
	r.mu.Unlock()
	return true, r.posts.CreateMultiPost(ctx, mp, posts, enqueue)
}

func (r *fakeScheduleRepo) Cancel(ctx context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.oneShots[id]
	if !ok || s.UserID != userID {
		return model.Errf(model.KindValidation, "schedule %s not found", id)
	}
	if s.State != model.SchedulePending {
		return model.Errf(model.KindValidation, "schedule %s is %s", id, s.State)
	}
	s.State = model.ScheduleCanceled
	return nil
}

func (r *fakeScheduleRepo) PauseRecurring(ctx context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.recurring[id]
	if !ok || rs.UserID != userID {
		return model.Errf(model.KindValidation, "recurring schedule %s not found", id)
	}
	rs.State = model.RecurringPaused
	return nil
}

func (r *fakeScheduleRepo) ResumeRecurring(ctx context.Context, id string, userID string, nextOccurrence time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.recurring[id]
	if !ok || rs.UserID != userID {
		return model.Errf(model.KindValidation, "recurring schedule %s not found", id)
	}
	rs.State = model.RecurringActive
	rs.NextOccurrence = nextOccurrence
	return nil
}

func (r *fakeScheduleRepo) CancelRecurring(ctx context.Context, id string, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.recurring[id]
	if !ok || rs.UserID != userID {
		return model.Errf(model.KindValidation, "recurring schedule %s not found", id)
	}
	rs.State = model.RecurringCanceled
	return nil
}

// --- job queue ---

type fakeQueue struct {
	mu         sync.Mutex
	ready      []fakeQueueEntry
	claimed    map[string][]byte
	dedup      map[string]bool
	acked      []string
	nackDelays []time.Duration
	seq        int
	enqueueErr error
	// dedupSkipped counts enqueues suppressed by a seen DedupKey.
	dedupSkipped int
}

type fakeQueueEntry struct {
	handle  string
	payload []byte
	delay   time.Duration
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{claimed: map[string][]byte{}, dedup: map[string]bool{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, queue string, payload []byte, opts repository.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	if opts.DedupKey != "" {
		if q.dedup[opts.DedupKey] {
			q.dedupSkipped++
			return nil
		}
		q.dedup[opts.DedupKey] = true
	}
	q.seq++
	q.ready = append(q.ready, fakeQueueEntry{
		handle:  fmt.Sprintf("h-%04d", q.seq),
		payload: payload,
		delay:   opts.Delay,
	})
	return nil
}

func (q *fakeQueue) Claim(ctx context.Context, queue string, visibility time.Duration) (*repository.ClaimedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil
	}
	e := q.ready[0]
	q.ready = q.ready[1:]
	q.claimed[e.handle] = e.payload
	return &repository.ClaimedJob{Handle: e.handle, Payload: e.payload}, nil
}

func (q *fakeQueue) Ack(ctx context.Context, queue string, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claimed, handle)
	q.acked = append(q.acked, handle)
	return nil
}

func (q *fakeQueue) Nack(ctx context.Context, queue string, handle string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	payload, ok := q.claimed[handle]
	if !ok {
		return model.Errf(model.KindInternal, "unknown handle %s", handle)
	}
	delete(q.claimed, handle)
	q.nackDelays = append(q.nackDelays, delay)
	q.ready = append(q.ready, fakeQueueEntry{handle: handle, payload: payload, delay: delay})
	return nil
}

func (q *fakeQueue) readyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// --- adapters ---

type fakeAdapter struct {
	mu       sync.Mutex
	platform model.PlatformID
	limits   model.MediaLimits

	authURL  string
	verifier string

	exchangeBundle *model.TokenBundle
	exchangeErr    error
	refreshBundle  *model.TokenBundle
	refreshErr     error
	refreshDelay   time.Duration
	refreshCalls   int
	identityID     string
	identityName   string

	publishFn    func(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error)
	publishCalls int
	publishAuths []model.PublishAuth
}

func newFakeAdapter(p model.PlatformID) *fakeAdapter {
	return &fakeAdapter{
		platform: p,
		limits: model.MediaLimits{
			Containers:   []string{"mp4", "mov", "webm"},
			MaxSizeBytes: 4 << 30,
			CaptionLimit: 2200,
		},
		authURL:      "https://auth.example.test/authorize",
		identityID:   "acct-1",
		identityName: "Test Account",
	}
}

func (a *fakeAdapter) Platform() model.PlatformID { return a.platform }

func (a *fakeAdapter) DisplayName() string { return string(a.platform) }

func (a *fakeAdapter) BuildAuthorizationURL(state string) (*model.AuthRequest, error) {
	return &model.AuthRequest{
		URL:          a.authURL + "?state=" + state,
		CodeVerifier: a.verifier,
	}, nil
}

func (a *fakeAdapter) ExchangeCode(ctx context.Context, code string, verifier string) (*model.TokenBundle, error) {
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	if a.exchangeBundle != nil {
		return a.exchangeBundle, nil
	}
	return &model.TokenBundle{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
}

func (a *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*model.TokenBundle, error) {
	a.mu.Lock()
	a.refreshCalls++
	a.mu.Unlock()
	if a.refreshDelay > 0 {
		time.Sleep(a.refreshDelay)
	}
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	if a.refreshBundle != nil {
		return a.refreshBundle, nil
	}
	return &model.TokenBundle{AccessToken: "refreshed-token", ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
}

func (a *fakeAdapter) FetchIdentity(ctx context.Context, accessToken string) (string, string, error) {
	return a.identityID, a.identityName, nil
}

func (a *fakeAdapter) Publish(ctx context.Context, auth model.PublishAuth, video *model.Video, spec model.PostSpec) (*model.PublishReceipt, error) {
	a.mu.Lock()
	a.publishCalls++
	a.publishAuths = append(a.publishAuths, auth)
	fn := a.publishFn
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, auth, video, spec)
	}
	return &model.PublishReceipt{PlatformPostID: "pp-1", PlatformURL: "https://example.test/pp-1"}, nil
}

func (a *fakeAdapter) Limits() model.MediaLimits { return a.limits }

func (a *fakeAdapter) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *fakeAdapter) publishCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishCalls
}

// fakeStatsAdapter adds the stats surface for analytics tests.
type fakeStatsAdapter struct {
	*fakeAdapter
	stats    *model.StatSnapshot
	statsErr error
}

func (a *fakeStatsAdapter) FetchStats(ctx context.Context, auth model.PublishAuth, platformPostID string) (*model.StatSnapshot, error) {
	if a.statsErr != nil {
		return nil, a.statsErr
	}
	cp := *a.stats
	return &cp, nil
}

type fakeRegistry struct {
	adapters map[model.PlatformID]repository.IPlatformAdapter
}

func newFakeRegistry(adapters ...repository.IPlatformAdapter) *fakeRegistry {
	r := &fakeRegistry{adapters: map[model.PlatformID]repository.IPlatformAdapter{}}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *fakeRegistry) ForPlatform(p model.PlatformID) (repository.IPlatformAdapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, model.Errf(model.KindValidation, "unknown platform %q", p)
	}
	return a, nil
}

func (r *fakeRegistry) All() []repository.IPlatformAdapter {
	out := make([]repository.IPlatformAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// --- events, notifier, store, analytics ---

type fakeSink struct {
	mu     sync.Mutex
	events []model.PostEvent
}

func (s *fakeSink) Broadcast(event model.PostEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) all() []model.PostEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PostEvent(nil), s.events...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.PostEvent
	err    error
}

func (n *fakeNotifier) Publish(ctx context.Context, event model.PostEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	sizes   map[string]int64
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{sizes: map[string]int64{}}
}

func (s *fakeStore) PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	return "https://store.test/upload/" + key, nil
}

func (s *fakeStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.test/download/" + key, nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[key]
	if !ok {
		return nil, 0, model.Errf(model.KindValidation, "object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(make([]byte, int(size)))), size, nil
}

func (s *fakeStore) Size(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[key]
	if !ok {
		return 0, model.Errf(model.KindValidation, "object %s not found", key)
	}
	return size, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sizes, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeAnalyticsRepo struct {
	mu    sync.Mutex
	snaps []model.StatSnapshot
}

func (r *fakeAnalyticsRepo) Insert(ctx context.Context, snap model.StatSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *fakeAnalyticsRepo) ListForVideo(ctx context.Context, videoID string, limit int) ([]model.StatSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StatSnapshot
	for _, s := range r.snaps {
		if s.VideoID == videoID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeAnalyticsRepo) ListForPost(ctx context.Context, postID string, limit int) ([]model.StatSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StatSnapshot
	for _, s := range r.snaps {
		if s.PostID == postID {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- builders ---

func readyTestVideo(id string, userID string) *model.Video {
	return &model.Video{
		ID:         id,
		UserID:     userID,
		Title:      "clip",
		StorageKey: "videos/" + userID + "/" + id + ".mp4",
		Container:  "mp4",
		SizeBytes:  1 << 20,
		DurationMS: 30_000,
		Status:     model.VideoReady,
		Caption:    "default caption",
		Tags:       []string{"go"},
	}
}

func activeTestConnection(id string, userID string, platform model.PlatformID, expiresAt time.Time) *model.PlatformConnection {
	return &model.PlatformConnection{
		ID:             id,
		UserID:         userID,
		Platform:       platform,
		AccountID:      "acct-1",
		DisplayName:    "Test Account",
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: expiresAt,
		Active:         true,
		CreatedAt:      expiresAt.Add(-24 * time.Hour),
		UpdatedAt:      expiresAt.Add(-24 * time.Hour),
	}
}
