package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// DispatcherDeps are the collaborators one dispatch worker needs.
type DispatcherDeps struct {
	Queue       repository.IJobQueue
	Posts       repository.IPostRepository
	Videos      repository.IVideoRepository
	Connections repository.IConnectionRepository
	Adapters    repository.IAdapterRegistry
	Tokens      ITokenUsecase
	Governor    IRepostGovernor
	Clock       repository.IClock
	// Sink and Notifier receive terminal transitions; both are optional.
	Sink     IEventSink
	Notifier repository.IOutcomeNotifier
}

// DispatcherSettings tune the worker pool. Zero values take the defaults the
// retry policy is specified with.
type DispatcherSettings struct {
	QueueName       string
	Workers         int
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Visibility      time.Duration
	PublishDeadline time.Duration
	IdleWait        time.Duration
}

func (s *DispatcherSettings) normalize() {
	if s.QueueName == "" {
		s.QueueName = "post-jobs"
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 5
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = 30 * time.Second
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = 15 * time.Minute
	}
	if s.PublishDeadline <= 0 {
		s.PublishDeadline = 30 * time.Minute
	}
	if s.IdleWait <= 0 {
		s.IdleWait = time.Second
	}
	// The claim must stay invisible for at least as long as a publish can
	// run, or a slow upload gets redelivered mid-flight.
	if s.Visibility < s.PublishDeadline+time.Minute {
		s.Visibility = s.PublishDeadline + time.Minute
	}
}

// IDispatcherUsecase consumes post jobs and drives each post through one
// publish attempt: claim, governor, connection, pre-flight, token, publish,
// outcome. Workers are stateless; the post row is the serialization anchor.
type IDispatcherUsecase interface {
	// Run processes jobs with the configured worker count until the context
	// is canceled.
	Run(ctx context.Context) error
	// ProcessOne claims and fully handles the next job. handled is false when
	// the queue was empty.
	ProcessOne(ctx context.Context) (handled bool, err error)
}

type dispatcherUsecase struct {
	deps     DispatcherDeps
	settings DispatcherSettings
	// jitter returns a sample in [0,1); swapped for a constant in tests.
	jitter func() float64
}

func NewDispatcherUsecase(deps DispatcherDeps, settings DispatcherSettings) IDispatcherUsecase {
	settings.normalize()
	return &dispatcherUsecase{
		deps:     deps,
		settings: settings,
		jitter:   rand.Float64,
	}
}

func (u *dispatcherUsecase) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < u.settings.Workers; w++ {
		worker := w
		g.Go(func() error {
			u.workerLoop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (u *dispatcherUsecase) workerLoop(ctx context.Context, worker int) {
	log := logger.WithComponent("dispatcher").WithField("worker", worker)
	log.Info("Dispatch worker started")
	for {
		handled, err := u.ProcessOne(ctx)
		if ctx.Err() != nil {
			log.Info("Dispatch worker stopped")
			return
		}
		if err != nil {
			log.WithField("error", err).Error("Job processing failed")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("Dispatch worker stopped")
			return
		case <-time.After(u.settings.IdleWait):
		}
	}
}

func (u *dispatcherUsecase) ProcessOne(ctx context.Context) (bool, error) {
	claimed, err := u.deps.Queue.Claim(ctx, u.settings.QueueName, u.settings.Visibility)
	if err != nil {
		return false, err
	}
	if claimed == nil {
		return false, nil
	}

	var job model.PostJob
	if err := json.Unmarshal(claimed.Payload, &job); err != nil {
		// Poison payload: retrying cannot fix it.
		_ = u.deps.Queue.Ack(ctx, u.settings.QueueName, claimed.Handle)
		return true, model.WrapError(model.KindInternal, err, "decoding post job")
	}

	post, ok, err := u.deps.Posts.ClaimForProcessing(ctx, job.PostID)
	if err != nil {
		_ = u.deps.Queue.Nack(ctx, u.settings.QueueName, claimed.Handle, u.settings.BaseDelay)
		return true, err
	}
	if !ok {
		// Terminal or unknown post: an at-least-once replay, drop it.
		_ = u.deps.Queue.Ack(ctx, u.settings.QueueName, claimed.Handle)
		return true, nil
	}

	started := u.deps.Clock.NowUTC()
	receipt, attemptErr := u.attempt(ctx, post)
	finished := u.deps.Clock.NowUTC()

	if attemptErr == nil {
		return true, u.succeed(ctx, claimed.Handle, post, receipt, started, finished)
	}
	return true, u.fail(ctx, claimed.Handle, post, attemptErr, started, finished)
}

// attempt runs the publish pipeline for one claimed post. Every returned
// error carries a kind; the caller routes retries from the kind alone.
func (u *dispatcherUsecase) attempt(ctx context.Context, post *model.Post) (*model.PublishReceipt, error) {
	// Governor first: a denial must not cost platform traffic. The POSTED
	// transition re-checks the same window inside its transaction.
	if err := u.deps.Governor.Check(ctx, post.UserID, string(post.Platform), post.VideoID); err != nil {
		return nil, err
	}

	conn, err := u.deps.Connections.GetActive(ctx, post.UserID, post.Platform)
	if err != nil {
		if model.KindOf(err) == model.KindConfigMissing {
			return nil, model.WrapError(model.KindAuthRevoked, err, "no active connection for platform")
		}
		return nil, err
	}

	video, err := u.deps.Videos.Get(ctx, post.VideoID)
	if err != nil {
		return nil, err
	}
	if video.Status != model.VideoReady {
		return nil, model.Errf(model.KindValidation, "video %s is not ready (status %s)", video.ID, video.Status)
	}

	adapter, err := u.deps.Adapters.ForPlatform(post.Platform)
	if err != nil {
		return nil, err
	}

	// Pre-flight before any network call.
	spec := post.Spec()
	if limit := adapter.Limits().CaptionLimit; limit > 0 && utf8.RuneCountInString(spec.CaptionWithTags()) > limit {
		return nil, model.Errf(model.KindValidation, "caption exceeds the %s limit of %d characters",
			adapter.DisplayName(), limit)
	}
	if err := adapter.Limits().Accepts(video); err != nil {
		return nil, err
	}

	appCred, err := u.deps.Tokens.AppAuth(post.Platform)
	if err != nil {
		return nil, err
	}
	token, err := u.deps.Tokens.AccessToken(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	pubCtx, cancel := context.WithTimeout(ctx, u.settings.PublishDeadline)
	defer cancel()

	receipt, err := adapter.Publish(pubCtx, model.PublishAuth{AccessToken: token, App: appCred}, video, spec)
	if err != nil && model.KindOf(err) == model.KindAuthExpired {
		// One forced refresh, then one more try within the same attempt.
		refreshed, refreshErr := u.deps.Tokens.ForceRefresh(ctx, conn.ID)
		if refreshErr != nil {
			return nil, refreshErr
		}
		receipt, err = adapter.Publish(pubCtx, model.PublishAuth{AccessToken: refreshed, App: appCred}, video, spec)
	}
	if err != nil {
		if errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
			return nil, model.WrapError(model.KindTimeout, err, "publish deadline exceeded")
		}
		return nil, err
	}
	return receipt, nil
}

func (u *dispatcherUsecase) succeed(ctx context.Context, handle string, post *model.Post, receipt *model.PublishReceipt, started, finished time.Time) error {
	outcome := model.PostOutcome{
		PostID:     post.ID,
		Attempt:    post.Attempts,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    model.OutcomeSuccess,
	}
	if err := u.deps.Posts.MarkPosted(ctx, post, *receipt, outcome); err != nil {
		if model.KindOf(err) == model.KindRepostCooldown {
			// Another worker recorded a success for the same triple while
			// this publish was in flight; the governed transition refused.
			return u.fail(ctx, handle, post, err, started, finished)
		}
		_ = u.deps.Queue.Nack(ctx, u.settings.QueueName, handle, u.settings.BaseDelay)
		return err
	}
	_ = u.deps.Queue.Ack(ctx, u.settings.QueueName, handle)
	logger.WithComponent("dispatcher").WithFields(map[string]interface{}{
		"post_id":          post.ID,
		"platform":         post.Platform,
		"attempt":          post.Attempts,
		"platform_post_id": receipt.PlatformPostID,
	}).Info("Post published")
	u.emit(ctx, post, model.PostPosted, "", receipt)
	return nil
}

func (u *dispatcherUsecase) fail(ctx context.Context, handle string, post *model.Post, attemptErr error, started, finished time.Time) error {
	kind := model.KindOf(attemptErr)
	message := attemptErr.Error()
	outcome := model.PostOutcome{
		PostID:     post.ID,
		Attempt:    post.Attempts,
		StartedAt:  started,
		FinishedAt: finished,
		ErrorKind:  kind,
		Detail:     message,
	}
	log := logger.WithComponent("dispatcher").WithFields(map[string]interface{}{
		"post_id":    post.ID,
		"platform":   post.Platform,
		"attempt":    post.Attempts,
		"error_kind": kind,
	})

	if kind.Transient() && post.Attempts < u.settings.MaxAttempts {
		outcome.Outcome = model.OutcomeTransientFail
		if err := u.deps.Posts.RecordTransient(ctx, post.ID, kind, message, outcome); err != nil {
			_ = u.deps.Queue.Nack(ctx, u.settings.QueueName, handle, u.settings.BaseDelay)
			return err
		}
		delay := u.backoff(post.Attempts, model.RetryAfterHint(attemptErr))
		if err := u.deps.Queue.Nack(ctx, u.settings.QueueName, handle, delay); err != nil {
			return err
		}
		log.WithField("retry_in", delay.String()).Warn("Attempt failed; retrying")
		return nil
	}

	// Permanent kind, or the attempt budget ran out on a transient one. The
	// outcome row still classifies the attempt itself.
	if kind.Transient() {
		outcome.Outcome = model.OutcomeTransientFail
	} else {
		outcome.Outcome = model.OutcomePermanentFail
	}
	if err := u.deps.Posts.MarkFailed(ctx, post.ID, kind, message, outcome); err != nil {
		_ = u.deps.Queue.Nack(ctx, u.settings.QueueName, handle, u.settings.BaseDelay)
		return err
	}
	_ = u.deps.Queue.Ack(ctx, u.settings.QueueName, handle)
	log.Warn("Post failed terminally")
	u.emit(ctx, post, model.PostFailed, kind, nil)
	return nil
}

// backoff computes min(cap, base·2^(attempt−1)) with full jitter in [0.5,1.5),
// then yields to a larger platform retry-after hint.
func (u *dispatcherUsecase) backoff(attempt int, hint time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := u.settings.BaseDelay
	for i := 1; i < attempt && delay < u.settings.MaxDelay; i++ {
		delay *= 2
	}
	if delay > u.settings.MaxDelay {
		delay = u.settings.MaxDelay
	}
	delay = time.Duration(float64(delay) * (0.5 + u.jitter()))
	if hint > delay {
		delay = hint
	}
	return delay
}

func (u *dispatcherUsecase) emit(ctx context.Context, post *model.Post, status model.PostStatus, kind model.ErrorKind, receipt *model.PublishReceipt) {
	event := model.PostEvent{
		PostID:      post.ID,
		MultiPostID: post.MultiPostID,
		UserID:      post.UserID,
		VideoID:     post.VideoID,
		Platform:    post.Platform,
		Status:      status,
		ErrorKind:   kind,
		At:          u.deps.Clock.NowUTC(),
	}
	if receipt != nil {
		event.PlatformPostID = receipt.PlatformPostID
		event.PlatformURL = receipt.PlatformURL
	}
	if u.deps.Sink != nil {
		u.deps.Sink.Broadcast(event)
	}
	if u.deps.Notifier != nil {
		if err := u.deps.Notifier.Publish(ctx, event); err != nil {
			logger.WithComponent("dispatcher").WithField("error", err).Warn("Outcome notification failed")
		}
	}
}
