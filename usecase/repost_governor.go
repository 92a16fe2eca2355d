package usecase

import (
	"context"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// IRepostGovernor answers whether a (user, platform, video) triple may be
// posted again yet. Its answer is advisory: the post repository re-evaluates
// the same window inside the POSTED transaction, so two workers racing the
// boundary cannot slip a duplicate through.
type IRepostGovernor interface {
	// Check returns nil when posting is allowed, or a REPOST_COOLDOWN error
	// carrying the remaining hours. Platform names are accepted in any case;
	// unknown names are a VALIDATION failure.
	Check(ctx context.Context, userID string, platform string, videoID string) error
	// SelectVariant picks the caption for a recurring firing: the variant at
	// cursor modulo the list length, or ok=false when the list is empty and
	// the base captions apply.
	SelectVariant(variants []string, cursor int) (caption string, ok bool)
}

type repostGovernor struct {
	posts    repository.IPostRepository
	clock    repository.IClock
	cooldown time.Duration
}

func NewRepostGovernor(posts repository.IPostRepository, clock repository.IClock, cooldown time.Duration) IRepostGovernor {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &repostGovernor{posts: posts, clock: clock, cooldown: cooldown}
}

func (g *repostGovernor) Check(ctx context.Context, userID string, platform string, videoID string) error {
	p, err := model.ParsePlatform(platform)
	if err != nil {
		return err
	}
	last, err := g.posts.LastPostedAt(ctx, userID, p, videoID)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	opensAt := last.Add(g.cooldown)
	now := g.clock.NowUTC()
	if !opensAt.After(now) {
		return nil
	}
	denial := model.Errf(model.KindRepostCooldown,
		"video was posted to %s within the last %s", p, g.cooldown)
	denial.HoursRemaining = opensAt.Sub(now).Hours()
	return denial
}

func (g *repostGovernor) SelectVariant(variants []string, cursor int) (string, bool) {
	if len(variants) == 0 {
		return "", false
	}
	idx := cursor % len(variants)
	if idx < 0 {
		idx += len(variants)
	}
	return variants[idx], true
}
