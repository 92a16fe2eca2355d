package repository

import (
	"context"

	"crosspost/domain/model"
)

// IOutcomeNotifier fans post lifecycle events out to interested systems.
// Publishing is best-effort; dispatch never fails because a notifier did.
type IOutcomeNotifier interface {
	Publish(ctx context.Context, event model.PostEvent) error
}
