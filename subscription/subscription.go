package subscription

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/reconcile"
)

const reconnectDelay = time.Second

// Invalidator drops cached task lists for an assignee.
type Invalidator interface {
	Invalidate(ctx context.Context, assigneeID string) error
}

// Boards finds the live boards that show tasks of an assignee.
type Boards interface {
	Matching(assigneeID string) []*reconcile.Mutator
}

// Update is the message the task service publishes after tasks change.
type Update struct {
	AssigneeID string `json:"assigneeId"`
}

// SubscribeUpdates listens for task updates and refreshes the affected
// boards. It returns when ctx is done. cache may be nil.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	cache Invalidator,
	boards Boards,
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev Update
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("unable to parse update")
					continue
				}
				HandleUpdate(ctx, logger, ev, cache, boards)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// HandleUpdate invalidates the cached lists of the assignee and refreshes
// their boards along with the manager boards.
func HandleUpdate(ctx context.Context, logger *log.Logger, ev Update, cache Invalidator, boards Boards) {
	entry := logger.WithField("assignee", ev.AssigneeID)
	if cache != nil {
		if err := cache.Invalidate(ctx, ev.AssigneeID); err != nil {
			entry.WithError(err).Warn("invalidate cached tasks")
		}
	}
	matched := boards.Matching(ev.AssigneeID)
	for _, m := range matched {
		if err := m.Refresh(ctx); err != nil {
			entry.WithError(err).Debug("refresh board")
		}
	}
	entry.WithField("boards", len(matched)).Debug("task update handled")
}
