package gateway

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
	"taskboard/reconcile"
)

const (
	taskOwnersKey   = "task-owners"
	tasksVersionKey = "tasks-version"
)

// Cache wraps a TaskGateway with a Redis read-through cache of task lists.
// Status changes evict every list the task appears in. Contexts marked with
// reconcile.WithCacheBypass always read from the backend.
//
// Every eviction bumps tasksVersionKey; a list fetched across a bump is
// returned but not stored.
type Cache struct {
	base  reconcile.TaskGateway
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching gateway using the provided Redis client and TTL.
func NewCache(base reconcile.TaskGateway, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("gateway.NewCache: base gateway is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasksForAssignee(ctx context.Context, assigneeID string) ([]domain.Task, error) {
	if !reconcile.CacheBypassed(ctx) {
		if tasks, ok := c.loadTasks(ctx, assigneeID); ok {
			return tasks, nil
		}
	}

	version, versionOK := c.version(ctx)
	tasks, err := c.base.ListTasksForAssignee(ctx, assigneeID)
	if err != nil {
		return nil, err
	}

	if versionOK {
		c.storeTasks(ctx, assigneeID, tasks, version)
	}
	return tasks, nil
}

func (c *Cache) SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	// Evict on failure too: the call may have reached the service.
	defer c.evictTask(context.WithoutCancel(ctx), taskID)
	return c.base.SetTaskStatus(ctx, taskID, status)
}

// Invalidate drops the cached list of assigneeID and the unfiltered list.
func (c *Cache) Invalidate(ctx context.Context, assigneeID string) error {
	if c.redis == nil {
		return nil
	}
	return c.evict(ctx, tasksCacheKey(assigneeID), tasksCacheKey(""))
}

func (c *Cache) version(ctx context.Context) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, tasksVersionKey).Int64()
	if err == redis.Nil {
		return 0, true
	}
	return v, err == nil
}

func (c *Cache) evict(ctx context.Context, keys ...string) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, tasksVersionKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func (c *Cache) loadTasks(ctx context.Context, assigneeID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := tasksCacheKey(assigneeID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backend without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, assigneeID string, tasks []domain.Task, version int64) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	owners := make(map[string]any, len(tasks))
	for _, t := range tasks {
		owners[t.ID] = t.Assignee.ID
	}
	// A concurrent eviction fails the transaction with redis.TxFailedErr.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, tasksVersionKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey(assigneeID), data, c.ttl)
			if len(owners) > 0 {
				pipe.HSet(ctx, taskOwnersKey, owners)
			}
			return nil
		})
		return err
	}, tasksVersionKey)
}

func (c *Cache) evictTask(ctx context.Context, taskID string) {
	if c.redis == nil {
		return
	}
	keys := []string{tasksCacheKey("")}
	if owner, err := c.redis.HGet(ctx, taskOwnersKey, taskID).Result(); err == nil && owner != "" {
		keys = append(keys, tasksCacheKey(owner))
	}
	_ = c.evict(ctx, keys...)
}

func tasksCacheKey(assigneeID string) string {
	return "tasks:" + assigneeID
}
