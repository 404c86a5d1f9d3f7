package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/questplus-school-api/internal/models"
)

// taskTracker keeps pollable import task state in the shared cache, with a
// local copy for single-replica setups and cache outages.
type taskTracker struct {
	cache  taskCache
	prefix string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	tasks map[string]models.ImportTask
}

func newTaskTracker(cache taskCache, prefix string, ttl time.Duration) *taskTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &taskTracker{
		cache:  cache,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		tasks:  make(map[string]models.ImportTask),
	}
}

func (t *taskTracker) save(ctx context.Context, task models.ImportTask) {
	if t.cache != nil && t.cache.Enabled() {
		t.cache.Set(ctx, t.key(task.TaskID), task, t.ttl)
	}
	t.mu.Lock()
	t.tasks[task.TaskID] = task
	t.mu.Unlock()
}

// load prefers the shared cache so any replica can answer status polls.
func (t *taskTracker) load(ctx context.Context, taskID string) (models.ImportTask, bool) {
	if t.cache != nil && t.cache.Enabled() {
		var task models.ImportTask
		if t.cache.Get(ctx, t.key(taskID), &task) {
			return task, true
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[taskID]
	return task, ok
}

func (t *taskTracker) finish(ctx context.Context, task models.ImportTask, status models.ImportStatus, message string) {
	now := t.now()
	task.Status = status
	task.Message = message
	task.FinishedAt = &now
	t.save(ctx, task)
}

func (t *taskTracker) key(taskID string) string {
	return t.prefix + taskID
}
