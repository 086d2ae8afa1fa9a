package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "XGov-Mesh/internal/errors"
	"XGov-Mesh/internal/orchestrator"
)

// MemoryStore 是基于内存的作业存储，主要用于测试和单机部署。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create 持久化新作业。
func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return xerrors.New(CodeJobValidationFailed, "作业 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := time.Now().UTC()
	clone := job.Clone()
	if clone.Status == "" {
		clone.Status = StatusPending
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.jobs[job.ID] = clone
	*job = *clone.Clone()
	return nil
}

// Get 返回作业快照。
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Claim 将 pending 作业置为 running。
func (s *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Terminal() {
		return nil, ErrJobCompleted
	}
	if job.Status == StatusRunning {
		return nil, ErrJobConflict
	}
	now := time.Now().UTC()
	job.Status = StatusRunning
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now
	return job.Clone(), nil
}

// MarkSucceeded 记录作业成功。
func (s *MemoryStore) MarkSucceeded(_ context.Context, id string, result *orchestrator.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Terminal() {
		return ErrJobCompleted
	}
	now := time.Now().UTC()
	job.Status = StatusSucceeded
	job.Result = result
	job.LastError = ""
	job.ErrorCode = ""
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkFailed 记录一次失败，terminal 为 true 时进入终态。
func (s *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Terminal() {
		return ErrJobCompleted
	}
	now := time.Now().UTC()
	job.LastError = lastError
	job.ErrorCode = code
	job.UpdatedAt = now
	if terminal {
		job.Status = StatusFailed
		job.FinishedAt = &now
	} else {
		job.Status = StatusPending
	}
	return nil
}

// List 按创建时间倒序返回最近的作业。
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats 汇总作业状态分布。
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Total: len(s.jobs)}
	for _, job := range s.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close 对内存存储为空操作。
func (s *MemoryStore) Close() error { return nil }
