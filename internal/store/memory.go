package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	handoffs  map[string]*Handoff
	memories  map[string]*MemoryRecord
	cleanups  map[string]*CleanupEntry
	toolCalls []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*Workflow),
		handoffs:  make(map[string]*Handoff),
		memories:  make(map[string]*MemoryRecord),
		cleanups:  make(map[string]*CleanupEntry),
	}
}

func (s *MemoryStore) Close() error { return nil }

// UpsertWorkflow inserts or replaces a workflow row.
func (s *MemoryStore) UpsertWorkflow(ctx context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if existing, ok := s.workflows[wf.ID]; ok {
		wf.CreatedAt = existing.CreatedAt
	} else if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	// Stale detection ages rows by updated_at, so a caller-supplied
	// timestamp must survive the upsert.
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = now
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s: %w", id, ErrNotFound)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Workflow
	for _, wf := range s.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.AgentType != "" && wf.AgentType != filter.AgentType {
			continue
		}
		cp := *wf
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) UpdateWorkflowStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return fmt.Errorf("workflow not found: %s: %w", id, ErrNotFound)
	}
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CountWorkflowsByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, wf := range s.workflows {
		counts[wf.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) MarkStaleWorkflows(ctx context.Context, threshold time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-threshold)
	var ids []string
	for _, wf := range s.workflows {
		if wf.Status == WorkflowActive && wf.UpdatedAt.Before(cutoff) {
			wf.Status = WorkflowStale
			wf.UpdatedAt = time.Now().UTC()
			ids = append(ids, wf.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteStaleWorkflows(ctx context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-retention)
	n := 0
	for id, wf := range s.workflows {
		if wf.Status == WorkflowStale && wf.UpdatedAt.Before(cutoff) {
			delete(s.workflows, id)
			n++
		}
	}
	return n, nil
}

// Handoffs

func (s *MemoryStore) CreateHandoff(ctx context.Context, h *Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	cp := *h
	s.handoffs[h.ID] = &cp
	return nil
}

func (s *MemoryStore) ListUnprocessedHandoffs(ctx context.Context) ([]*Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Handoff
	for _, h := range s.handoffs {
		if !h.Processed {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListHandoffsByWorkflow(ctx context.Context, workflowID string, includeProcessed bool) ([]*Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Handoff
	for _, h := range s.handoffs {
		if h.WorkflowID != workflowID {
			continue
		}
		if !includeProcessed && h.Processed {
			continue
		}
		cp := *h
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkHandoffProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handoffs[id]
	if !ok {
		return fmt.Errorf("handoff not found: %s: %w", id, ErrNotFound)
	}
	h.Processed = true
	return nil
}

// Memories

func (s *MemoryStore) InsertMemory(ctx context.Context, m *MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *MemoryStore) ListMemories(ctx context.Context, filter MemoryFilter) ([]*MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*MemoryRecord
	for _, m := range s.memories {
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.WorkflowID != "" && m.WorkflowID != filter.WorkflowID {
			continue
		}
		if !hasAllTags(m.Tags, filter.Tags) {
			continue
		}
		cp := *m
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Cleanup schedule

func (s *MemoryStore) ScheduleCleanup(ctx context.Context, e *CleanupEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	s.cleanups[e.ID] = &cp
	return nil
}

func (s *MemoryStore) DueCleanups(ctx context.Context, now time.Time) ([]*CleanupEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*CleanupEntry
	for _, e := range s.cleanups {
		if !e.Processed && !e.ScheduledFor.After(now) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledFor.Before(result[j].ScheduledFor)
	})
	return result, nil
}

func (s *MemoryStore) MarkCleanupProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cleanups[id]; ok {
		e.Processed = true
	}
	return nil
}

// Tool usage

func (s *MemoryStore) RecordToolUsage(ctx context.Context, toolName, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls = append(s.toolCalls, toolName)
	return nil
}

// ToolCalls returns the recorded tool names, oldest first.
func (s *MemoryStore) ToolCalls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.toolCalls...)
}
