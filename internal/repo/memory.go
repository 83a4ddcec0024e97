// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/plan"
)

type planKey struct {
	projectID string
	stationID string
	planName  string
}

// Memory is an in-process Repository for tests and simulation runs.
type Memory struct {
	mu       sync.Mutex
	plans    map[planKey][]*plan.Item
	sessions map[string]*Session
	results  map[string][]*Result
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		plans:    make(map[planKey][]*plan.Item),
		sessions: make(map[string]*Session),
		results:  make(map[string][]*Result),
	}
}

// PutTestPlan installs a plan for LoadTestPlan to find. The items are
// normalized here so callers cannot install an inconsistent plan.
func (m *Memory) PutTestPlan(projectID, stationID, planName string, items []*plan.Item) error {
	sorted, err := plan.Normalize(items)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[planKey{projectID, stationID, planName}] = sorted
	return nil
}

func (m *Memory) LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]*plan.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, ok := m.plans[planKey{projectID, stationID, planName}]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no test plan for %s/%s/%s", projectID, stationID, planName)
	}
	return items, nil
}

func (m *Memory) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return errors.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) AppendResult(ctx context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.SessionID]; !ok {
		return errors.Wrapf(ErrNotFound, "session %s", r.SessionID)
	}
	cp := *r
	m.results[r.SessionID] = append(m.results[r.SessionID], &cp)
	return nil
}

func (m *Memory) FinalizeSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "session %s", s.ID)
	}
	if cur.Status.Terminal() {
		return errors.Errorf("session %s is already terminal (%s)", s.ID, cur.Status)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSessions(ctx context.Context, f Filter) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if f.SerialNumber != "" && s.SerialNumber != f.SerialNumber {
			continue
		}
		if f.StationID != "" && s.StationID != f.StationID {
			continue
		}
		if f.ProjectID != "" && s.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (m *Memory) ListResults(ctx context.Context, sessionID string) ([]*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.results[sessionID]
	out := make([]*Result, len(rs))
	for i, r := range rs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}
