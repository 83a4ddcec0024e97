// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/repo"
)

// Control surface error conditions.
var (
	ErrNotFound       = errors.New("session not found")
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
)

// StartRequest identifies the DUT and the plan for a new session.
type StartRequest struct {
	SerialNumber string
	StationID    string
	OperatorID   string
	ProjectID    string
	PlanName     string
}

// Snapshot is a point-in-time view of a session for the status call.
type Snapshot struct {
	Session     *repo.Session
	CurrentItem int
}

type active struct {
	cancel context.CancelFunc
	tel    *Telemetry
	done   chan struct{}
}

// Registry owns the running sessions. All start/stop/status/subscribe calls
// are arbitrated under one mutex; each running session gets its own
// goroutine whose lifetime the registry tracks.
type Registry struct {
	engine *Engine
	store  repo.Repository

	baseCtx    context.Context
	baseCancel context.CancelFunc
	g          errgroup.Group

	mu     sync.Mutex
	active map[string]*active
	plans  map[string][]*plan.Item
}

// NewRegistry builds a Registry. Sessions started later run under ctx; use
// Close for an orderly shutdown.
func NewRegistry(ctx context.Context, engine *Engine, store repo.Repository) *Registry {
	baseCtx, baseCancel := context.WithCancel(ctx)
	return &Registry{
		engine:     engine,
		store:      store,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		active:     make(map[string]*active),
		plans:      make(map[string][]*plan.Item),
	}
}

// Create loads the requested plan and registers a new session in the
// created state. Start runs it.
func (r *Registry) Create(ctx context.Context, req StartRequest) (*repo.Session, error) {
	items, err := r.store.LoadTestPlan(ctx, req.ProjectID, req.StationID, req.PlanName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "plan %s/%s/%s", req.ProjectID, req.StationID, req.PlanName)
		}
		return nil, err
	}
	s := &repo.Session{
		SerialNumber: req.SerialNumber,
		StationID:    req.StationID,
		OperatorID:   req.OperatorID,
		ProjectID:    req.ProjectID,
		PlanName:     req.PlanName,
		Status:       repo.StatusCreated,
		StartedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.plans[s.ID] = items
	r.mu.Unlock()
	return s, nil
}

// Start launches the session's scheduler. A session runs at most once.
func (r *Registry) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		return errors.Wrapf(ErrAlreadyRunning, "session %s", id)
	}
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errors.Wrapf(ErrNotFound, "session %s", id)
		}
		return err
	}
	if s.Status != repo.StatusCreated {
		return errors.Wrapf(ErrAlreadyRunning, "session %s is %s", id, s.Status)
	}
	items, ok := r.plans[id]
	if !ok {
		// The session predates this process; reload its plan.
		items, err = r.store.LoadTestPlan(ctx, s.ProjectID, s.StationID, s.PlanName)
		if err != nil {
			return errors.Wrapf(err, "failed to reload plan for session %s", id)
		}
	}

	runCtx, cancel := context.WithCancel(r.baseCtx)
	a := &active{cancel: cancel, tel: newTelemetry(id), done: make(chan struct{})}
	r.active[id] = a
	r.g.Go(func() error {
		defer close(a.done)
		defer cancel()
		err := r.engine.Run(runCtx, s, items, a.tel)
		r.mu.Lock()
		delete(r.active, id)
		delete(r.plans, id)
		r.mu.Unlock()
		a.tel.close()
		if err != nil {
			logging.Infof(runCtx, "Session %s ended with infrastructure failure: %v", id, err)
		}
		// The failure is recorded in the session record; the registry
		// itself stays healthy.
		return nil
	})
	return nil
}

// Stop signals the session to abort. It returns once the signal is
// delivered; the session reaches its terminal state asynchronously, within
// at most one item deadline.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[id]
	if !ok {
		return errors.Wrapf(ErrNotRunning, "session %s", id)
	}
	a.cancel()
	return nil
}

// Status returns the session record overlaid with live progress when the
// session is still running.
func (r *Registry) Status(ctx context.Context, id string) (*Snapshot, error) {
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "session %s", id)
		}
		return nil, err
	}
	snap := &Snapshot{Session: s}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.active[id]; ok {
		s.Status = repo.StatusRunning
		if p, ok := a.tel.Last(); ok {
			snap.CurrentItem = p.CurrentItem
			s.TotalItems = p.TotalItems
			s.PassItems = p.Pass
			s.FailItems = p.Fail
			s.ErrorItems = p.Error
			s.DurationMS = p.PartialElapsedMS
		}
	}
	return snap, nil
}

// Subscribe returns the session's progress stream. The channel closes when
// the session terminates.
func (r *Registry) Subscribe(id string) (<-chan Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotRunning, "session %s", id)
	}
	return a.tel.Events(), nil
}

// Wait blocks until the session's scheduler exits. Unknown or finished
// sessions return immediately.
func (r *Registry) Wait(id string) {
	r.mu.Lock()
	a, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		<-a.done
	}
}

// Close aborts all running sessions and waits for their schedulers to
// finalize.
func (r *Registry) Close() error {
	r.baseCancel()
	return r.g.Wait()
}
