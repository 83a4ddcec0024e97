// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package session runs test sessions: the engine drives one session through
// its items sequentially, and the registry arbitrates concurrent sessions
// and exposes the start/stop/status/subscribe control surface.
package session

import (
	"context"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/dispatch"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/report"
)

// Engine executes sessions. Items run strictly sequentially within a
// session; the registry runs multiple engines concurrently.
type Engine struct {
	store repo.Repository
	disp  *dispatch.Dispatcher
	rep   *report.Writer
	cfg   *config.Config
	sink  logging.Logger
}

// NewEngine builds an Engine. rep may be nil to skip report emission.
func NewEngine(store repo.Repository, disp *dispatch.Dispatcher, rep *report.Writer, cfg *config.Config) *Engine {
	return &Engine{store: store, disp: disp, rep: rep, cfg: cfg}
}

// AttachLogSink routes every session's log entries to lg in addition to the
// process logger. Entries arrive already carrying the session prefix.
func (e *Engine) AttachLogSink(lg logging.Logger) { e.sink = lg }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run drives s through items until a terminal state and finalizes it in the
// store. Cancellation of ctx aborts the session; the session record still
// reaches a terminal state. The returned error covers infrastructure
// failures only; item failures are reflected in the session's final result.
func (e *Engine) Run(ctx context.Context, s *repo.Session, items []*plan.Item, tel *Telemetry) error {
	if e.sink != nil {
		ctx = logging.AttachLogger(ctx, e.sink)
	}
	ctx = logging.SetLogPrefix(ctx, "["+shortID(s.ID)+"] ")

	s.Status = repo.StatusRunning
	pm := plan.NewPointMap(items)
	points := pm.Points()
	s.TotalItems = len(points)
	logging.Infof(ctx, "Session started: %d items, serial %s", s.TotalItems, s.SerialNumber)

	var results []*repo.Result
	var anyFail, anyErr, aborted bool
	var runErr error
loop:
	for _, p := range points {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		res := e.disp.Execute(ctx, p.Item, pm)
		res.SessionID = s.ID

		// Persist on a detached context so the row of an item that was
		// interrupted mid-flight (typically an ABORT) still lands. An
		// item that never started leaves no row.
		if err := repo.Retry(context.WithoutCancel(ctx), func(ctx context.Context) error {
			return e.store.AppendResult(ctx, res)
		}); err != nil {
			logging.Infof(ctx, "Failed to persist item %d: %v", res.ItemNo, err)
			runErr = err
			break
		}
		results = append(results, res)

		p.Executed = true
		p.Passed = res.Outcome == repo.OutcomePass
		p.Value = res.MeasuredValue
		s.DurationMS += res.DurationMS
		switch res.Outcome {
		case repo.OutcomePass:
			s.PassItems++
		case repo.OutcomeFail:
			s.FailItems++
			anyFail = true
		case repo.OutcomeError:
			s.ErrorItems++
			anyErr = true
		}
		tel.publish(Progress{
			SessionID:        s.ID,
			CurrentItem:      res.ItemNo,
			TotalItems:       s.TotalItems,
			Pass:             s.PassItems,
			Fail:             s.FailItems,
			Error:            s.ErrorItems,
			PartialElapsedMS: s.DurationMS,
		})
		logging.Debugf(ctx, "Item %d %s: %q", res.ItemNo, res.Outcome, res.MeasuredValue)

		switch {
		case res.Outcome == repo.OutcomeAbort:
			aborted = true
			break loop
		case res.Outcome == repo.OutcomeFail && e.cfg.StopOnFail:
			break loop
		}
	}

	switch {
	case runErr != nil:
		s.Status, s.FinalResult = repo.StatusErrored, repo.OutcomeError
	case aborted:
		s.Status, s.FinalResult = repo.StatusAborted, repo.OutcomeAbort
	case anyFail:
		s.Status, s.FinalResult = repo.StatusFailed, repo.OutcomeFail
	case anyErr:
		// No FAIL, but at least one item could not be measured.
		s.Status, s.FinalResult = repo.StatusFailed, repo.OutcomeError
	default:
		s.Status, s.FinalResult = repo.StatusCompleted, repo.OutcomePass
	}
	s.EndedAt = time.Now().UTC()

	fctx := context.WithoutCancel(ctx)
	if err := repo.Retry(fctx, func(ctx context.Context) error {
		return e.store.FinalizeSession(ctx, s)
	}); err != nil {
		return errors.Wrapf(err, "failed to finalize session %s", s.ID)
	}
	logging.Infof(ctx, "Session %s: %s (%d pass, %d fail, %d error, %d ms)",
		s.Status, s.FinalResult, s.PassItems, s.FailItems, s.ErrorItems, s.DurationMS)

	// Report failure never downgrades the session.
	if e.rep != nil {
		if path, err := e.rep.Write(fctx, s, results); err != nil {
			logging.Infof(ctx, "Failed to write report: %v", err)
		} else {
			logging.Infof(ctx, "Report written to %s", path)
		}
	}
	return runErr
}
