// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package repo defines the persistence boundary: sessions, per-item results
// and test plans. Implementations live in subpackages; Memory in this
// package backs tests and simulation runs.
package repo

import (
	"context"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/testingutil"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusErrored   Status = "errored"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted, StatusErrored:
		return true
	}
	return false
}

// Outcome is a per-item or aggregate verdict.
type Outcome string

const (
	OutcomePass  Outcome = "PASS"
	OutcomeFail  Outcome = "FAIL"
	OutcomeError Outcome = "ERROR"
	OutcomeSkip  Outcome = "SKIP"
	OutcomeAbort Outcome = "ABORT"
)

// Session is one run of a test plan against one DUT.
type Session struct {
	ID           string
	SerialNumber string
	StationID    string
	OperatorID   string
	ProjectID    string
	PlanName     string
	Status       Status
	StartedAt    time.Time
	EndedAt      time.Time

	TotalItems  int
	PassItems   int
	FailItems   int
	ErrorItems  int
	FinalResult Outcome
	DurationMS  int64
}

// Result is one observation of one plan item.
type Result struct {
	SessionID     string
	ItemID        int64
	ItemNo        int
	ItemName      string
	MeasuredValue string
	LowerLimit    *float64
	UpperLimit    *float64
	Unit          string
	Outcome       Outcome
	ErrorMessage  string
	DurationMS    int64
	StartedAt     time.Time
}

// Filter narrows ListSessions.
type Filter struct {
	SerialNumber string
	StationID    string
	ProjectID    string
	Status       Status
	Limit        int
}

// ErrNotFound marks lookups of unknown sessions or plans.
var ErrNotFound = errors.New("not found")

// ErrRetryable marks transient store failures worth retrying in place.
// Anything else escapes to the caller immediately.
var ErrRetryable = errors.New("retryable repository failure")

// Repository is the abstract persistence boundary the engine consumes.
// Every mutation is one transaction; partial progress survives a crash.
type Repository interface {
	LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]*plan.Item, error)
	CreateSession(ctx context.Context, s *Session) error
	AppendResult(ctx context.Context, r *Result) error
	FinalizeSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, f Filter) ([]*Session, error)
	ListResults(ctx context.Context, sessionID string) ([]*Result, error)
}

const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
)

// Retry runs op, retrying up to 3 times with exponential backoff while the
// failure is ErrRetryable. Other failures return immediately.
func Retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	backoff := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			if serr := testingutil.Sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
		if err = op(ctx); err == nil || !errors.Is(err, ErrRetryable) {
			return err
		}
	}
	return err
}
