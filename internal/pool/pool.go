// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pool manages one shared connection per instrument. Leases
// serialize operations per instrument and guarantee release on all exit
// paths; connections are created lazily and kept for the pool's lifetime.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/instrument"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/transport"
)

// ErrInstrumentNotFound is returned for ids with no enabled configuration.
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

type entry struct {
	mu  sync.Mutex // serializes operations on one instrument
	drv instrument.Driver
}

// Pool owns the instrument connections of one process.
type Pool struct {
	cfg        *config.Config
	simulation bool

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New builds a pool over the configured instruments. cfg.Simulation forces
// every driver into simulation mode regardless of its connection variant.
func New(cfg *config.Config) *Pool {
	return &Pool{
		cfg:        cfg,
		simulation: cfg.Simulation,
		entries:    make(map[string]*entry),
	}
}

// Lease is a scoped acquisition of one instrument. The holder has exclusive
// use of the driver until Release.
type Lease struct {
	// ID is the instrument id this lease covers.
	ID string
	// WaitTime is how long the caller queued behind other holders.
	WaitTime time.Duration

	drv      instrument.Driver
	ent      *entry
	released bool
}

// Driver returns the leased driver.
func (l *Lease) Driver() instrument.Driver { return l.drv }

// Release resets the instrument to idle and returns it to the pool. Safe to
// call more than once; deferred callers meet errors from earlier explicit
// releases that way.
func (l *Lease) Release(ctx context.Context) {
	if l.released {
		return
	}
	l.released = true
	if err := l.drv.Reset(ctx); err != nil {
		logging.Infof(ctx, "Failed to reset %s on release: %v", l.ID, err)
	}
	l.ent.mu.Unlock()
}

// Get leases the named instrument, queueing behind other holders. There is
// no acquisition timeout; cancellation is the caller's deadline on the
// subsequent driver calls. A previous open failure does not poison the
// entry: the next Get retries the connection.
func (p *Pool) Get(ctx context.Context, id string) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Wrapf(ErrPoolClosed, "cannot lease %s", id)
	}
	icfg, ok := p.cfg.Instrument(id)
	if !ok || !icfg.IsEnabled() {
		p.mu.Unlock()
		return nil, errors.Wrapf(ErrInstrumentNotFound, "no enabled configuration for %q", id)
	}
	ent, ok := p.entries[id]
	if !ok {
		ent = &entry{}
		p.entries[id] = ent
	}
	p.mu.Unlock()

	start := time.Now()
	ent.mu.Lock()
	wait := time.Since(start)

	if ent.drv == nil {
		drv, err := p.open(ctx, icfg)
		if err != nil {
			ent.mu.Unlock()
			return nil, err
		}
		ent.drv = drv
	}
	return &Lease{ID: id, WaitTime: wait, drv: ent.drv, ent: ent}, nil
}

func (p *Pool) open(ctx context.Context, icfg *config.InstrumentConfig) (instrument.Driver, error) {
	drv, err := instrument.New(ctx, icfg, p.simulation)
	if err != nil {
		return nil, errors.Wrapf(transport.ErrOpen, "failed to open %s: %v", icfg.ID, err)
	}
	if err := drv.Initialize(ctx); err != nil {
		drv.Close()
		return nil, errors.Wrapf(transport.ErrOpen, "failed to initialize %s: %v", icfg.ID, err)
	}
	logging.Infof(ctx, "Opened instrument %s (%s)", icfg.ID, icfg.Type)
	return drv, nil
}

// Close shuts the pool down, waiting for outstanding leases and closing
// every open connection.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	var firstErr error
	for id, ent := range entries {
		ent.mu.Lock()
		if ent.drv != nil {
			if err := ent.drv.Close(); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "failed to close %s", id)
			}
			ent.drv = nil
		}
		ent.mu.Unlock()
	}
	return firstErr
}
