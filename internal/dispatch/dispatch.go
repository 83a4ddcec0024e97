// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dispatch executes one test item: it resolves the measurement
// handler, validates parameters, leases the instrument, invokes the driver
// under the item deadline and evaluates the reading against the item's
// limits. Every failure mode is folded into the returned result; only the
// session engine decides what a failure means for the run.
package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/eval"
	"github.com/sprigga/webpdtool/internal/instrument"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/pool"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/timing"
	"github.com/sprigga/webpdtool/internal/transport"
	"github.com/sprigga/webpdtool/internal/xcontext"
)

// specialModes maps switch_mode values that override the item's command to
// the handler they select.
var specialModes = map[string]string{
	"wait":             "Wait",
	"relay":            "Relay",
	"chassis_rotation": "ChassisRotate",
	"console":          "CommandTest",
	"comport":          "CommandTest",
	"tcpip":            "CommandTest",
}

// errDeadline distinguishes the per-item deadline from a caller cancel.
var errDeadline = errors.New("item deadline exceeded")

// Dispatcher executes items against the configured instruments.
type Dispatcher struct {
	pool *pool.Pool
	cfg  *config.Config
}

// New builds a Dispatcher over the shared pool.
func New(p *pool.Pool, cfg *config.Config) *Dispatcher {
	return &Dispatcher{pool: p, cfg: cfg}
}

// ResolveCommand returns the handler an item selects: special switch_mode
// values take precedence over command.
func ResolveCommand(it *plan.Item) string {
	if cmd, ok := specialModes[strings.ToLower(it.SwitchMode)]; ok {
		return cmd
	}
	return it.Command
}

// Execute runs one item. The returned result always carries an outcome;
// failures of any kind become FAIL, ERROR or ABORT rather than an error
// return.
func (d *Dispatcher) Execute(ctx context.Context, it *plan.Item, pm *plan.PointMap) *repo.Result {
	res := &repo.Result{
		ItemID:     it.ID,
		ItemNo:     it.ItemNo,
		ItemName:   it.ItemName,
		LowerLimit: it.LowerLimit,
		UpperLimit: it.UpperLimit,
		Unit:       it.Unit,
		StartedAt:  time.Now().UTC(),
	}
	defer func() {
		res.DurationMS = time.Since(res.StartedAt).Milliseconds()
	}()

	st := timing.Start(ctx, "item_"+strconv.Itoa(it.ItemNo))
	defer st.End()

	raw, err := d.measure(ctx, it, pm)
	if err != nil {
		d.fold(ctx, res, err)
		return res
	}

	// Instrument-layer failure strings override limit evaluation.
	if strings.Contains(raw, "No instrument found") || strings.Contains(raw, "Error:") {
		res.Outcome = repo.OutcomeError
		res.ErrorMessage = raw
		return res
	}

	v, err := eval.Coerce(raw, it.ValueType)
	if err != nil {
		res.Outcome = repo.OutcomeError
		res.ErrorMessage = err.Error()
		res.MeasuredValue = raw
		return res
	}
	res.MeasuredValue = v.String()

	pass, err := eval.Evaluate(v, it)
	if err != nil {
		res.Outcome = repo.OutcomeError
		res.ErrorMessage = err.Error()
		return res
	}
	if pass {
		res.Outcome = repo.OutcomePass
	} else {
		res.Outcome = repo.OutcomeFail
	}
	return res
}

// measure performs the command resolution, substitution, validation, lease
// and driver invocation steps, returning the raw reading.
func (d *Dispatcher) measure(ctx context.Context, it *plan.Item, pm *plan.PointMap) (string, error) {
	command := ResolveCommand(it)

	params, err := substituteUseResult(it, pm)
	if err != nil {
		return "", err
	}

	// Deadline: the shorter of the item's own timeout and the global
	// default.
	timeout := time.Duration(d.cfg.DefaultItemTimeoutMS) * time.Millisecond
	if it.TimeoutMS > 0 {
		if t := time.Duration(it.TimeoutMS) * time.Millisecond; t < timeout {
			timeout = t
		}
	}
	ctx, cancel := xcontext.WithTimeout(ctx, timeout, errors.Wrapf(errDeadline, "item %d exceeded %v", it.ItemNo, timeout))
	defer cancel(context.Canceled)

	// Wait needs no instrument.
	if command == "Wait" {
		waitMS := it.WaitMS
		if ms, ok := params.Int("wait_ms"); ok {
			waitMS = ms
		}
		return instrument.Wait(ctx, waitMS)
	}
	// Operator judgment arrives in the parameter bag; there is no
	// instrument to drive.
	if command == "OPjudge" {
		judge, ok := params.String("judge")
		if !ok {
			return "", errors.Wrap(instrument.ErrSchemaViolation, "OPjudge requires the judge parameter")
		}
		return judge, nil
	}

	id, ok := params.String("instrument")
	if !ok || id == "" {
		return "", errors.Wrap(instrument.ErrSchemaViolation, "missing required parameter instrument")
	}
	icfg, ok := d.cfg.Instrument(id)
	if !ok {
		return "", errors.Wrapf(pool.ErrInstrumentNotFound, "No instrument found: %s", id)
	}
	if err := instrument.ValidateParams(icfg.Type, command, params); err != nil {
		return "", err
	}

	lease, err := d.pool.Get(ctx, id)
	if err != nil {
		return "", err
	}
	defer lease.Release(ctx)
	if lease.WaitTime > 0 {
		logging.Debugf(ctx, "Waited %v for %s", lease.WaitTime, id)
	}

	drv := lease.Driver()
	raw, err := drv.ExecuteCommand(ctx, command, params)
	if err != nil && transport.IsTransient(err) && drv.RetrySafe() && ctx.Err() == nil {
		logging.Infof(ctx, "Retrying item %d after transient failure: %v", it.ItemNo, err)
		raw, err = drv.ExecuteCommand(ctx, command, params)
	}
	return raw, err
}

// substituteUseResult resolves the use_result reference, replacing the
// designated parameter with the referenced item's measured value.
func substituteUseResult(it *plan.Item, pm *plan.PointMap) (plan.Params, error) {
	params := it.Params
	if params == nil {
		params = plan.Params{}
	}
	if it.UseResult == "" {
		return params, nil
	}
	p, ok := pm.Lookup(it.UseResult)
	if !ok {
		return nil, errors.Errorf("dependency unsatisfied: no item with key %q", it.UseResult)
	}
	if !p.Executed || !p.Passed {
		return nil, errors.Errorf("dependency unsatisfied: item %q has not passed", it.UseResult)
	}
	out := params.Clone()
	out[it.UseResultKey] = p.Value
	return out, nil
}

// fold maps a measurement error onto the result taxonomy.
func (d *Dispatcher) fold(ctx context.Context, res *repo.Result, err error) {
	var mismatch *instrument.SetMismatchError
	if errors.As(err, &mismatch) {
		// The measurement ran; the device-level outcome is negative.
		res.Outcome = repo.OutcomeFail
		res.MeasuredValue = mismatch.Error()
		res.ErrorMessage = mismatch.Error()
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		res.Outcome = repo.OutcomeAbort
		res.ErrorMessage = "canceled"
		return
	}
	res.Outcome = repo.OutcomeError
	res.ErrorMessage = err.Error()
	logging.Debugf(ctx, "Item %d errored: %v", res.ItemNo, err)
}
