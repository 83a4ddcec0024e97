// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dispatch

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/instrument"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/pool"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/transport"
)

// fakeDriver's behavior is steered through the parameter bag: "resp" sets
// the returned string, "transient_fails" injects CRC failures for the first
// N calls, "mismatch" returns a set-mismatch.
type fakeDriver struct {
	retrySafe bool

	mu    sync.Mutex
	calls int
}

func (d *fakeDriver) Initialize(ctx context.Context) error { return nil }
func (d *fakeDriver) Reset(ctx context.Context) error      { return nil }
func (d *fakeDriver) RetrySafe() bool                      { return d.retrySafe }
func (d *fakeDriver) Close() error                         { return nil }

func (d *fakeDriver) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	d.mu.Lock()
	d.calls++
	calls := d.calls
	d.mu.Unlock()

	if params.Has("mismatch") {
		return "", &instrument.SetMismatchError{Quantity: "voltage", Want: 5.0, Got: 4.7}
	}
	if n, ok := params.Int("transient_fails"); ok && calls <= n {
		return "", errors.Wrap(transport.ErrCRC, "checksum mismatch")
	}
	if resp, ok := params.String("resp"); ok {
		return resp, nil
	}
	return "OK", nil
}

func init() {
	instrument.Register("dispfake", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (instrument.Driver, error) {
		return &fakeDriver{retrySafe: true}, nil
	})
	instrument.Register("dispfakeunsafe", func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (instrument.Driver, error) {
		return &fakeDriver{retrySafe: false}, nil
	})
	for _, typ := range []string{"dispfake", "dispfakeunsafe"} {
		instrument.RegisterSchema(typ, "Fake", &instrument.Schema{
			Required: []string{"instrument"},
			Optional: []string{"resp", "transient_fails", "mismatch"},
			Example:  "instrument: FAKE_1",
		})
	}
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := &config.Config{
		Instruments: []config.InstrumentConfig{
			{ID: "FAKE_1", Type: "dispfake", Connection: config.ConnectionConfig{Type: config.ConnSimulated}},
			{ID: "UNSAFE_1", Type: "dispfakeunsafe", Connection: config.ConnectionConfig{Type: config.ConnSimulated}},
			{ID: "PSU_1", Type: "2303", Connection: config.ConnectionConfig{Type: config.ConnSimulated}},
		},
		DefaultItemTimeoutMS: 30000,
	}
	p := pool.New(cfg)
	t.Cleanup(func() { p.Close(context.Background()) })
	return New(p, cfg)
}

func fakeItem(no int, params plan.Params) *plan.Item {
	return &plan.Item{
		ItemNo:    no,
		ItemName:  "item " + strconv.Itoa(no),
		ItemKey:   "k" + strconv.Itoa(no),
		Command:   "Fake",
		Params:    params,
		ValueType: plan.ValueString,
		LimitType: plan.LimitNone,
		Enabled:   true,
	}
}

func TestResolveCommand(t *testing.T) {
	for _, tc := range []struct {
		command    string
		switchMode string
		want       string
	}{
		{"PowerSet", "", "PowerSet"},
		{"PowerSet", "2303", "PowerSet"},
		{"CommandTest", "wait", "Wait"},
		{"X", "Relay", "Relay"},
		{"X", "chassis_rotation", "ChassisRotate"},
		{"X", "comport", "CommandTest"},
		{"X", "TCPIP", "CommandTest"},
	} {
		it := &plan.Item{Command: tc.command, SwitchMode: tc.switchMode}
		if got := ResolveCommand(it); got != tc.want {
			t.Errorf("ResolveCommand(%q, %q) = %q; want %q", tc.command, tc.switchMode, got, tc.want)
		}
	}
}

func TestExecuteHappyPath(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"instrument": "FAKE_1", "resp": "hello"})
	it.LimitType = plan.LimitEquality
	it.EqLimit, it.HasEqLimit = "hello", true

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomePass || res.MeasuredValue != "hello" {
		t.Errorf("Execute() = (%s, %q); want (PASS, hello)", res.Outcome, res.MeasuredValue)
	}
}

func TestExecuteWait(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"wait_ms": 20})
	it.SwitchMode = "wait"
	it.ValueType = plan.ValueInteger

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomePass {
		t.Fatalf("Execute() = (%s, %q, %q); want PASS", res.Outcome, res.MeasuredValue, res.ErrorMessage)
	}
	if ms, err := strconv.Atoi(res.MeasuredValue); err != nil || ms < 20 {
		t.Errorf("Wait measured %q; want elapsed >= 20", res.MeasuredValue)
	}
}

func TestExecuteUseResult(t *testing.T) {
	d := testDispatcher(t)
	a := fakeItem(1, plan.Params{"instrument": "FAKE_1", "resp": "12.03"})
	b := fakeItem(2, plan.Params{"instrument": "FAKE_1"})
	b.UseResult, b.UseResultKey = "k1", "resp"
	b.LimitType = plan.LimitEquality
	b.EqLimit, b.HasEqLimit = "12.03", true
	pm := plan.NewPointMap([]*plan.Item{a, b})

	// Dependency not yet executed.
	res := d.Execute(context.Background(), b, pm)
	if res.Outcome != repo.OutcomeError || !strings.Contains(res.ErrorMessage, "dependency unsatisfied") {
		t.Errorf("Execute() before dependency = (%s, %q); want dependency ERROR", res.Outcome, res.ErrorMessage)
	}

	// Run A, mark the point, then B sees the substituted value.
	ra := d.Execute(context.Background(), a, pm)
	pa, _ := pm.Lookup("k1")
	pa.Executed, pa.Passed, pa.Value = true, ra.Outcome == repo.OutcomePass, ra.MeasuredValue

	res = d.Execute(context.Background(), b, pm)
	if res.Outcome != repo.OutcomePass || res.MeasuredValue != "12.03" {
		t.Errorf("Execute() = (%s, %q); want (PASS, 12.03)", res.Outcome, res.MeasuredValue)
	}
}

func TestExecuteMissingInstrument(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"instrument": "GHOST_1"})

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomeError || !strings.Contains(res.ErrorMessage, "No instrument found") {
		t.Errorf("Execute() = (%s, %q); want ERROR naming the instrument", res.Outcome, res.ErrorMessage)
	}
}

func TestExecuteSchemaViolation(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"instrument": "PSU_1"})
	it.Command = "PowerSet" // missing volt

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomeError || !strings.Contains(res.ErrorMessage, "volt") {
		t.Errorf("Execute() = (%s, %q); want schema ERROR naming volt", res.Outcome, res.ErrorMessage)
	}
}

func TestExecuteTransientRetry(t *testing.T) {
	d := testDispatcher(t)

	// Retry-safe driver: one clean retry turns the CRC failure into PASS.
	it := fakeItem(1, plan.Params{"instrument": "FAKE_1", "transient_fails": 1, "resp": "OK"})
	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomePass {
		t.Errorf("retry-safe Execute() = (%s, %q); want PASS", res.Outcome, res.ErrorMessage)
	}

	// Two consecutive failures exhaust the single retry.
	it2 := fakeItem(2, plan.Params{"instrument": "UNSAFE_1", "transient_fails": 99})
	res = d.Execute(context.Background(), it2, plan.NewPointMap([]*plan.Item{it2}))
	if res.Outcome != repo.OutcomeError || !strings.Contains(res.ErrorMessage, "CRC") {
		t.Errorf("non-retry-safe Execute() = (%s, %q); want CRC ERROR", res.Outcome, res.ErrorMessage)
	}
}

func TestExecuteSetMismatchIsFail(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"instrument": "FAKE_1", "mismatch": "1"})
	it.ValueType = plan.ValueFloat

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomeFail {
		t.Fatalf("Execute() = %s; want FAIL", res.Outcome)
	}
	if !strings.Contains(res.MeasuredValue, "read back") {
		t.Errorf("measured value %q does not carry the mismatch text", res.MeasuredValue)
	}
}

func TestExecuteErrorStringCoercion(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"instrument": "FAKE_1", "resp": "Error: relay stuck"})

	res := d.Execute(context.Background(), it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomeError || res.ErrorMessage != "Error: relay stuck" {
		t.Errorf("Execute() = (%s, %q); want coerced ERROR", res.Outcome, res.ErrorMessage)
	}
}

func TestExecuteCanceledIsAbort(t *testing.T) {
	d := testDispatcher(t)
	it := fakeItem(1, plan.Params{"wait_ms": 10000})
	it.SwitchMode = "wait"

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()
	res := d.Execute(ctx, it, plan.NewPointMap([]*plan.Item{it}))
	if res.Outcome != repo.OutcomeAbort {
		t.Errorf("Execute() under cancel = (%s, %q); want ABORT", res.Outcome, res.ErrorMessage)
	}
}
