// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/dispatch"
	"github.com/sprigga/webpdtool/internal/logging"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/pool"
	"github.com/sprigga/webpdtool/internal/repo"
	"github.com/sprigga/webpdtool/internal/report"
	"github.com/sprigga/webpdtool/testutil"
)

func fptr(f float64) *float64 { return &f }

type testEnv struct {
	reg        *Registry
	eng        *Engine
	store      *repo.Memory
	reportRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Instruments: []config.InstrumentConfig{
			{ID: "PSU_1", Type: "2303", Connection: config.ConnectionConfig{Type: config.ConnSimulated}},
		},
		DefaultItemTimeoutMS: 30000,
		StopOnFail:           true,
	}
	p := pool.New(cfg)
	t.Cleanup(func() { p.Close(context.Background()) })

	root := testutil.TempDir(t)
	store := repo.NewMemory()
	eng := NewEngine(store, dispatch.New(p, cfg), report.NewWriter(root), cfg)
	reg := NewRegistry(context.Background(), eng, store)
	t.Cleanup(func() {
		if err := reg.Close(); err != nil {
			t.Errorf("registry close failed: %v", err)
		}
	})
	return &testEnv{reg: reg, eng: eng, store: store, reportRoot: root}
}

func psuSet(no int, volt string) *plan.Item {
	return &plan.Item{
		ItemNo:    no,
		ItemName:  "Set " + volt + "V",
		ItemKey:   "set" + volt,
		Command:   "PowerSet",
		Params:    plan.Params{"instrument": "PSU_1", "volt": volt},
		ValueType: plan.ValueFloat,
		LimitType: plan.LimitNone,
		Enabled:   true,
	}
}

func psuRead(no int, key string, lo, hi float64) *plan.Item {
	return &plan.Item{
		ItemNo:     no,
		ItemName:   "Read " + key,
		ItemKey:    key,
		Command:    "PowerRead",
		Params:     plan.Params{"instrument": "PSU_1", "measure": "voltage"},
		ValueType:  plan.ValueFloat,
		LimitType:  plan.LimitBoth,
		LowerLimit: fptr(lo),
		UpperLimit: fptr(hi),
		Unit:       "V",
		Enabled:    true,
	}
}

func waitItem(no, ms int) *plan.Item {
	return &plan.Item{
		ItemNo:     no,
		ItemName:   "Settle",
		ItemKey:    "settle",
		Command:    "CommandTest",
		SwitchMode: "wait",
		WaitMS:     ms,
		ValueType:  plan.ValueInteger,
		LimitType:  plan.LimitNone,
		Enabled:    true,
	}
}

func (e *testEnv) putPlan(t *testing.T, items ...*plan.Item) StartRequest {
	t.Helper()
	if err := e.store.PutTestPlan("P", "ST", "FT", items); err != nil {
		t.Fatalf("failed to install plan: %v", err)
	}
	return StartRequest{SerialNumber: "SN001", StationID: "ST", ProjectID: "P", PlanName: "FT"}
}

func (e *testEnv) run(t *testing.T, req StartRequest) *repo.Session {
	t.Helper()
	ctx := context.Background()
	s, err := e.reg.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := e.reg.Start(ctx, s.ID); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	e.reg.Wait(s.ID)
	final, err := e.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	return final
}

func TestHappyPathTwoItems(t *testing.T) {
	e := newTestEnv(t)
	req := e.putPlan(t, psuSet(1, "5.0"), psuRead(2, "read5v", 4.9, 5.1))

	s := e.run(t, req)
	if s.Status != repo.StatusCompleted || s.FinalResult != repo.OutcomePass {
		t.Errorf("session = (%s, %s); want (completed, PASS)", s.Status, s.FinalResult)
	}
	if s.PassItems != 2 || s.FailItems != 0 || s.ErrorItems != 0 || s.TotalItems != 2 {
		t.Errorf("counters = %d/%d/%d of %d; want 2/0/0 of 2", s.PassItems, s.FailItems, s.ErrorItems, s.TotalItems)
	}

	results, err := e.store.ListResults(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results; want 2", len(results))
	}
	var sum int64
	for _, r := range results {
		if r.Outcome != repo.OutcomePass {
			t.Errorf("item %d = %s (%s); want PASS", r.ItemNo, r.Outcome, r.ErrorMessage)
		}
		sum += r.DurationMS
	}
	if s.DurationMS != sum {
		t.Errorf("session duration %d ms; want sum of item durations %d ms", s.DurationMS, sum)
	}

	// Exactly one CSV with a header and two data rows.
	reports, err := filepath.Glob(filepath.Join(e.reportRoot, "P", "ST", "*", "SN001_*.csv"))
	if err != nil || len(reports) != 1 {
		t.Fatalf("report files = %v (err %v); want exactly one", reports, err)
	}
	data, err := os.ReadFile(reports[0])
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n"); len(lines) != 3 {
		t.Errorf("report has %d lines; want 3", len(lines))
	}
}

func TestStopOnFail(t *testing.T) {
	e := newTestEnv(t)
	// Item 2 reads ~5 V against [10, 11] and fails; item 3 must not run.
	bad := psuRead(2, "bad", 10, 11)
	req := e.putPlan(t, psuSet(1, "5.0"), bad, psuRead(3, "unreached", 4.9, 5.1))

	s := e.run(t, req)
	if s.Status != repo.StatusFailed || s.FinalResult != repo.OutcomeFail {
		t.Errorf("session = (%s, %s); want (failed, FAIL)", s.Status, s.FinalResult)
	}
	if s.PassItems != 1 || s.FailItems != 1 || s.ErrorItems != 0 {
		t.Errorf("counters = %d/%d/%d; want 1/1/0", s.PassItems, s.FailItems, s.ErrorItems)
	}
	results, _ := e.store.ListResults(context.Background(), s.ID)
	if len(results) != 2 {
		t.Errorf("got %d results; want 2 (item 3 must not be present)", len(results))
	}
}

func TestCancellationMidItem(t *testing.T) {
	e := newTestEnv(t)
	req := e.putPlan(t, waitItem(1, 10000), psuRead(2, "unreached", 4.9, 5.1))

	ctx := context.Background()
	s, err := e.reg.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.reg.Start(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	begin := time.Now()
	if err := e.reg.Stop(s.ID); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	e.reg.Wait(s.ID)
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("session took %v to abort after Stop", elapsed)
	}

	final, err := e.store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != repo.StatusAborted || final.FinalResult != repo.OutcomeAbort {
		t.Errorf("session = (%s, %s); want (aborted, ABORT)", final.Status, final.FinalResult)
	}
	// The interrupted item's row may be present as ABORT or absent if the
	// cancel landed before the item started; both are valid.
	results, _ := e.store.ListResults(ctx, s.ID)
	if len(results) > 1 {
		t.Fatalf("got %d results; want at most 1", len(results))
	}
	if len(results) == 1 && results[0].Outcome != repo.OutcomeAbort {
		t.Errorf("item 1 = %s; want ABORT", results[0].Outcome)
	}
}

func TestConcurrentSessionsSharedInstrument(t *testing.T) {
	e := newTestEnv(t)
	req := e.putPlan(t, psuSet(1, "5.0"), psuRead(2, "read5v", 4.9, 5.1))

	ctx := context.Background()
	var ids []string
	for i := 0; i < 2; i++ {
		s, err := e.reg.Create(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.reg.Start(ctx, s.ID); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}
	for _, id := range ids {
		e.reg.Wait(id)
		s, err := e.store.GetSession(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if s.Status != repo.StatusCompleted {
			t.Errorf("session %s = %s; want completed", id, s.Status)
		}
	}
}

func TestRegistryErrors(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	if _, err := e.reg.Create(ctx, StartRequest{ProjectID: "P", StationID: "ST", PlanName: "MISSING"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Create() with unknown plan = %v; want ErrNotFound", err)
	}
	if err := e.reg.Start(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start() on unknown session = %v; want ErrNotFound", err)
	}
	if err := e.reg.Stop("ghost"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() on unknown session = %v; want ErrNotRunning", err)
	}
	if _, err := e.reg.Subscribe("ghost"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Subscribe() on unknown session = %v; want ErrNotRunning", err)
	}

	req := e.putPlan(t, waitItem(1, 10000))
	s, err := e.reg.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.reg.Start(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.reg.Start(ctx, s.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v; want ErrAlreadyRunning", err)
	}
	if err := e.reg.Stop(s.ID); err != nil {
		t.Fatal(err)
	}
	e.reg.Wait(s.ID)
	// A terminated session never runs again.
	if err := e.reg.Start(ctx, s.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() after termination = %v; want ErrAlreadyRunning", err)
	}
}

func TestSubscribeReceivesProgress(t *testing.T) {
	e := newTestEnv(t)
	req := e.putPlan(t, waitItem(1, 300), psuRead(2, "read", 4.9, 5.1))

	ctx := context.Background()
	s, err := e.reg.Create(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.reg.Start(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	ch, err := e.reg.Subscribe(s.ID)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	var events []Progress
	for p := range ch {
		events = append(events, p)
	}
	if len(events) != 2 {
		t.Fatalf("got %d progress events; want 2", len(events))
	}
	last := events[len(events)-1]
	if last.CurrentItem != 2 || last.TotalItems != 2 || last.Pass != 2 {
		t.Errorf("final progress = %+v; want item 2 of 2 with 2 passes", last)
	}
	if last.PartialElapsedMS < 300 {
		t.Errorf("final elapsed %d ms; want at least the wait duration", last.PartialElapsedMS)
	}
}

func TestLogSinkReceivesSessionEntries(t *testing.T) {
	e := newTestEnv(t)
	req := e.putPlan(t, psuSet(1, "5.0"))

	var mu sync.Mutex
	var msgs []string
	e.eng.AttachLogSink(logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		mu.Lock()
		defer mu.Unlock()
		msgs = append(msgs, msg)
	}))

	s := e.run(t, req)
	mu.Lock()
	defer mu.Unlock()
	if len(msgs) == 0 {
		t.Fatal("log sink received no entries")
	}
	prefix := "[" + shortID(s.ID) + "]"
	for _, m := range msgs {
		if !strings.Contains(m, prefix) {
			t.Errorf("log entry %q lacks session prefix %q", m, prefix)
		}
	}
}

func TestTelemetryDropsOldest(t *testing.T) {
	tel := newTelemetry("s1")
	const total = progressQueueCap + 76
	for i := 1; i <= total; i++ {
		tel.publish(Progress{SessionID: "s1", CurrentItem: i})
	}
	tel.close()

	var got []Progress
	for p := range tel.Events() {
		got = append(got, p)
	}
	if len(got) != progressQueueCap {
		t.Fatalf("queue delivered %d events; want %d", len(got), progressQueueCap)
	}
	if got[0].CurrentItem != 77 {
		t.Errorf("first delivered event = %d; want 77 (oldest 76 dropped)", got[0].CurrentItem)
	}
	if got[len(got)-1].CurrentItem != total {
		t.Errorf("last delivered event = %d; want %d", got[len(got)-1].CurrentItem, total)
	}
}
