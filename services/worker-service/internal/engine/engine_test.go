package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/flowrunner/libs/events"
	"github.com/md-rashed-zaman/flowrunner/libs/ledger"
	"github.com/md-rashed-zaman/flowrunner/libs/workflows"
	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
	"github.com/stretchr/testify/require"
)

type fakeAction struct {
	calls atomic.Int32
	run   func(ctx context.Context, call int) (actions.Outcome, error)
}

func (a *fakeAction) Name() string { return "fake" }

func (a *fakeAction) Run(ctx context.Context, _ actions.ExecutionContext) (actions.Outcome, error) {
	n := int(a.calls.Add(1))
	return a.run(ctx, n)
}

func succeed() *fakeAction {
	return &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		return actions.Success(map[string]any{"ok": true}), nil
	}}
}

type recordingMetrics struct {
	mu        sync.Mutex
	attempts  map[string]int
	success   map[string]int
	failure   map[string]int
	dlq       map[string]int
	durations map[string][]time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		attempts:  map[string]int{},
		success:   map[string]int{},
		failure:   map[string]int{},
		dlq:       map[string]int{},
		durations: map[string][]time.Duration{},
	}
}

func (m *recordingMetrics) inc(counter map[string]int, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter[id]++
}

func (m *recordingMetrics) RecordAttempt(_ context.Context, id string) { m.inc(m.attempts, id) }
func (m *recordingMetrics) RecordSuccess(_ context.Context, id string) { m.inc(m.success, id) }
func (m *recordingMetrics) RecordFailure(_ context.Context, id string) { m.inc(m.failure, id) }
func (m *recordingMetrics) RecordDLQ(_ context.Context, id string)     { m.inc(m.dlq, id) }
func (m *recordingMetrics) RecordDuration(_ context.Context, id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[id] = append(m.durations[id], d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newExecContext() actions.ExecutionContext {
	wf := workflows.Workflow{ID: uuid.New(), Name: "wf", IsActive: true, Action: "fake"}
	env := events.Build(events.BuildParams{
		EventType: events.TypeWorkflowTriggered,
		Payload:   map[string]any{"workflow_id": wf.ID.String(), "source": "test"},
	})
	return actions.ExecutionContext{Workflow: wf, Event: env, TraceID: env.TraceID}
}

func TestSuccessThenDuplicatesAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	metrics := newRecordingMetrics()
	e := New(store, metrics, testLogger(), Config{})
	action := succeed()
	ec := newExecContext()

	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, res.Status)
	require.True(t, res.Invoked)
	require.Equal(t, 1, res.Record.Attempts)
	require.Equal(t, map[string]any{"ok": true}, res.Record.Result)
	require.Equal(t, ec.Event.Payload, res.Record.PayloadSnapshot)
	first := res.Record

	for i := 0; i < 4; i++ {
		res, err := e.Execute(ctx, action, ec)
		require.NoError(t, err)
		require.Equal(t, ledger.StatusSkipped, res.Status)
		require.True(t, res.Duplicate)
		require.False(t, res.Redeliver())
	}

	require.EqualValues(t, 1, action.calls.Load())
	require.Equal(t, 1, store.Len())
	stored, err := store.Get(ctx, ec.Event.EventID, ec.Workflow.ID)
	require.NoError(t, err)
	require.Equal(t, first, stored)

	wf := ec.Workflow.ID.String()
	require.Equal(t, 1, metrics.attempts[wf])
	require.Equal(t, 1, metrics.success[wf])
	require.Zero(t, metrics.failure[wf])
	require.Len(t, metrics.durations[wf], 1)
}

func TestConcurrentDuplicatesInvokeOnce(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	e := New(store, nil, testLogger(), Config{})
	action := &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		time.Sleep(20 * time.Millisecond)
		return actions.Success(nil), nil
	}}
	ec := newExecContext()

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Execute(ctx, action, ec)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	invoked := 0
	for _, res := range results {
		if res.Invoked {
			invoked++
		} else {
			require.Equal(t, ledger.StatusSkipped, res.Status)
		}
	}
	require.Equal(t, 1, invoked)
	require.EqualValues(t, 1, action.calls.Load())
	require.Equal(t, 1, store.Len())
}

func TestBoundedRetryEscalatesToDLQ(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	metrics := newRecordingMetrics()
	e := New(store, metrics, testLogger(), Config{MaxAttempts: 3})
	action := &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		return actions.Failure("downstream unavailable", true), nil
	}}
	ec := newExecContext()

	for attempt := 1; attempt <= 2; attempt++ {
		res, err := e.Execute(ctx, action, ec)
		require.NoError(t, err)
		require.Equal(t, ledger.StatusFailed, res.Status)
		require.Equal(t, attempt, res.Record.Attempts)
		require.True(t, res.Record.Retryable)
		require.False(t, res.Record.QueuedToDLQ)
		require.True(t, res.Redeliver())
	}

	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, res.Status)
	require.Equal(t, 3, res.Record.Attempts)
	require.False(t, res.Record.Retryable)
	require.True(t, res.Record.QueuedToDLQ)
	require.Equal(t, "downstream unavailable", res.Record.LastError)
	require.False(t, res.Redeliver())

	res, err = e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
	require.Equal(t, 3, res.Record.Attempts)

	require.EqualValues(t, 3, action.calls.Load())
	wf := ec.Workflow.ID.String()
	require.Equal(t, 3, metrics.attempts[wf])
	require.Equal(t, 3, metrics.failure[wf])
	require.Equal(t, 1, metrics.dlq[wf])
	require.Len(t, metrics.durations[wf], 3)
}

func TestTimeoutIsRetryableAndCountsTowardBudget(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	e := New(store, nil, testLogger(), Config{Timeout: 50 * time.Millisecond})
	action := &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		time.Sleep(200 * time.Millisecond)
		return actions.Success(nil), nil
	}}
	ec := newExecContext()

	for attempt := 1; attempt <= 2; attempt++ {
		start := time.Now()
		res, err := e.Execute(ctx, action, ec)
		require.NoError(t, err)
		require.Less(t, time.Since(start), 180*time.Millisecond, "abandoned invocation must not be awaited")
		require.Equal(t, ledger.StatusFailed, res.Status)
		require.True(t, res.Record.Retryable)
		require.False(t, res.Record.QueuedToDLQ)
		require.Equal(t, attempt, res.Record.Attempts)
		require.Equal(t, errTimedOut, res.Record.Error)
		require.GreaterOrEqual(t, res.Record.ActionDurationMS, 50.0)
		require.InDelta(t, res.Record.Duration*1000, res.Record.ActionDurationMS, 1e-6)
	}

	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, res.Status)
	require.False(t, res.Record.Retryable)
	require.True(t, res.Record.QueuedToDLQ)
	require.Equal(t, 3, res.Record.Attempts)

	res, err = e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
}

func TestTimeoutWhenActionHonoursContext(t *testing.T) {
	e := New(ledger.NewMemoryStore(), nil, testLogger(), Config{Timeout: 20 * time.Millisecond})
	action := &fakeAction{run: func(ctx context.Context, _ int) (actions.Outcome, error) {
		<-ctx.Done()
		return actions.Outcome{}, ctx.Err()
	}}

	res, err := e.Execute(context.Background(), action, newExecContext())
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, res.Status)
	require.True(t, res.Record.Retryable)
	require.Equal(t, errTimedOut, res.Record.Error)
}

func TestActionFaultsAreNonRetryable(t *testing.T) {
	cases := map[string]func(context.Context, int) (actions.Outcome, error){
		"error": func(context.Context, int) (actions.Outcome, error) {
			return actions.Outcome{}, errors.New("nil map write")
		},
		"panic": func(context.Context, int) (actions.Outcome, error) {
			panic("boom")
		},
		"invalid status": func(context.Context, int) (actions.Outcome, error) {
			return actions.Outcome{Status: ledger.StatusPending}, nil
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			e := New(ledger.NewMemoryStore(), nil, testLogger(), Config{})
			res, err := e.Execute(context.Background(), &fakeAction{run: run}, newExecContext())
			require.NoError(t, err)
			require.Equal(t, ledger.StatusFailed, res.Status)
			require.False(t, res.Record.Retryable)
			require.False(t, res.Record.QueuedToDLQ)
			require.NotEmpty(t, res.Record.Error)
			require.False(t, res.Redeliver())
		})
	}
}

func TestNonRetryableFailuresEscalateOnRedelivery(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	metrics := newRecordingMetrics()
	e := New(store, metrics, testLogger(), Config{})
	action := &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		return actions.Outcome{}, errors.New("bad template")
	}}
	ec := newExecContext()

	for attempt := 1; attempt <= 3; attempt++ {
		res, err := e.Execute(ctx, action, ec)
		require.NoError(t, err)
		require.Equal(t, attempt, res.Record.Attempts)
		require.False(t, res.Record.QueuedToDLQ)
	}

	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.False(t, res.Invoked)
	require.Equal(t, ledger.StatusFailed, res.Status)
	require.Equal(t, 4, res.Record.Attempts)
	require.True(t, res.Record.QueuedToDLQ)
	require.Equal(t, errAttemptsExceeded, res.Record.Error)
	require.EqualValues(t, 3, action.calls.Load())

	wf := ec.Workflow.ID.String()
	require.Equal(t, 1, metrics.dlq[wf])
	require.Equal(t, 4, metrics.failure[wf])
	require.Len(t, metrics.durations[wf], 3)

	res, err = e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
}

func TestPendingRecordIsSkippedUntilStale(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return t0 })

	ec := newExecContext()
	// A delivery that crashed after inserting its pending record.
	_, created, err := store.CreatePending(ctx, ledger.NewRecord{
		WorkflowID: ec.Workflow.ID,
		EventID:    ec.Event.EventID,
		TraceID:    ec.TraceID,
		Action:     "fake",
	})
	require.NoError(t, err)
	require.True(t, created)

	e := New(store, nil, testLogger(), Config{Timeout: 10 * time.Second})
	require.Equal(t, 30*time.Second, e.Config().StaleAfter)
	action := succeed()

	store.SetClock(func() time.Time { return t0.Add(5 * time.Second) })
	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
	require.True(t, res.InFlight)
	require.True(t, res.Redeliver())
	require.Zero(t, action.calls.Load())

	store.SetClock(func() time.Time { return t0.Add(31 * time.Second) })
	res, err = e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, res.Status)
	require.Equal(t, 1, res.Record.Attempts)
	require.EqualValues(t, 1, action.calls.Load())
}

func TestPendingTakeoverDisabled(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	ec := newExecContext()
	_, _, err := store.CreatePending(ctx, ledger.NewRecord{WorkflowID: ec.Workflow.ID, EventID: ec.Event.EventID})
	require.NoError(t, err)

	store.SetClock(func() time.Time { return time.Now().Add(24 * time.Hour) })
	e := New(store, nil, testLogger(), Config{StaleAfter: -1})
	res, err := e.Execute(ctx, succeed(), ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
	require.False(t, res.Redeliver())
}

func TestStaleAfterNeverBelowTwiceTimeout(t *testing.T) {
	cfg := Config{Timeout: 10 * time.Second, StaleAfter: 5 * time.Second}.withDefaults()
	require.Equal(t, 20*time.Second, cfg.StaleAfter)

	cfg = Config{Timeout: 10 * time.Second, StaleAfter: time.Minute}.withDefaults()
	require.Equal(t, time.Minute, cfg.StaleAfter)

	cfg = Config{Timeout: 10 * time.Second, StaleAfter: -1}.withDefaults()
	require.True(t, cfg.StaleAfter < 0)
}

func TestShortStaleAfterDoesNotDoubleInvoke(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	action := &fakeAction{run: func(context.Context, int) (actions.Outcome, error) {
		close(started)
		<-release
		return actions.Success(nil), nil
	}}
	e := New(store, nil, testLogger(), Config{Timeout: time.Second, StaleAfter: time.Millisecond})
	ec := newExecContext()

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Execute(ctx, action, ec)
		done <- res
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	res, err := e.Execute(ctx, action, ec)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSkipped, res.Status)
	require.True(t, res.Redeliver())

	close(release)
	require.Equal(t, ledger.StatusSuccess, (<-done).Status)
	require.EqualValues(t, 1, action.calls.Load())
}

type brokenStore struct {
	ledger.Store
	createErr error
	finishErr error
}

func (s brokenStore) CreatePending(ctx context.Context, rec ledger.NewRecord) (ledger.Record, bool, error) {
	if s.createErr != nil {
		return ledger.Record{}, false, s.createErr
	}
	return s.Store.CreatePending(ctx, rec)
}

func (s brokenStore) MarkFinished(ctx context.Context, id uuid.UUID, o ledger.Outcome) (ledger.Record, error) {
	if s.finishErr != nil {
		return ledger.Record{}, s.finishErr
	}
	return s.Store.MarkFinished(ctx, id, o)
}

func TestLedgerFaultsPropagate(t *testing.T) {
	down := errors.New("connection refused")

	action := succeed()
	e := New(brokenStore{Store: ledger.NewMemoryStore(), createErr: down}, nil, testLogger(), Config{})
	_, err := e.Execute(context.Background(), action, newExecContext())
	require.ErrorIs(t, err, down)
	require.Zero(t, action.calls.Load())

	e = New(brokenStore{Store: ledger.NewMemoryStore(), finishErr: down}, nil, testLogger(), Config{})
	_, err = e.Execute(context.Background(), action, newExecContext())
	require.ErrorIs(t, err, down)
}

func TestCallerCancellationIsAnInfrastructureFault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(ledger.NewMemoryStore(), nil, testLogger(), Config{Timeout: time.Second})
	action := &fakeAction{run: func(runCtx context.Context, _ int) (actions.Outcome, error) {
		cancel()
		<-runCtx.Done()
		return actions.Outcome{}, runCtx.Err()
	}}

	_, err := e.Execute(ctx, action, newExecContext())
	require.ErrorIs(t, err, context.Canceled)
}
