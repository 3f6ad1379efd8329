package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/colorfulnotion/evmtests/engine"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/runstate"
	"github.com/colorfulnotion/evmtests/statedb"
	"github.com/colorfulnotion/evmtests/telemetry"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/testtree"
	"github.com/colorfulnotion/evmtests/types"
)

const (
	DefaultTimeout         = 10 * time.Minute
	DefaultWorkers         = 4
	DefaultPersistInterval = 10 * time.Second
)

type Config struct {
	Timeout time.Duration
	Workers int
	// WitnessOnly stops after execution; a match is PassedWitness.
	WitnessOnly bool
	// SkipPassed leaves tests already passed in the store untouched.
	SkipPassed     bool
	DiffOnMismatch bool
	// PersistEachTest saves the store as results are recorded, at most once
	// per PersistInterval (every result when zero). The store is always
	// saved when Run returns.
	PersistEachTest bool
	PersistInterval time.Duration
}

// Result is the outcome of one dispatched test.
type Result struct {
	Identity types.TestIdentity
	Status   types.TestStatus
	Elapsed  time.Duration
}

// Harness runs tests against an engine and records their outcome in a
// run-state store. The store is mutated only by the goroutine inside Run.
type Harness struct {
	engine engine.Engine
	store  *runstate.Store
	cfg    Config
	pool   *ants.Pool
	// slots bounds live engine calls, abandoned ones included, to Workers.
	slots chan struct{}
}

func New(eng engine.Engine, store *runstate.Store, cfg Config) (*Harness, error) {
	if eng == nil {
		return nil, errors.New("harness: nil engine")
	}
	if store == nil {
		store = runstate.NewMemory()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error(log.Harness, "worker panic", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("harness pool: %w", err)
	}
	return &Harness{engine: eng, store: store, cfg: cfg, pool: pool, slots: make(chan struct{}, cfg.Workers)}, nil
}

// Close releases the worker pool.
func (h *Harness) Close() {
	h.pool.Release()
}

func (h *Harness) Store() *runstate.Store { return h.store }

// Run executes every test of groups. No test is dispatched once ctx is
// done; tests already running are awaited and their results recorded, and
// the store is saved before Run returns. Only store failures are errors.
func (h *Harness) Run(ctx context.Context, groups []*testtree.Group) (*Summary, error) {
	sum := &Summary{Started: time.Now()}
	var queue []*testtree.Test
	for _, t := range flatten(groups) {
		if h.cfg.SkipPassed && h.alreadyPassed(t.Identity) {
			sum.Skipped++
			continue
		}
		queue = append(queue, t)
	}
	log.Info(log.Harness, "starting run", "tests", len(queue), "skipped", sum.Skipped,
		"workers", h.cfg.Workers, "timeout", h.cfg.Timeout, "witnessOnly", h.cfg.WitnessOnly)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	results := make(chan Result, len(queue))
	dispatched := make(chan int, 1)
	go func() {
		n := 0
		for _, t := range queue {
			if runCtx.Err() != nil {
				break
			}
			t := t
			if err := h.pool.Submit(func() { results <- h.runTest(runCtx, t) }); err != nil {
				log.Error(log.Harness, "dispatch failed", "test", t.Identity, "err", err)
				break
			}
			n++
		}
		dispatched <- n
	}()

	var storeErr error
	var lastSave time.Time
	total, received := -1, 0
	for total < 0 || received < total {
		select {
		case n := <-dispatched:
			total = n
		case r := <-results:
			received++
			if err := h.record(sum, r, &lastSave); err != nil && storeErr == nil {
				storeErr = err
				stop()
			}
		}
	}
	sum.Dispatched = total
	sum.NotDispatched = len(queue) - total
	sum.Cancelled = ctx.Err() != nil
	sum.Elapsed = time.Since(sum.Started)

	if err := h.store.Save(); err != nil && storeErr == nil {
		storeErr = err
	}
	log.Info(log.Harness, "run finished", "summary", sum.String())
	return sum, storeErr
}

func (h *Harness) alreadyPassed(id types.TestIdentity) bool {
	e, ok := h.store.Get(id)
	if !ok {
		return false
	}
	return e.PassState == types.PassedProof || (h.cfg.WitnessOnly && e.PassState == types.PassedWitness)
}

func (h *Harness) record(sum *Summary, r Result, lastSave *time.Time) error {
	sum.Results = append(sum.Results, r)
	state, ok := r.Status.PassState()
	if !ok {
		log.Debug(log.Harness, "test cancelled, not recorded", "test", r.Identity)
		return nil
	}
	if r.Status.Passed() || r.Status.Kind == types.StatusIgnored {
		log.Debug(log.Harness, "test finished", "test", r.Identity, "status", r.Status, "elapsed", r.Elapsed)
	} else {
		log.Warn(log.Harness, "test failed", "test", r.Identity, "status", r.Status, "elapsed", r.Elapsed)
	}
	h.store.Update(r.Identity, state)
	if h.cfg.PersistEachTest && time.Since(*lastSave) >= h.cfg.PersistInterval {
		*lastSave = time.Now()
		return h.store.Save()
	}
	return nil
}

func (h *Harness) runTest(ctx context.Context, t *testtree.Test) Result {
	start := time.Now()
	spanCtx, span := telemetry.Start(ctx, "harness.test", telemetry.AttrIdentity.String(string(t.Identity)))
	status := h.RunTest(spanCtx, t)
	span.SetAttributes(telemetry.AttrStatus.String(status.Kind.String()))
	telemetry.End(span, nil)
	return Result{Identity: t.Identity, Status: status, Elapsed: time.Since(start)}
}

type execResult struct {
	out *engine.Output
	err error
}

// RunTest classifies a single test. The engine call is raced against the
// per-test timeout and ctx; on either it is left running and its result
// dropped, and it keeps its engine slot until it returns.
func (h *Harness) RunTest(ctx context.Context, t *testtree.Test) types.TestStatus {
	switch {
	case t.Err != nil:
		return types.TestStatus{Kind: types.StatusEvmErr, Detail: t.Err.Error()}
	case t.Ignored != "":
		return types.TestStatus{Kind: types.StatusIgnored, Detail: t.Ignored}
	case t.Input == nil:
		return types.TestStatus{Kind: types.StatusEvmErr, Detail: "no input"}
	}
	if ctx.Err() != nil {
		return types.TestStatus{Kind: types.StatusCancelled}
	}

	deadline := time.NewTimer(h.cfg.Timeout)
	defer deadline.Stop()

	slot, status, ok := h.acquire(ctx, deadline.C)
	if !ok {
		return capped(t.Input, status)
	}
	defer slot.release()

	mode := engine.ModeProve
	if h.cfg.WitnessOnly {
		mode = engine.ModeWitness
	}
	res, status, done := slot.race(ctx, t.Identity, deadline.C, func(ctx context.Context) execResult {
		o, err := h.engine.Execute(ctx, t.Input, mode)
		return execResult{out: o, err: err}
	})
	if done {
		return capped(t.Input, status)
	}
	out := res.out
	if out == nil {
		return capped(t.Input, types.TestStatus{Kind: types.StatusEvmErr, Detail: testerrors.ErrEBadOutput.Error()})
	}

	roots := types.RootsDiff{
		State:        types.CompareRoot(out.StateRoot, t.Input.Expected.StateRoot),
		Receipts:     types.CompareRoot(out.ReceiptsRoot, t.Input.Expected.ReceiptsRoot),
		Transactions: types.CompareRoot(out.TransactionsRoot, t.Input.Expected.TransactionsRoot),
	}
	if !roots.AllCorrect() {
		status := types.TestStatus{Kind: types.StatusIncorrectRoots, Roots: &roots}
		if h.cfg.DiffOnMismatch {
			status.StateDiff = stateDiff(t, out)
		}
		return capped(t.Input, status)
	}
	if h.cfg.WitnessOnly {
		return types.TestStatus{Kind: types.StatusPassedWitness}
	}

	_, status, done = slot.race(ctx, t.Identity, deadline.C, func(ctx context.Context) execResult {
		return execResult{err: h.engine.Verify(ctx, out.Proof)}
	})
	if done {
		return capped(t.Input, status)
	}
	return types.TestStatus{Kind: types.StatusPassedProof}
}

// engineSlot is one of the Workers slots for engine calls. It is returned
// to the harness once every call made through it has returned.
type engineSlot struct {
	h     *Harness
	calls sync.WaitGroup
}

// acquire waits for a free engine slot within the test's timeout.
func (h *Harness) acquire(ctx context.Context, timeout <-chan time.Time) (*engineSlot, types.TestStatus, bool) {
	select {
	case h.slots <- struct{}{}:
		return &engineSlot{h: h}, types.TestStatus{}, true
	case <-timeout:
		return nil, types.TestStatus{Kind: types.StatusTimedOut, Detail: "no free engine slot: " + testerrors.ErrTTimeout.Error()}, false
	case <-ctx.Done():
		return nil, types.TestStatus{Kind: types.StatusCancelled}, false
	}
}

func (s *engineSlot) release() {
	go func() {
		s.calls.Wait()
		<-s.h.slots
	}()
}

// race runs call in its own goroutine. done is true when the call failed,
// timed out or was cancelled, in which case status holds the outcome.
func (s *engineSlot) race(ctx context.Context, id types.TestIdentity, timeout <-chan time.Time, call func(context.Context) execResult) (res execResult, status types.TestStatus, done bool) {
	ch := make(chan execResult, 1)
	callCtx := context.WithoutCancel(ctx)
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error(log.Harness, "engine panicked", "panic", p, "stack", string(debug.Stack()))
				ch <- execResult{err: fmt.Errorf("%w: %v", testerrors.ErrEPanic, p)}
			}
		}()
		ch <- call(callCtx)
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r, types.TestStatus{Kind: types.StatusEvmErr, Detail: r.err.Error()}, true
		}
		return r, types.TestStatus{}, false
	case <-timeout:
		log.Warn(log.Harness, "engine call abandoned after timeout", "test", id)
		return res, types.TestStatus{Kind: types.StatusTimedOut, Detail: testerrors.ErrTTimeout.Error()}, true
	case <-ctx.Done():
		log.Debug(log.Harness, "engine call abandoned on cancel", "test", id)
		return res, types.TestStatus{Kind: types.StatusCancelled}, true
	}
}

// capped downgrades a failure to Ignored when the input ran with a capped gas limit.
func capped(in *types.AssembledInput, status types.TestStatus) types.TestStatus {
	if !in.GasLimitCapped {
		return status
	}
	switch status.Kind {
	case types.StatusEvmErr, types.StatusTimedOut, types.StatusIncorrectRoots:
		return types.TestStatus{
			Kind:   types.StatusIgnored,
			Detail: fmt.Sprintf("%s under capped gas limit: %s", status.Kind, status),
		}
	}
	return status
}

// stateDiff is best effort: an empty string when either side is missing or the diff fails.
func stateDiff(t *testtree.Test, out *engine.Output) string {
	if out.PostState == nil || t.Input.PostState == nil {
		return ""
	}
	diff, err := statedb.DiffStates(t.Input.PostState, out.PostState)
	if err != nil {
		log.Warn(log.Harness, "state diff failed", "test", t.Identity, "err", err)
		return ""
	}
	if diff.Empty() {
		return ""
	}
	return diff.String()
}

func flatten(groups []*testtree.Group) []*testtree.Test {
	var out []*testtree.Test
	for _, g := range groups {
		for _, s := range g.SubGroups {
			out = append(out, s.Tests...)
		}
	}
	return out
}
