// Package run owns the lifecycle of a single RunRecord. The one invariant
// that matters: a run must never remain "running" after the owning process
// has exited.
package run

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/medflow-ops/claimbridge/internal/audit"
	"github.com/medflow-ops/claimbridge/internal/record"
	"github.com/medflow-ops/claimbridge/internal/shared/metrics"
)

// InterruptedMessage is the error message written when a signal finalizes a
// run before it completed normally.
const InterruptedMessage = "process exited before run completed"

// finalizeTimeout bounds the store write performed on the signal path.
const finalizeTimeout = 10 * time.Second

// Tracker creates a run record, keeps its counters current and guarantees
// exactly-once finalization. The finalized flag is explicit instance state,
// not a process-wide singleton; Reset exists for test isolation.
type Tracker struct {
	store record.Store
	trail *audit.Trail // optional
	log   *slog.Logger

	// exit terminates the process after a signal-path finalize. Injected
	// so deciding the final status stays testable without exiting.
	exit func(code int)

	mu        sync.Mutex
	run       *record.RunRecord
	finalized bool
}

// NewTracker creates a tracker. The audit trail may be nil.
func NewTracker(store record.Store, trail *audit.Trail, log *slog.Logger) *Tracker {
	return &Tracker{store: store, trail: trail, log: log, exit: os.Exit}
}

// Begin creates the run record with status running and zero counts.
func (t *Tracker) Begin(ctx context.Context, kind record.RunKind, metadata map[string]any) (*record.RunRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, err := t.store.CreateRun(ctx, kind, metadata)
	if err != nil {
		return nil, err
	}
	t.run = run
	t.finalized = false

	metrics.RecordRunStarted(string(kind))
	t.log.Info("run started", "run_id", run.ID, "kind", kind)

	if t.trail != nil {
		if err := t.trail.RunStarted(ctx, run.ID, string(kind)); err != nil {
			t.log.Warn("audit append failed", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

// SetTotal records the backlog size once the pending query resolves.
func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return nil
	}
	t.run.Total = total
	return t.store.UpdateRun(ctx, t.run.ID, record.RunUpdate{Total: &total})
}

// ItemSucceeded increments the succeeded count.
func (t *Tracker) ItemSucceeded(ctx context.Context, itemID uuid.UUID) {
	t.resolveItem(ctx, itemID, "succeeded", "")
}

// ItemFailed increments the failed count.
func (t *Tracker) ItemFailed(ctx context.Context, itemID uuid.UUID, message string) {
	t.resolveItem(ctx, itemID, "failed", message)
}

func (t *Tracker) resolveItem(ctx context.Context, itemID uuid.UUID, outcome, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil || t.finalized {
		return
	}

	var update record.RunUpdate
	if outcome == "succeeded" {
		t.run.Succeeded++
		update.Succeeded = &t.run.Succeeded
	} else {
		t.run.Failed++
		update.Failed = &t.run.Failed
	}
	if err := t.store.UpdateRun(ctx, t.run.ID, update); err != nil {
		// The item write already landed; a lost counter update is
		// recoverable from the audit trail, so log and keep going.
		t.log.Warn("run counter update failed", "run_id", t.run.ID, "error", err)
	}

	if t.trail != nil {
		if err := t.trail.ItemResolved(ctx, t.run.ID, itemID.String(), outcome, message); err != nil {
			t.log.Warn("audit append failed", "run_id", t.run.ID, "error", err)
		}
	}
}

// Finalize writes the terminal status exactly once. Later calls, including
// the signal path, are no-ops.
func (t *Tracker) Finalize(ctx context.Context, status record.RunStatus, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked(ctx, status, message)
}

func (t *Tracker) finalizeLocked(ctx context.Context, status record.RunStatus, message string) error {
	if t.run == nil || t.finalized {
		return nil
	}
	t.finalized = true

	now := time.Now()
	t.run.Status = status
	t.run.FinishedAt = &now
	t.run.ErrorMessage = message

	err := t.store.UpdateRun(ctx, t.run.ID, record.RunUpdate{
		Status:       &status,
		FinishedAt:   &now,
		ErrorMessage: &message,
	})
	if err != nil {
		return err
	}

	metrics.RecordRunFinalized(string(t.run.Kind), string(status))
	t.log.Info("run finalized",
		"run_id", t.run.ID, "status", status,
		"total", t.run.Total, "succeeded", t.run.Succeeded, "failed", t.run.Failed)

	if t.trail != nil {
		if err := t.trail.RunFinalized(ctx, t.run.ID, string(status), message); err != nil {
			t.log.Warn("audit append failed", "run_id", t.run.ID, "error", err)
		}
	}
	return nil
}

// Run returns the tracked run record.
func (t *Tracker) Run() *record.RunRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// Finalized reports whether the run reached a terminal status.
func (t *Tracker) Finalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// Reset clears tracker state between runs. Test isolation hook.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run = nil
	t.finalized = false
}

// SetExitFunc overrides the process-exit boundary. Tests inject a recorder.
func (t *Tracker) SetExitFunc(exit func(code int)) {
	t.exit = exit
}

// HookSignals registers SIGINT/SIGTERM handling: if the run has not been
// finalized when a signal arrives, it is finalized as failed with the
// standard interruption message, then the process exits. Returns a release
// function for the normal shutdown path.
func (t *Tracker) HookSignals() (release func()) {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			t.HandleInterrupt(sig)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// HandleInterrupt performs the signal-path finalization. Split from
// HookSignals so the decision logic is testable without real signals.
func (t *Tracker) HandleInterrupt(sig os.Signal) {
	t.mu.Lock()
	alreadyDone := t.finalized || t.run == nil
	t.mu.Unlock()

	if alreadyDone {
		// Normal finalization already happened; nothing to rescue.
		t.exit(1)
		return
	}

	t.log.Warn("signal received mid-run, finalizing as failed", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := t.Finalize(ctx, record.RunFailed, InterruptedMessage); err != nil {
		t.log.Error("failed to finalize interrupted run", "error", err)
	}
	t.exit(1)
}
