package run

import (
	"context"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medflow-ops/claimbridge/internal/record"
)

type fakeStore struct {
	mu      sync.Mutex
	run     *record.RunRecord
	updates []record.RunUpdate
}

func (s *fakeStore) GetPending(context.Context, record.Backlog, record.PendingFilter) ([]record.WorkItem, error) {
	return nil, nil
}

func (s *fakeStore) GetByID(context.Context, uuid.UUID) (*record.WorkItem, error) {
	return nil, nil
}

func (s *fakeStore) Update(context.Context, uuid.UUID, record.WorkItemUpdate) error {
	return nil
}

func (s *fakeStore) CreateRun(_ context.Context, kind record.RunKind, metadata map[string]any) (*record.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = &record.RunRecord{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    record.RunRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	return s.run, nil
}

func (s *fakeStore) UpdateRun(_ context.Context, id uuid.UUID, u record.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	if u.Status != nil {
		s.run.Status = *u.Status
	}
	if u.FinishedAt != nil {
		s.run.FinishedAt = u.FinishedAt
	}
	if u.Total != nil {
		s.run.Total = *u.Total
	}
	if u.Succeeded != nil {
		s.run.Succeeded = *u.Succeeded
	}
	if u.Failed != nil {
		s.run.Failed = *u.Failed
	}
	if u.ErrorMessage != nil {
		s.run.ErrorMessage = *u.ErrorMessage
	}
	return nil
}

func newTestTracker(store *fakeStore) *Tracker {
	return NewTracker(store, nil, slog.New(slog.DiscardHandler))
}

func TestTrackerLifecycle(t *testing.T) {
	store := &fakeStore{}
	tracker := newTestTracker(store)
	ctx := context.Background()

	run, err := tracker.Begin(ctx, record.RunSourceExtraction, map[string]any{"range": "2026-01-01..2026-01-31"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if run.Status != record.RunRunning {
		t.Errorf("run status = %q, want %q", run.Status, record.RunRunning)
	}

	if err := tracker.SetTotal(ctx, 3); err != nil {
		t.Fatalf("SetTotal() error = %v", err)
	}
	tracker.ItemSucceeded(ctx, uuid.New())
	tracker.ItemSucceeded(ctx, uuid.New())
	tracker.ItemFailed(ctx, uuid.New(), "patient not found")

	if err := tracker.Finalize(ctx, record.RunCompleted, ""); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if store.run.Status != record.RunCompleted {
		t.Errorf("final status = %q, want %q", store.run.Status, record.RunCompleted)
	}
	if store.run.Succeeded != 2 || store.run.Failed != 1 {
		t.Errorf("counters = %d/%d, want 2/1", store.run.Succeeded, store.run.Failed)
	}
	if store.run.FinishedAt == nil {
		t.Error("FinishedAt not set on finalize")
	}
}

func TestTrackerFinalizeIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	tracker := newTestTracker(store)
	ctx := context.Background()

	if _, err := tracker.Begin(ctx, record.RunClaimSubmission, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tracker.Finalize(ctx, record.RunCompleted, ""); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	// The second finalize must not overwrite the terminal status.
	if err := tracker.Finalize(ctx, record.RunFailed, "late failure"); err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}

	if store.run.Status != record.RunCompleted {
		t.Errorf("status after double finalize = %q, want %q", store.run.Status, record.RunCompleted)
	}
	if store.run.ErrorMessage != "" {
		t.Errorf("error message after double finalize = %q, want empty", store.run.ErrorMessage)
	}
}

func TestTrackerCountersFrozenAfterFinalize(t *testing.T) {
	store := &fakeStore{}
	tracker := newTestTracker(store)
	ctx := context.Background()

	if _, err := tracker.Begin(ctx, record.RunSourceExtraction, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	tracker.ItemSucceeded(ctx, uuid.New())
	if err := tracker.Finalize(ctx, record.RunFailed, "aborted"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	tracker.ItemSucceeded(ctx, uuid.New())
	if store.run.Succeeded != 1 {
		t.Errorf("succeeded after finalize = %d, want 1", store.run.Succeeded)
	}
}

func TestTrackerInterruptMidRun(t *testing.T) {
	store := &fakeStore{}
	tracker := newTestTracker(store)
	ctx := context.Background()

	var exitCode int
	exited := false
	tracker.SetExitFunc(func(code int) {
		exitCode = code
		exited = true
	})

	if _, err := tracker.Begin(ctx, record.RunSourceExtraction, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tracker.SetTotal(ctx, 5); err != nil {
		t.Fatalf("SetTotal() error = %v", err)
	}
	tracker.ItemSucceeded(ctx, uuid.New())
	tracker.ItemSucceeded(ctx, uuid.New())

	tracker.HandleInterrupt(syscall.SIGINT)

	if !exited || exitCode != 1 {
		t.Fatalf("exit = (%v, %d), want (true, 1)", exited, exitCode)
	}
	if store.run.Status != record.RunFailed {
		t.Errorf("interrupted run status = %q, want %q", store.run.Status, record.RunFailed)
	}
	if store.run.ErrorMessage != InterruptedMessage {
		t.Errorf("interrupted run message = %q, want %q", store.run.ErrorMessage, InterruptedMessage)
	}
	if store.run.Succeeded != 2 {
		t.Errorf("succeeded preserved = %d, want 2", store.run.Succeeded)
	}
}

func TestTrackerInterruptAfterFinalizeOnlyExits(t *testing.T) {
	store := &fakeStore{}
	tracker := newTestTracker(store)
	ctx := context.Background()

	var exitCode int
	tracker.SetExitFunc(func(code int) { exitCode = code })

	if _, err := tracker.Begin(ctx, record.RunClaimSubmission, nil); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := tracker.Finalize(ctx, record.RunCompleted, ""); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	tracker.HandleInterrupt(syscall.SIGTERM)

	if exitCode != 1 {
		t.Errorf("exit code = %d, want 1", exitCode)
	}
	if store.run.Status != record.RunCompleted {
		t.Errorf("status = %q, want %q", store.run.Status, record.RunCompleted)
	}
}
