package ops

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestSubmitIsIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue)
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitRequest{ID: "fixed", Call: ledger.Call{Kind: ledger.KindRegister, Caller: alice, ContentPointer: "a"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := svc.Submit(ctx, SubmitRequest{ID: "fixed", Call: ledger.Call{Kind: ledger.KindRegister, Caller: alice, ContentPointer: "b"}})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Call.ContentPointer != first.Call.ContentPointer {
		t.Fatalf("resubmission must return the original operation, got %+v", second)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("expected a single queued message, got %d", len(queue.ch))
	}

	generated, err := svc.Submit(ctx, SubmitRequest{Call: ledger.Call{Kind: ledger.KindSweep}})
	if err != nil || generated.ID == "" || generated.ID == "fixed" {
		t.Fatalf("expected generated id, got %+v err=%v", generated, err)
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1))
	if _, err := svc.Submit(context.Background(), SubmitRequest{Call: ledger.Call{Kind: "mint"}}); !errors.Is(err, ledger.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

func TestSubmitPublishFailureMarksOperationFailed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{})

	_, err := svc.Submit(context.Background(), SubmitRequest{ID: "op", Call: ledger.Call{Kind: ledger.KindSweep}})
	if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
	op, _ := store.Get(context.Background(), "op")
	if op.Status != StatusFailed {
		t.Fatalf("operation should be failed, got %s", op.Status)
	}
}

func TestWaitUntilDoneTimesOut(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(1))
	op, _ := svc.Submit(context.Background(), SubmitRequest{Call: ledger.Call{Kind: ledger.KindSweep}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.WaitUntilDone(ctx, op.ID, 5*time.Millisecond); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}
