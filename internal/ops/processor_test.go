package ops

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentMarket-Chain/internal/clock"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/observability/alerting"
)

const t0 int64 = 1_700_000_000

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type brokenApplier struct{}

func (brokenApplier) Apply(context.Context, ledger.Call, int64) (*ledger.Receipt, error) {
	return nil, xerrors.New(xerrors.CodeLedgerHalted, "halted")
}

type pipeline struct {
	service *Service
	clock   *clock.Manual
	alerts  *recordingDispatcher
}

func startPipeline(t *testing.T, applier Applier, workers int) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	c := clock.NewManual(t0)
	alerts := &recordingDispatcher{}
	processor := NewProcessor(applier, store, queue,
		WithWorkerCount(workers),
		WithClock(c),
		WithAlertDispatcher(alerts),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &pipeline{service: NewService(store, queue), clock: c, alerts: alerts}
}

func (p *pipeline) run(t *testing.T, call ledger.Call) *Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	op, err := p.service.Submit(ctx, SubmitRequest{Call: call})
	if err != nil {
		t.Fatalf("submit %s: %v", call.Kind, err)
	}
	done, err := p.service.WaitUntilDone(ctx, op.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait %s: %v", call.Kind, err)
	}
	return done
}

func TestProcessorAppliesAndRejects(t *testing.T) {
	l := ledger.New()
	p := startPipeline(t, l, 2)

	registered := p.run(t, ledger.Call{Kind: ledger.KindRegister, Caller: alice, ContentPointer: "ipfs://v1"})
	if registered.Status != StatusApplied || registered.Receipt == nil || registered.Receipt.AgentID != 1 || registered.Receipt.Now != t0 {
		t.Fatalf("unexpected register outcome %+v", registered)
	}

	p.clock.Advance(10)
	listed := p.run(t, ledger.Call{Kind: ledger.KindStartAuction, Caller: alice, AgentID: 1,
		StartingPrice: big.NewInt(100), DiscountRate: big.NewInt(1), Duration: 100})
	if listed.Status != StatusApplied || listed.Receipt.ListingID == 0 {
		t.Fatalf("unexpected listing outcome %+v", listed)
	}

	stolen := p.run(t, ledger.Call{Kind: ledger.KindUpdateVersion, Caller: bob, AgentID: 1, ContentPointer: "ipfs://evil"})
	if stolen.Status != StatusRejected || stolen.ErrorCode != string(xerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized rejection, got %+v", stolen)
	}
	if xerrors.CodeOf(stolen.Err()) != xerrors.CodeUnauthorized {
		t.Fatalf("operation error should carry the code, got %v", stolen.Err())
	}

	p.clock.Advance(40)
	bought := p.run(t, ledger.Call{Kind: ledger.KindBuy, Caller: bob, AgentID: 1, Payment: big.NewInt(100)})
	if bought.Status != StatusApplied || bought.Receipt.Settlement == nil || bought.Receipt.Settlement.Price.Int64() != 60 {
		t.Fatalf("unexpected buy outcome %+v", bought)
	}
	if p.alerts.count() != 0 {
		t.Fatalf("business rejections must not alert")
	}

	agent, err := l.Agent(1)
	if err != nil || agent.Owner != bob {
		t.Fatalf("ownership should have moved to buyer: %+v err=%v", agent, err)
	}
}

func TestProcessorMarksInfrastructureFailures(t *testing.T) {
	p := startPipeline(t, brokenApplier{}, 1)

	op := p.run(t, ledger.Call{Kind: ledger.KindRegister, Caller: alice, ContentPointer: "x"})
	if op.Status != StatusFailed || op.ErrorCode != string(xerrors.CodeLedgerHalted) {
		t.Fatalf("expected failed operation, got %+v", op)
	}
	if p.alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", p.alerts.count())
	}
}

func TestProcessorHandlesConcurrentOperations(t *testing.T) {
	l := ledger.New()
	p := startPipeline(t, l, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const total = 100
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		owner := common.BigToAddress(big.NewInt(int64(100 + i)))
		op, err := p.service.Submit(ctx, SubmitRequest{Call: ledger.Call{Kind: ledger.KindRegister, Caller: owner, ContentPointer: fmt.Sprintf("ipfs://%d", i)}})
		if err != nil {
			t.Fatalf("提交操作失败: %v", err)
		}
		ids = append(ids, op.ID)
	}

	seen := make(map[uint64]bool, total)
	for _, id := range ids {
		op, err := p.service.WaitUntilDone(ctx, id, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if op.Status != StatusApplied {
			t.Fatalf("unexpected status %+v", op)
		}
		if seen[op.Receipt.AgentID] {
			t.Fatalf("agent id %d allocated twice", op.Receipt.AgentID)
		}
		seen[op.Receipt.AgentID] = true
	}
	if seq, _, _ := l.Head(); seq != total {
		t.Fatalf("expected %d committed calls, got %d", total, seq)
	}
}
