package ops

import (
	"context"
	"math/big"
	"testing"

	"AgentMarket-Chain/internal/clock"
	"AgentMarket-Chain/internal/ledger"
)

func TestSweeperClosesExpiredListings(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	id, _ := l.Register(ctx, alice, "ipfs://v1", t0)
	if _, err := l.StartAuction(ctx, id, big.NewInt(10), big.NewInt(1), 5, alice, t0); err != nil {
		t.Fatalf("start auction: %v", err)
	}

	c := clock.NewManual(t0 + 1)
	sweeper := NewSweeper(l, c, 0)
	if n, err := sweeper.SweepOnce(ctx); err != nil || n != 0 {
		t.Fatalf("nothing should expire yet: n=%d err=%v", n, err)
	}

	c.Set(t0 + 6)
	if n, err := sweeper.SweepOnce(ctx); err != nil || n != 1 {
		t.Fatalf("expected one swept listing: n=%d err=%v", n, err)
	}
	if seq, _, _ := l.Head(); seq != 3 {
		t.Fatalf("only the effective sweep should be journaled, head=%d", seq)
	}

	// interval 为 0 时 Run 立即返回。
	sweeper.Run(ctx)
}
