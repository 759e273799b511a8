package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentMarket-Chain/internal/errors"
)

// Instruction 描述一次成交需要完成的资金划转。
type Instruction struct {
	AgentID   uint64         `json:"agent_id"`
	ListingID uint64         `json:"listing_id"`
	Buyer     common.Address `json:"buyer"`
	Seller    common.Address `json:"seller"`
	Price     *big.Int       `json:"price"`
	Payment   *big.Int       `json:"payment"`
}

// Refund 返回买家多付的部分。
func (i Instruction) Refund() *big.Int {
	if i.Payment == nil || i.Price == nil {
		return new(big.Int)
	}
	refund := new(big.Int).Sub(i.Payment, i.Price)
	if refund.Sign() < 0 {
		return new(big.Int)
	}
	return refund
}

// Pending 表示已冻结但尚未确认的划转。
type Pending interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Rail 是两阶段的资金结算通道，只有 Commit 成功后成交才生效。
type Rail interface {
	Prepare(ctx context.Context, instr Instruction) (Pending, error)
}

var (
	// ErrInsufficientFunds 表示买家余额不足以冻结付款。
	ErrInsufficientFunds = xerrors.New(xerrors.CodeSettlementFailure, "买家余额不足")
	// ErrSettled 表示划转已经完成或已撤销。
	ErrSettled = xerrors.New(xerrors.CodeSettlementFailure, "划转已结束")
	ErrInvalidAmount = xerrors.New(xerrors.CodeInvalidArgument, "结算金额不合法")
)

// Discard 不移动任何资金，用于日志回放以及由上游完成付款的部署。
type Discard struct{}

// Prepare 实现 Rail。
func (Discard) Prepare(context.Context, Instruction) (Pending, error) {
	return discardPending{}, nil
}

type discardPending struct{}

func (discardPending) Commit(context.Context) error { return nil }
func (discardPending) Abort(context.Context) error  { return nil }

var _ Rail = Discard{}
