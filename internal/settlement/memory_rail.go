package settlement

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRail 在内存中维护账户余额，Prepare 时冻结买家付款。
type MemoryRail struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	escrow   *big.Int
}

// NewMemoryRail 创建空余额的内存结算通道。
func NewMemoryRail() *MemoryRail {
	return &MemoryRail{
		balances: make(map[common.Address]*big.Int),
		escrow:   new(big.Int),
	}
}

// Deposit 为账户充值。
func (r *MemoryRail) Deposit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credit(account, amount)
	return nil
}

// Balance 返回账户余额的副本。
func (r *MemoryRail) Balance(account common.Address) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bal, ok := r.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Escrowed 返回当前冻结中的总额。
func (r *MemoryRail) Escrowed() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.escrow)
}

// Prepare 实现 Rail。
func (r *MemoryRail) Prepare(_ context.Context, instr Instruction) (Pending, error) {
	if instr.Payment == nil || instr.Price == nil || instr.Payment.Sign() < 0 || instr.Payment.Cmp(instr.Price) < 0 {
		return nil, ErrInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bal, ok := r.balances[instr.Buyer]
	if !ok || bal.Cmp(instr.Payment) < 0 {
		return nil, ErrInsufficientFunds
	}
	bal.Sub(bal, instr.Payment)
	r.escrow.Add(r.escrow, instr.Payment)
	return &memoryPending{rail: r, instr: instr}, nil
}

func (r *MemoryRail) credit(account common.Address, amount *big.Int) {
	bal, ok := r.balances[account]
	if !ok {
		bal = new(big.Int)
		r.balances[account] = bal
	}
	bal.Add(bal, amount)
}

type memoryPending struct {
	rail  *MemoryRail
	instr Instruction
	done  bool
}

func (p *memoryPending) Commit(context.Context) error {
	p.rail.mu.Lock()
	defer p.rail.mu.Unlock()
	if p.done {
		return ErrSettled
	}
	p.done = true
	p.rail.escrow.Sub(p.rail.escrow, p.instr.Payment)
	p.rail.credit(p.instr.Seller, p.instr.Price)
	if refund := p.instr.Refund(); refund.Sign() > 0 {
		p.rail.credit(p.instr.Buyer, refund)
	}
	return nil
}

func (p *memoryPending) Abort(context.Context) error {
	p.rail.mu.Lock()
	defer p.rail.mu.Unlock()
	if p.done {
		return ErrSettled
	}
	p.done = true
	p.rail.escrow.Sub(p.rail.escrow, p.instr.Payment)
	p.rail.credit(p.instr.Buyer, p.instr.Payment)
	return nil
}

var _ Rail = (*MemoryRail)(nil)
