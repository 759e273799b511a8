package auction

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
)

// Registry 是拍卖引擎对登记簿的最小依赖。
type Registry interface {
	Get(id uint64) (*registry.Agent, error)
	CheckTransfer(id uint64, from common.Address) error
	Transfer(id uint64, from, to common.Address, now int64) error
}

// Settlement 记录一次成功成交的结果。
type Settlement struct {
	ListingID uint64         `json:"listing_id"`
	AgentID   uint64         `json:"agent_id"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	Price     *big.Int       `json:"price"`
	Payment   *big.Int       `json:"payment"`
	Refund    *big.Int       `json:"refund"`
}

// Option 自定义拍卖引擎。
type Option func(*Engine)

// WithRail 指定成交时使用的结算通道。
func WithRail(rail settlement.Rail) Option {
	return func(e *Engine) {
		if rail != nil {
			e.rail = rail
		}
	}
}

// Engine 管理全部挂牌。与 Registry 一样不自行加锁，由账本串行调用。
type Engine struct {
	registry Registry
	rail     settlement.Rail

	listings []*Listing
	current  map[uint64]*Listing
	nextID   uint64
}

// NewEngine 构造拍卖引擎，默认结算通道不移动资金。
func NewEngine(reg Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		rail:     settlement.Discard{},
		current:  make(map[uint64]*Listing),
		nextID:   1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// StartAuction 为 caller 持有的智能体创建挂牌。
//
// 挂牌期间所有者仍可直接转移智能体，挂牌不会因此关闭：在到期、撤销或被清扫之前，
// 新所有者无法重新挂牌或作废，原卖家仍可撤销，而 Buy 会以 CONFLICT 失败。
func (e *Engine) StartAuction(agentID uint64, startingPrice, discountRate *big.Int, duration int64, caller common.Address, now int64) (uint64, error) {
	agent, err := e.registry.Get(agentID)
	if err != nil {
		return 0, err
	}
	if !agent.Valid {
		return 0, registry.ErrAgentBurned
	}
	if agent.Owner != caller {
		return 0, registry.ErrNotOwner
	}
	if startingPrice == nil || discountRate == nil || startingPrice.Sign() < 0 || discountRate.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	if duration <= 0 || duration > math.MaxInt64-max(now, 0) {
		return 0, ErrInvalidDuration
	}
	if new(big.Int).Mul(discountRate, big.NewInt(duration)).Cmp(startingPrice) > 0 {
		return 0, ErrNegativePriceCurve
	}

	stale := e.current[agentID]
	if stale != nil && !stale.Expired(now) {
		return 0, ErrAlreadyListed
	}
	if stale != nil {
		stale.close(StatusExpired, now)
	}

	listing := &Listing{
		ID:            e.nextID,
		AgentID:       agentID,
		Seller:        caller,
		StartingPrice: new(big.Int).Set(startingPrice),
		DiscountRate:  new(big.Int).Set(discountRate),
		StartAt:       now,
		ExpiresAt:     now + duration,
		OnGoing:       true,
		Status:        StatusActive,
	}
	e.nextID++
	e.listings = append(e.listings, listing)
	e.current[agentID] = listing
	return listing.ID, nil
}

// GetPrice 返回当前挂牌在 now 时刻的报价。
func (e *Engine) GetPrice(agentID uint64, now int64) (*big.Int, error) {
	listing := e.current[agentID]
	if !listing.Active(now) {
		return nil, ErrListingNotFound
	}
	return listing.PriceAt(now), nil
}

// Buy 以 payment 购买智能体。所有权转移与资金划转要么同时完成，要么都不发生。
func (e *Engine) Buy(ctx context.Context, agentID uint64, payment *big.Int, buyer common.Address, now int64) (*Settlement, error) {
	listing := e.current[agentID]
	if listing == nil {
		return nil, ErrListingNotFound
	}
	if listing.Expired(now) {
		return nil, ErrListingExpired
	}
	if buyer == (common.Address{}) {
		return nil, ErrEmptyBuyer
	}
	price := listing.PriceAt(now)
	if payment == nil || payment.Cmp(price) < 0 {
		return nil, ErrInsufficientPayment
	}
	if err := e.registry.CheckTransfer(agentID, listing.Seller); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConflict, err, ErrTransferBlocked.Message())
	}

	instr := settlement.Instruction{
		AgentID:   agentID,
		ListingID: listing.ID,
		Buyer:     buyer,
		Seller:    listing.Seller,
		Price:     new(big.Int).Set(price),
		Payment:   new(big.Int).Set(payment),
	}
	pending, err := e.rail.Prepare(ctx, instr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConflict, err, ErrSettlementRejected.Message())
	}
	if err := pending.Commit(ctx); err != nil {
		if abortErr := pending.Abort(ctx); abortErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvariantViolation, abortErr, "结算提交失败且无法撤销")
		}
		return nil, xerrors.Wrap(xerrors.CodeConflict, err, ErrSettlementRejected.Message())
	}

	// 资金已经划转，此处失败意味着前置检查与转移之间出现了不一致。
	if err := e.registry.Transfer(agentID, listing.Seller, buyer, now); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvariantViolation, err, "资金已结算但所有权转移失败")
	}

	listing.close(StatusBought, now)
	listing.Buyer = buyer
	listing.SoldPrice = new(big.Int).Set(price)
	delete(e.current, agentID)

	return &Settlement{
		ListingID: listing.ID,
		AgentID:   agentID,
		Seller:    listing.Seller,
		Buyer:     buyer,
		Price:     instr.Price,
		Payment:   instr.Payment,
		Refund:    instr.Refund(),
	}, nil
}

// CancelAuction 由卖家撤销进行中的挂牌。卖家以挂牌时记录的为准，与当前所有者无关。
func (e *Engine) CancelAuction(agentID uint64, caller common.Address, now int64) error {
	listing := e.current[agentID]
	if !listing.Active(now) {
		return ErrListingNotFound
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	listing.close(StatusCancelled, now)
	delete(e.current, agentID)
	return nil
}

// Sweep 将已过期但仍标记为进行中的挂牌关闭，返回关闭数量。
func (e *Engine) Sweep(now int64) int {
	closed := 0
	for agentID, listing := range e.current {
		if listing.Expired(now) {
			listing.close(StatusExpired, now)
			delete(e.current, agentID)
			closed++
		}
	}
	return closed
}

// Checkpoint 记录挂牌编号与所有进行中挂牌的快照，返回的函数把引擎恢复到调用时的状态。
// 单次调用最多新增一个挂牌，只修改 current 中的挂牌，因此快照开销与进行中的挂牌数成正比。
func (e *Engine) Checkpoint() func() {
	nextID, count := e.nextID, len(e.listings)
	current := make(map[uint64]*Listing, len(e.current))
	saved := make(map[*Listing]Listing, len(e.current))
	for agentID, listing := range e.current {
		current[agentID] = listing
		saved[listing] = *listing.clone()
	}
	return func() {
		for i := count; i < len(e.listings); i++ {
			e.listings[i] = nil
		}
		e.listings = e.listings[:count]
		e.nextID = nextID
		e.current = current
		for listing, state := range saved {
			*listing = state
		}
	}
}

// HasActiveListing 实现 registry.ListingChecker。
func (e *Engine) HasActiveListing(agentID uint64, now int64) bool {
	return e.current[agentID].Active(now)
}

// Current 返回智能体当前标记为进行中的挂牌（可能已惰性过期）。
func (e *Engine) Current(agentID uint64) (*Listing, bool) {
	listing, ok := e.current[agentID]
	if !ok {
		return nil, false
	}
	return listing.clone(), true
}

// Listings 按创建顺序返回全部挂牌，包括历史记录。
func (e *Engine) Listings() []*Listing {
	result := make([]*Listing, 0, len(e.listings))
	for _, listing := range e.listings {
		result = append(result, listing.clone())
	}
	return result
}

// ListingsBySeller 返回 seller 创建过的全部挂牌。
func (e *Engine) ListingsBySeller(seller common.Address) []*Listing {
	result := make([]*Listing, 0)
	for _, listing := range e.listings {
		if listing.Seller == seller {
			result = append(result, listing.clone())
		}
	}
	return result
}

// ActiveCount 返回 now 时刻仍可成交的挂牌数量。
func (e *Engine) ActiveCount(now int64) int {
	count := 0
	for _, listing := range e.current {
		if listing.Active(now) {
			count++
		}
	}
	return count
}

var _ registry.ListingChecker = (*Engine)(nil)
