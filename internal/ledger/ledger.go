package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentMarket-Chain/internal/auction"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/observability/metrics"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/internal/storage/mysql"
	"AgentMarket-Chain/pkg/logger"
)

// Option 自定义账本。
type Option func(*Ledger)

// WithJournal 指定持久化日志。未设置时账本仅驻留内存。
func WithJournal(journal mysql.JournalRepository) Option {
	return func(l *Ledger) {
		l.journal = journal
	}
}

// WithRail 指定成交时使用的结算通道。
func WithRail(rail settlement.Rail) Option {
	return func(l *Ledger) {
		if rail != nil {
			l.rail.inner = rail
		}
	}
}

// WithReadOnly 打开只读账本，仅用于从日志恢复后查询。
func WithReadOnly() Option {
	return func(l *Ledger) {
		l.readOnly = true
	}
}

// Ledger 串行应用所有状态变更调用，并以哈希链日志保证可回放。
type Ledger struct {
	mu sync.RWMutex

	registry *registry.Registry
	auctions *auction.Engine
	rail     *ledgerRail
	journal  mysql.JournalRepository
	readOnly bool
	log      *slog.Logger

	seq      uint64
	lastHash common.Hash
	lastNow  int64
	halted   error
}

// New 构造账本，登记簿通过闭包查询拍卖引擎的挂牌状态。
func New(opts ...Option) *Ledger {
	l := &Ledger{
		rail: &ledgerRail{inner: settlement.Discard{}},
		log:  logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.registry = registry.New(registry.WithListingChecker(registry.ListingCheckerFunc(func(agentID uint64, now int64) bool {
		return l.auctions.HasActiveListing(agentID, now)
	})))
	l.auctions = auction.NewEngine(l.registry, auction.WithRail(l.rail))
	return l
}

// Apply 在写锁内应用一次调用。now 会被夹到不小于上一次提交的时间。
func (l *Ledger) Apply(ctx context.Context, call Call, now int64) (*Receipt, error) {
	started := time.Now()
	receipt, err := l.apply(ctx, call, now)
	metrics.ObserveLedgerCall(string(call.Kind), string(resultCode(err)), time.Since(started))
	return receipt, err
}

func (l *Ledger) apply(ctx context.Context, call Call, now int64) (*Receipt, error) {
	if !call.Kind.Valid() {
		return nil, ErrUnknownKind
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readOnly {
		return nil, ErrReadOnly
	}
	if l.halted != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerHalted, l.halted, ErrLedgerHalted.Message())
	}
	if now < l.lastNow {
		now = l.lastNow
	}

	undo := l.checkpoint(call)
	result, err := l.dispatch(ctx, call, now)
	if err != nil {
		undo()
		if releaseErr := l.rail.release(ctx); releaseErr != nil {
			err = xerrors.Wrap(xerrors.CodeInvariantViolation, releaseErr, "撤销冻结资金失败")
		}
		if xerrors.CodeOf(err) == xerrors.CodeInvariantViolation {
			l.halt(err)
		}
		return nil, err
	}

	if call.Kind == KindSweep && result.Swept == 0 {
		return &Receipt{Kind: call.Kind, Now: now, Result: result}, nil
	}

	// 日志写入成功之前状态变更与冻结资金都可撤销。
	receipt, err := l.commit(ctx, call, result, now)
	if err != nil {
		undo()
		if releaseErr := l.rail.release(ctx); releaseErr != nil {
			l.log.Error("撤销冻结资金失败", slog.Any("error", releaseErr))
		}
		l.halt(err)
		return nil, err
	}
	if err := l.rail.settle(ctx); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeInvariantViolation, err, "日志已记录成交但结算提交失败",
			xerrors.WithMetadata("seq", fmt.Sprint(receipt.Seq)))
		l.halt(wrapped)
		return nil, wrapped
	}

	if result.Settlement != nil {
		metrics.ObserveSettlement(result.Settlement.Price, result.Settlement.Refund)
	}
	metrics.SetActiveListings(l.auctions.ActiveCount(now))
	logger.Audit().Info("账本调用已提交",
		slog.Uint64("seq", receipt.Seq),
		slog.String("kind", string(call.Kind)),
		slog.String("caller", call.Caller.Hex()),
		slog.Uint64("agent_id", receipt.AgentID),
		slog.Int64("now", now),
		slog.String("hash", receipt.Hash),
	)
	return receipt, nil
}

// checkpoint 记录 call 可能修改的状态，返回的函数把登记簿与拍卖引擎恢复原状。
func (l *Ledger) checkpoint(call Call) func() {
	restoreAgents := l.registry.Checkpoint(call.AgentID)
	restoreListings := l.auctions.Checkpoint()
	return func() {
		restoreListings()
		restoreAgents()
	}
}

func (l *Ledger) dispatch(ctx context.Context, call Call, now int64) (Result, error) {
	switch call.Kind {
	case KindRegister:
		id, err := l.registry.Register(call.Caller, call.ContentPointer, now)
		return Result{AgentID: id}, err
	case KindUpdateVersion:
		return Result{AgentID: call.AgentID}, l.registry.UpdateVersion(call.AgentID, call.ContentPointer, call.Caller, now)
	case KindBurn:
		return Result{AgentID: call.AgentID}, l.registry.Burn(call.AgentID, call.Caller, now)
	case KindTransfer:
		return Result{AgentID: call.AgentID}, l.registry.Transfer(call.AgentID, call.Caller, call.To, now)
	case KindStartAuction:
		listingID, err := l.auctions.StartAuction(call.AgentID, call.StartingPrice, call.DiscountRate, call.Duration, call.Caller, now)
		return Result{AgentID: call.AgentID, ListingID: listingID}, err
	case KindBuy:
		settled, err := l.auctions.Buy(ctx, call.AgentID, call.Payment, call.Caller, now)
		if err != nil {
			return Result{}, err
		}
		return Result{AgentID: call.AgentID, ListingID: settled.ListingID, Settlement: settled}, nil
	case KindCancelAuction:
		return Result{AgentID: call.AgentID}, l.auctions.CancelAuction(call.AgentID, call.Caller, now)
	case KindSweep:
		return Result{Swept: l.auctions.Sweep(now)}, nil
	default:
		return Result{}, ErrUnknownKind
	}
}

func (l *Ledger) commit(ctx context.Context, call Call, result Result, now int64) (*Receipt, error) {
	payload, err := encodeEntry(call, result)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码日志记录失败")
	}
	seq := l.seq + 1
	hash := chainHash(l.lastHash, seq, now, payload)

	if l.journal != nil {
		err := l.journal.Append(ctx, mysql.JournalRecord{
			Seq:      seq,
			Kind:     string(call.Kind),
			Now:      now,
			Payload:  payload,
			PrevHash: l.lastHash.Hex(),
			Hash:     hash.Hex(),
		})
		metrics.ObserveJournalAppend(err)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本日志失败")
		}
	}

	l.seq = seq
	l.lastHash = hash
	l.lastNow = now
	return &Receipt{Seq: seq, Kind: call.Kind, Now: now, Hash: hash.Hex(), Result: result}, nil
}

func (l *Ledger) halt(cause error) {
	if l.halted != nil {
		return
	}
	l.halted = cause
	metrics.SetLedgerHalted(true)
	l.log.Error("账本已停止写入", slog.Any("error", cause), slog.Uint64("seq", l.seq))
}

// Restore 校验日志哈希链并按序回放，重建内存状态。回放期间不经过结算通道。
func (l *Ledger) Restore(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	records, err := l.journal.Load(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载账本日志失败")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seq != 0 || l.registry.Len() != 0 {
		return xerrors.New(xerrors.CodeConflict, "账本已有状态，不能重复恢复")
	}

	l.rail.replaying = true
	defer func() { l.rail.replaying = false }()

	for i, record := range records {
		if err := l.replay(ctx, uint64(i+1), record); err != nil {
			l.halt(err)
			return err
		}
	}
	metrics.SetActiveListings(l.auctions.ActiveCount(l.lastNow))
	l.log.Info("账本日志回放完成", slog.Int("records", len(records)), slog.String("head", l.lastHash.Hex()))
	return nil
}

func (l *Ledger) replay(ctx context.Context, expectedSeq uint64, record mysql.JournalRecord) error {
	corrupted := func(reason string) error {
		return xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("seq %d: %s", record.Seq, reason), ErrJournalCorrupted.Message())
	}
	if record.Seq != expectedSeq {
		return corrupted(fmt.Sprintf("序号不连续，期望 %d", expectedSeq))
	}
	if record.PrevHash != l.lastHash.Hex() {
		return corrupted("前序哈希不匹配")
	}
	hash := chainHash(l.lastHash, record.Seq, record.Now, record.Payload)
	if hash.Hex() != record.Hash {
		return corrupted("记录哈希不匹配")
	}
	if record.Now < l.lastNow {
		return corrupted("时间戳回退")
	}

	var entry rawJournalEntry
	if err := json.Unmarshal(record.Payload, &entry); err != nil {
		return corrupted("无法解析调用: " + err.Error())
	}
	result, err := l.dispatch(ctx, entry.Call, record.Now)
	if err != nil {
		return corrupted("回放调用失败: " + err.Error())
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return corrupted(err.Error())
	}
	if !bytes.Equal(encoded, entry.Result) {
		return corrupted("回放结果与日志不一致")
	}

	l.seq = record.Seq
	l.lastHash = hash
	l.lastNow = record.Now
	return nil
}

// Register 登记新的智能体。
func (l *Ledger) Register(ctx context.Context, owner common.Address, pointer string, now int64) (uint64, error) {
	receipt, err := l.Apply(ctx, Call{Kind: KindRegister, Caller: owner, ContentPointer: pointer}, now)
	if err != nil {
		return 0, err
	}
	return receipt.AgentID, nil
}

// UpdateVersion 更新内容指针。
func (l *Ledger) UpdateVersion(ctx context.Context, agentID uint64, pointer string, caller common.Address, now int64) error {
	_, err := l.Apply(ctx, Call{Kind: KindUpdateVersion, Caller: caller, AgentID: agentID, ContentPointer: pointer}, now)
	return err
}

// Burn 作废智能体。
func (l *Ledger) Burn(ctx context.Context, agentID uint64, caller common.Address, now int64) error {
	_, err := l.Apply(ctx, Call{Kind: KindBurn, Caller: caller, AgentID: agentID}, now)
	return err
}

// Transfer 由所有者直接转移智能体。
func (l *Ledger) Transfer(ctx context.Context, agentID uint64, from, to common.Address, now int64) error {
	_, err := l.Apply(ctx, Call{Kind: KindTransfer, Caller: from, AgentID: agentID, To: to}, now)
	return err
}

// StartAuction 创建挂牌。
func (l *Ledger) StartAuction(ctx context.Context, agentID uint64, startingPrice, discountRate *big.Int, duration int64, caller common.Address, now int64) (uint64, error) {
	receipt, err := l.Apply(ctx, Call{
		Kind:          KindStartAuction,
		Caller:        caller,
		AgentID:       agentID,
		StartingPrice: startingPrice,
		DiscountRate:  discountRate,
		Duration:      duration,
	}, now)
	if err != nil {
		return 0, err
	}
	return receipt.ListingID, nil
}

// Buy 购买挂牌中的智能体。
func (l *Ledger) Buy(ctx context.Context, agentID uint64, payment *big.Int, buyer common.Address, now int64) (*auction.Settlement, error) {
	receipt, err := l.Apply(ctx, Call{Kind: KindBuy, Caller: buyer, AgentID: agentID, Payment: payment}, now)
	if err != nil {
		return nil, err
	}
	return receipt.Settlement, nil
}

// CancelAuction 撤销挂牌。
func (l *Ledger) CancelAuction(ctx context.Context, agentID uint64, caller common.Address, now int64) error {
	_, err := l.Apply(ctx, Call{Kind: KindCancelAuction, Caller: caller, AgentID: agentID}, now)
	return err
}

// Sweep 关闭已过期的挂牌。
func (l *Ledger) Sweep(ctx context.Context, now int64) (int, error) {
	receipt, err := l.Apply(ctx, Call{Kind: KindSweep}, now)
	if err != nil {
		return 0, err
	}
	return receipt.Swept, nil
}

// Agent 返回单个智能体。
func (l *Ledger) Agent(agentID uint64) (*registry.Agent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.Get(agentID)
}

// Agents 返回全部智能体。
func (l *Ledger) Agents() []*registry.Agent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.List()
}

// AgentsByOwner 按创建顺序返回 owner 当前持有的智能体。
func (l *Ledger) AgentsByOwner(owner common.Address) []*registry.Agent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.ListByOwner(owner)
}

// Listings 返回全部挂牌。
func (l *Ledger) Listings() []*auction.Listing {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.auctions.Listings()
}

// ListingsBySeller 返回 seller 参与过的挂牌。
func (l *Ledger) ListingsBySeller(seller common.Address) []*auction.Listing {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.auctions.ListingsBySeller(seller)
}

// Price 返回 now 时刻的报价。
func (l *Ledger) Price(agentID uint64, now int64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.auctions.GetPrice(agentID, now)
}

// Head 返回最近一次提交的序号、哈希与时间。
func (l *Ledger) Head() (uint64, string, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq, l.lastHash.Hex(), l.lastNow
}

// Halted 返回导致账本停止写入的原因。
func (l *Ledger) Halted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

// Close 关闭底层日志。
func (l *Ledger) Close() error {
	if l.journal == nil {
		return nil
	}
	return l.journal.Close()
}

func resultCode(err error) xerrors.Code {
	if err == nil {
		return "OK"
	}
	return xerrors.CodeOf(err)
}

// ledgerRail 包装真实结算通道。回放期间不移动资金；正常执行时 Commit 只登记，
// 真正的提交推迟到日志写入成功之后，写入失败则全部撤销。
type ledgerRail struct {
	inner     settlement.Rail
	replaying bool
	held      []settlement.Pending
}

func (r *ledgerRail) Prepare(ctx context.Context, instr settlement.Instruction) (settlement.Pending, error) {
	if r.replaying {
		return settlement.Discard{}.Prepare(ctx, instr)
	}
	pending, err := r.inner.Prepare(ctx, instr)
	if err != nil {
		return nil, err
	}
	return &heldPending{rail: r, inner: pending}, nil
}

// settle 提交所有已登记的划转。
func (r *ledgerRail) settle(ctx context.Context) error {
	held := r.held
	r.held = nil
	for _, pending := range held {
		if err := pending.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// release 撤销所有已登记但尚未提交的划转。
func (r *ledgerRail) release(ctx context.Context) error {
	held := r.held
	r.held = nil
	var errs error
	for _, pending := range held {
		errs = stdErrors.Join(errs, pending.Abort(ctx))
	}
	return errs
}

type heldPending struct {
	rail     *ledgerRail
	inner    settlement.Pending
	resolved bool
}

func (p *heldPending) Commit(context.Context) error {
	if p.resolved {
		return settlement.ErrSettled
	}
	p.resolved = true
	p.rail.held = append(p.rail.held, p.inner)
	return nil
}

func (p *heldPending) Abort(ctx context.Context) error {
	if p.resolved {
		return settlement.ErrSettled
	}
	p.resolved = true
	return p.inner.Abort(ctx)
}
