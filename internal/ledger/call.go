package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgentMarket-Chain/internal/auction"
	xerrors "AgentMarket-Chain/internal/errors"
)

// Kind 标识一次状态变更调用的类型。
type Kind string

const (
	KindRegister      Kind = "register"
	KindUpdateVersion Kind = "update_version"
	KindBurn          Kind = "burn"
	KindTransfer      Kind = "transfer"
	KindStartAuction  Kind = "start_auction"
	KindBuy           Kind = "buy"
	KindCancelAuction Kind = "cancel_auction"
	KindSweep         Kind = "sweep"
)

// Valid 判断类型是否受支持。
func (k Kind) Valid() bool {
	switch k {
	case KindRegister, KindUpdateVersion, KindBurn, KindTransfer,
		KindStartAuction, KindBuy, KindCancelAuction, KindSweep:
		return true
	default:
		return false
	}
}

// Call 是提交给账本的一次调用，Caller 由上游完成身份认证。
type Call struct {
	Kind           Kind           `json:"kind"`
	Caller         common.Address `json:"caller"`
	AgentID        uint64         `json:"agent_id,omitempty"`
	ContentPointer string         `json:"content_pointer,omitempty"`
	To             common.Address `json:"to"`
	StartingPrice  *big.Int       `json:"starting_price,omitempty"`
	DiscountRate   *big.Int       `json:"discount_rate,omitempty"`
	Duration       int64          `json:"duration,omitempty"`
	Payment        *big.Int       `json:"payment,omitempty"`
}

// Result 是调用成功后的确定性输出，回放时逐字节比对。
type Result struct {
	AgentID    uint64              `json:"agent_id,omitempty"`
	ListingID  uint64              `json:"listing_id,omitempty"`
	Settlement *auction.Settlement `json:"settlement,omitempty"`
	Swept      int                 `json:"swept,omitempty"`
}

// Receipt 描述已提交调用在日志中的位置。Seq 为 0 表示调用未改变状态、未写日志。
type Receipt struct {
	Seq  uint64 `json:"seq"`
	Kind Kind   `json:"kind"`
	Now  int64  `json:"now"`
	Hash string `json:"hash,omitempty"`
	Result
}

var (
	// ErrUnknownKind 表示调用类型不受支持。
	ErrUnknownKind = xerrors.New(xerrors.CodeInvalidArgument, "未知的调用类型")
	// ErrLedgerHalted 表示账本因存储异常已停止接受写入。
	ErrLedgerHalted = xerrors.New(xerrors.CodeLedgerHalted, "账本已停止写入")
	// ErrReadOnly 表示账本以只读模式打开。
	ErrReadOnly = xerrors.New(xerrors.CodeInvalidArgument, "只读账本不接受写入")
	// ErrJournalCorrupted 表示日志校验或回放失败。
	ErrJournalCorrupted = xerrors.New(xerrors.CodeStorageFailure, "账本日志损坏")
)
