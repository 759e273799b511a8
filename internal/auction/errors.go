package auction

import xerrors "AgentMarket-Chain/internal/errors"

var (
	// ErrListingNotFound 表示智能体没有进行中的挂牌。
	ErrListingNotFound = xerrors.New(xerrors.CodeNotFound, "没有进行中的拍卖")
	// ErrListingExpired 表示挂牌已超过截止时间。
	ErrListingExpired = xerrors.New(xerrors.CodeExpired, "拍卖已过期")
	// ErrNotSeller 表示调用方不是挂牌的卖家。
	ErrNotSeller = xerrors.New(xerrors.CodeUnauthorized, "调用方不是卖家")
	// ErrAlreadyListed 表示智能体已有进行中的挂牌。
	ErrAlreadyListed = xerrors.New(xerrors.CodeConflict, "智能体已有进行中的拍卖")
	// ErrTransferBlocked 表示成交时所有权转移的前置条件不再满足。
	ErrTransferBlocked = xerrors.New(xerrors.CodeConflict, "挂牌后所有权已变化，无法成交")
	// ErrSettlementRejected 表示结算通道拒绝了资金划转。
	ErrSettlementRejected = xerrors.New(xerrors.CodeConflict, "结算通道拒绝成交")

	ErrInvalidAmount       = xerrors.New(xerrors.CodeInvalidArgument, "价格与折扣率必须为非负数")
	ErrInvalidDuration     = xerrors.New(xerrors.CodeInvalidArgument, "拍卖时长必须大于 0 且截止时间不能溢出")
	ErrNegativePriceCurve  = xerrors.New(xerrors.CodeInvalidArgument, "折扣率乘以时长不能超过起拍价")
	ErrInsufficientPayment = xerrors.New(xerrors.CodeInvalidArgument, "支付金额低于当前价格")
	ErrEmptyBuyer          = xerrors.New(xerrors.CodeInvalidArgument, "买家地址不能为空")
)
