package registry

import xerrors "AgentMarket-Chain/internal/errors"

var (
	// ErrAgentNotFound 表示编号从未分配。
	ErrAgentNotFound = xerrors.New(xerrors.CodeNotFound, "智能体不存在")
	// ErrAgentBurned 表示智能体已被作废。
	ErrAgentBurned = xerrors.New(xerrors.CodeInvalidated, "智能体已作废")
	// ErrNotOwner 表示调用方不是当前所有者。
	ErrNotOwner = xerrors.New(xerrors.CodeUnauthorized, "调用方不是智能体所有者")
	// ErrAgentListed 表示智能体存在进行中的拍卖。
	ErrAgentListed = xerrors.New(xerrors.CodeConflict, "智能体仍在拍卖中")
	ErrEmptyPointer   = xerrors.New(xerrors.CodeInvalidArgument, "内容指针不能为空")
	ErrEmptyOwner     = xerrors.New(xerrors.CodeInvalidArgument, "所有者地址不能为空")
	ErrEmptyRecipient = xerrors.New(xerrors.CodeInvalidArgument, "接收方地址不能为空")
)
