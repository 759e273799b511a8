package ops

import (
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/storage/mysql"
)

// Status 表示操作在生命周期中的状态。
type Status string

const (
	StatusPending  Status = mysql.OperationPending
	StatusRunning  Status = mysql.OperationRunning
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusRejected || s == StatusFailed
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusApplied, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Operation 描述一次排队执行的账本调用。
//
// 账本调用不是幂等的，因此操作最多被领取一次：rejected 与 failed 都是终态，
// 需要重试时由调用方以新的 ID 重新提交。
type Operation struct {
	ID        string          `json:"id"`
	Call      ledger.Call     `json:"call"`
	Status    Status          `json:"status"`
	Receipt   *ledger.Receipt `json:"receipt,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// Err 将失败信息还原为统一错误，成功或未完成时返回 nil。
func (o *Operation) Err() error {
	if o == nil || (o.Status != StatusRejected && o.Status != StatusFailed) {
		return nil
	}
	return xerrors.New(xerrors.Code(o.ErrorCode), o.LastError)
}

func cloneOperation(op *Operation) *Operation {
	clone := *op
	if op.Receipt != nil {
		receipt := *op.Receipt
		clone.Receipt = &receipt
	}
	return &clone
}

var (
	// ErrOperationNotFound 表示指定的操作不存在。
	ErrOperationNotFound = xerrors.New(xerrors.CodeNotFound, "操作不存在")
	// ErrOperationConflict 表示操作在当前状态下无法进行所请求的动作。
	ErrOperationConflict = xerrors.New(xerrors.CodeConflict, "操作状态冲突", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrOperationCompleted 表示操作已经结束。
	ErrOperationCompleted = xerrors.New(xerrors.CodeAlreadyCompleted, "操作已结束")
)
