package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeInvalidated           Code = "INVALIDATED"
	CodeConflict              Code = "CONFLICT"
	CodeExpired               Code = "EXPIRED"
	CodeAlreadyCompleted      Code = "ALREADY_COMPLETED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeSettlementFailure     Code = "SETTLEMENT_FAILURE"
	CodeLedgerHalted          Code = "LEDGER_HALTED"
	CodeInvariantViolation    Code = "INVARIANT_VIOLATION"
	CodePinFailure            Code = "PIN_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
// Business 标记业务规则拒绝：确定性失败，重放同一调用得到同一结果。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	Business  bool
}

type flag uint8

const (
	retry flag = 1 << iota
	alert
	business
)

func attrs(message string, severity Severity, flags flag) Attributes {
	return Attributes{
		Message:   message,
		Severity:  severity,
		Retryable: flags&retry != 0,
		Alert:     flags&alert != 0,
		Business:  flags&business != 0,
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               attrs("unknown error", SeverityCritical, alert),
		CodeInvalidArgument:       attrs("invalid argument", SeverityInfo, business),
		CodeNotFound:              attrs("resource not found", SeverityInfo, business),
		CodeUnauthorized:          attrs("caller is not authorized", SeverityInfo, business),
		CodeInvalidated:           attrs("resource has been invalidated", SeverityInfo, business),
		CodeConflict:              attrs("resource conflict", SeverityWarning, business),
		CodeExpired:               attrs("resource expired", SeverityInfo, business),
		CodeAlreadyCompleted:      attrs("resource already completed", SeverityInfo, 0),
		CodeInitializationFailure: attrs("service not initialized", SeverityWarning, retry|alert),
		CodeStorageFailure:        attrs("storage failure", SeverityCritical, alert),
		CodeQueueFailure:          attrs("queue failure", SeverityCritical, retry|alert),
		CodeSettlementFailure:     attrs("settlement rail rejected the transfer", SeverityWarning, 0),
		CodeLedgerHalted:          attrs("ledger halted", SeverityCritical, alert),
		CodeInvariantViolation:    attrs("ledger invariant violated", SeverityCritical, alert),
		CodePinFailure:            attrs("failed to pin content", SeverityWarning, retry),
		CodeTimeout:               attrs("operation timed out", SeverityWarning, retry|alert),
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码对应的属性，未注册的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	attr, ok := registry[code]
	if !ok {
		attr = registry[CodeUnknown]
	}
	return attr
}

// IsBusiness 判断错误码是否属于业务规则拒绝。
func IsBusiness(code Code) bool {
	return AttributesOf(code).Business
}

// Error 是系统内统一的错误类型。构造时即确定属性，之后只读。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	attr     Attributes
}

// Option 在构造时覆盖错误码的默认属性。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attr.Retryable = retryable }
}

func WithAlert(alert bool) Option {
	return func(e *Error) { e.attr.Alert = alert }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attr.Severity = sev }
}

// New 创建错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, attr: AttributesOf(code)}
	e.message = message
	if e.message == "" {
		e.message = e.attr.Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码匹配，消息与元数据不参与比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	return e != nil && e.attr.Retryable
}

func (e *Error) ShouldAlert() bool {
	return e != nil && e.attr.Alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attr.Severity
}

// From 从错误链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误对应的错误码，未分类错误为 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// ShouldAlert 判断任意 error 是否需要告警，未分类错误返回 false。
func ShouldAlert(err error) bool {
	e, _ := From(err)
	return e.ShouldAlert()
}

// SeverityOf 返回错误严重程度，未分类错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
