package errors

import (
	stdErrors "errors"
	"log/slog"
	"maps"
	"sort"
	"strings"
)

// 覆盖标记，记录 Option 显式设置过的属性。
const (
	overrideRetryable uint8 = 1 << iota
	overrideAlert
	overrideSeverity
)

// Error 携带错误码、可读描述、底层原因与附加信息。
// 未被 Option 覆盖的属性在读取时从注册表解析，因此包级错误变量也能拿到之后 Register 的属性。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	override  Attributes
	overrides uint8
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加一条键值信息，会出现在日志与告警中。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 2)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 覆盖是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.override.Retryable = retryable
		e.overrides |= overrideRetryable
	}
}

// WithAlert 覆盖是否告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.override.Alert = alert
		e.overrides |= overrideAlert
	}
}

// WithSeverity 覆盖严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.override.Severity = sev
		e.overrides |= overrideSeverity
	}
}

// New 创建错误；message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	if e.message == "" {
		e.message = AttributesOf(code).Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，并记录底层原因供 errors.Is/As 追溯。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 返回形如 "[CODE] message: cause" 的描述。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.code))
	b.WriteString("] ")
	b.WriteString(e.message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 在错误码相同时视为同一错误，忽略描述与原因。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// LogValue 实现 slog.LogValuer，按 code、message、cause 与 metadata 分组输出。
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.StringValue("")
	}
	attrs := []slog.Attr{
		slog.String("code", string(e.code)),
		slog.String("message", e.message),
	}
	if e.cause != nil {
		attrs = append(attrs, slog.String("cause", e.cause.Error()))
	}
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.String(k, e.metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	return slog.GroupValue(attrs...)
}

// Code 返回错误码，nil 返回 UNKNOWN。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回不含原因的描述。
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

// attributes 合并注册表默认值与 Option 覆盖。
func (e *Error) attributes() Attributes {
	attr := AttributesOf(e.code)
	if e.overrides&overrideRetryable != 0 {
		attr.Retryable = e.override.Retryable
	}
	if e.overrides&overrideAlert != 0 {
		attr.Alert = e.override.Alert
	}
	if e.overrides&overrideSeverity != 0 {
		attr.Severity = e.override.Severity
	}
	return attr
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	return e != nil && e.attributes().Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	return e != nil && e.attributes().Alert
}

// Severity 返回严重程度，nil 视为 info。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attributes().Severity
}

// From 沿错误链查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误链上第一个 *Error 的错误码，没有时返回 UNKNOWN。
func CodeOf(err error) Code {
	e, _ := From(err)
	return e.Code()
}

// HasCode 判断错误链上的错误码是否为 code。
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// RetryableError 判断任意 error 是否可重试，非 *Error 一律不可重试。
func RetryableError(err error) bool {
	e, _ := From(err)
	return e.Retryable()
}

// ShouldAlert 判断任意 error 是否需要告警。
func ShouldAlert(err error) bool {
	e, _ := From(err)
	return e.ShouldAlert()
}

// SeverityOf 返回严重程度，非 *Error 按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
