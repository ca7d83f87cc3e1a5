package errors

import "sync"

// Code 是跨模块统一的错误码，API 层据此映射 HTTP 状态。
type Code string

// Severity 决定告警级别与审计日志的等级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 基础设施错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// 验证网络错误码，覆盖 PoA 构建、签名、上链与共识各阶段。
const (
	CodeEncoding              Code = "ENCODING_ERROR"
	CodeInvalidActionType     Code = "INVALID_ACTION_TYPE"
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeSigning               Code = "SIGNING_ERROR"
	CodeSubmission            Code = "SUBMISSION_ERROR"
	CodeAggregationDegenerate Code = "AGGREGATION_DEGENERATE"
)

// Attributes 是错误码的默认描述与处理策略，单个错误可通过 Option 覆盖。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false},
		CodeConflict:              {"resource conflict", SeverityWarning, false, false},
		CodeInitializationFailure: {"service not initialized", SeverityWarning, true, true},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true},

		CodeEncoding:              {"value cannot be canonically encoded", SeverityWarning, false, false},
		CodeInvalidActionType:     {"unsupported action type", SeverityInfo, false, false},
		CodeValidation:            {"package failed integrity validation", SeverityCritical, false, true},
		CodeSigning:               {"attestation signing failed", SeverityCritical, false, true},
		CodeSubmission:            {"chain submission failed", SeverityWarning, true, true},
		CodeAggregationDegenerate: {"no successful evaluations to aggregate", SeverityWarning, false, true},
	}
)

// Register 在包初始化阶段登记或覆盖错误码的默认属性。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

// AttributesOf 返回错误码的默认属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	attr, ok := registry[code]
	if !ok {
		attr = registry[CodeUnknown]
	}
	return attr
}
