package task

import (
	stdErrors "errors"

	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Status 表示验证轮次在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次验证轮次的结论摘要。
type ExecutionResult struct {
	VerdictState          consensus.State `json:"verdict_state"`
	Verified              bool            `json:"verified"`
	Approvals             int             `json:"approvals"`
	SuccessfulEvaluations int             `json:"successful_evaluations"`
	ApprovalRate          float64         `json:"approval_rate"`
}

// ResultFromVerdict 从共识结论提取摘要。
func ResultFromVerdict(v consensus.Verdict) ExecutionResult {
	return ExecutionResult{
		VerdictState:          v.State,
		Verified:              v.Verified,
		Approvals:             v.Approvals,
		SuccessfulEvaluations: v.SuccessfulEvaluations,
		ApprovalRate:          v.ApprovalRate,
	}
}

// Task 描述排队等待验证的一次提交。
type Task struct {
	ID             string           `json:"id"`
	SubmissionID   string           `json:"submission_id"`
	ContentAddress string           `json:"content_address"`
	PackageHash    string           `json:"package_hash,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Status         Status           `json:"status"`
	Attempts       int              `json:"attempts"`
	MaxRetries     int              `json:"max_retries"`
	LastError      string           `json:"last_error,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	Result         *ExecutionResult `json:"result,omitempty"`
	CreatedAt      int64            `json:"created_at"`
	UpdatedAt      int64            `json:"updated_at"`
}

var (
	// ErrRoundNotFound 表示指定的轮次不存在。
	ErrRoundNotFound = xerrors.New(CodeRoundNotFound, "round not found")
	// ErrRoundConflict 表示轮次在当前状态下无法进行所请求的操作。
	ErrRoundConflict = xerrors.New(CodeRoundConflict, "round conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrRoundCompleted 表示轮次已经得出结论。
	ErrRoundCompleted = xerrors.New(CodeRoundCompleted, "round already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrRoundExhausted 表示轮次的重试次数已经耗尽。
	ErrRoundExhausted = xerrors.New(CodeRoundExhausted, "round retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeRoundNotFound   xerrors.Code = "ROUND_NOT_FOUND"
	CodeRoundConflict   xerrors.Code = "ROUND_CONFLICT"
	CodeRoundCompleted  xerrors.Code = "ROUND_COMPLETED"
	CodeRoundExhausted  xerrors.Code = "ROUND_RETRIES_EXHAUSTED"
	CodeRoundValidation xerrors.Code = "ROUND_VALIDATION_FAILED"
	CodeRoundPublish    xerrors.Code = "ROUND_PUBLISH_FAILED"
	CodeRoundProcessing xerrors.Code = "ROUND_PROCESSING_FAILED"
	CodeRoundCompensate xerrors.Code = "ROUND_COMPENSATION_FAILED"
)

func init() {
	xerrors.Register(CodeRoundNotFound, xerrors.Attributes{
		Message:   "round not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRoundConflict, xerrors.Attributes{
		Message:   "round conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRoundCompleted, xerrors.Attributes{
		Message:   "round already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRoundExhausted, xerrors.Attributes{
		Message:   "round retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRoundValidation, xerrors.Attributes{
		Message:   "round validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeRoundPublish, xerrors.Attributes{
		Message:   "failed to publish round",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRoundProcessing, xerrors.Attributes{
		Message:   "round execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeRoundCompensate, xerrors.Attributes{
		Message:   "round compensation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsRoundError 判断错误是否为指定的轮次错误。
func IsRoundError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrRoundNotFound):
		return target == CodeRoundNotFound
	case stdErrors.Is(err, ErrRoundConflict):
		return target == CodeRoundConflict
	case stdErrors.Is(err, ErrRoundCompleted):
		return target == CodeRoundCompleted
	case stdErrors.Is(err, ErrRoundExhausted):
		return target == CodeRoundExhausted
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		clone.Result = &resultCopy
	}
	clone.Metadata = cloneMetadata(task.Metadata)
	return &clone
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Finished 判断轮次是否已得出结论或终止。
func (t *Task) Finished() bool {
	if t == nil {
		return false
	}
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}
