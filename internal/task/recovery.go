package task

import (
	"context"

	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// RecoveryHandler 定义轮次执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试补偿失败的轮次。
	// 返回的 ExecutionResult 作为结论写入轮次；返回 nil 时继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// VerdictLookup 查询已记录的共识结论。
type VerdictLookup interface {
	Verdict(ctx context.Context, submissionID string) (consensus.Verdict, error)
}

// LedgerRecovery 在账本中已有同一提交的结论时直接复用，
// 用于处理结论已落账但状态回写失败的轮次。
type LedgerRecovery struct {
	Ledger VerdictLookup
}

// Recover 实现 RecoveryHandler。
func (r *LedgerRecovery) Recover(ctx context.Context, task *Task, _ error) (*ExecutionResult, error) {
	if r == nil || r.Ledger == nil || task == nil || task.SubmissionID == "" {
		return nil, nil
	}
	verdict, err := r.Ledger.Verdict(ctx, task.SubmissionID)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	result := ResultFromVerdict(verdict)
	return &result, nil
}
