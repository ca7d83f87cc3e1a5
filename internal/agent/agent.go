package agent

import (
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
)

// RoundRequest 描述一次待执行的验证轮次。
type RoundRequest struct {
	SubmissionID   string         `json:"submission_id"`
	ContentAddress string         `json:"content_address"`
	PackageHash    string         `json:"package_hash,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RoundResult 汇总一次验证轮次的结论。
type RoundResult struct {
	Round consensus.Round `json:"round"`
}

// Verdict 返回轮次的共识结论。
func (r *RoundResult) Verdict() consensus.Verdict {
	if r == nil {
		return consensus.Verdict{}
	}
	return r.Round.Verdict
}
