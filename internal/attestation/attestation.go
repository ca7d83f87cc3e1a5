package attestation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
)

// Signer 对规范化证据字节签名。
type Signer interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
}

// ChainSubmitter 将不透明载荷提交到链上并返回回执。
type ChainSubmitter interface {
	Submit(ctx context.Context, payload []byte) (web3.Receipt, error)
}

// Identity 描述产生证明的验证者。
type Identity struct {
	AgentID        string                    `json:"agent_id"`
	Specialization evaluation.Specialization `json:"specialization"`
}

// Status 表示证明本身（评估与签名）的结果。
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SubmissionStatus 表示上链这一环节的结果。
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionSkipped   SubmissionStatus = "skipped"
)

// Submission 记录上链结果，与证明状态相互独立。
type Submission struct {
	Status    SubmissionStatus `json:"status"`
	Receipt   *web3.Receipt    `json:"receipt,omitempty"`
	Attempts  int              `json:"attempts,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorCode xerrors.Code     `json:"error_code,omitempty"`
}

// Attestation 是单个验证者对单个包的签名评估记录，创建后不可修改。
type Attestation struct {
	ID              string                    `json:"id"`
	SubmissionID    string                    `json:"submission_id"`
	PackageHash     string                    `json:"package_hash"`
	VerifierAgentID string                    `json:"verifier_agent_id"`
	Specialization  evaluation.Specialization `json:"specialization"`
	evaluation.Result
	Evidence   json.RawMessage `json:"evidence,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  xerrors.Code    `json:"error_code,omitempty"`
	Submission Submission      `json:"submission"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Successful 判断评估与签名是否完成。上链失败不影响该结果。
func (a Attestation) Successful() bool {
	return a.Status == StatusCompleted
}

// Evidence 是被签名的评估证据。
type Evidence struct {
	SubmissionID         string                    `json:"submission_id"`
	PackageHash          string                    `json:"package_hash"`
	VerifierAgentID      string                    `json:"verifier_agent_id"`
	Specialization       evaluation.Specialization `json:"specialization"`
	StructureValid       bool                      `json:"structure_valid"`
	ContentQualityScore  float64                   `json:"content_quality_score"`
	EvidenceQualityScore float64                   `json:"evidence_quality_score"`
	OverallScore         float64                   `json:"overall_score"`
	EvaluationConfidence float64                   `json:"evaluation_confidence"`
	Decision             bool                      `json:"decision"`
	DecisionReason       string                    `json:"decision_reason"`
	EvaluationNotes      []string                  `json:"evaluation_notes"`
	EvaluationTimestamp  string                    `json:"evaluation_timestamp"`
}

// Failed 构造一个失败状态的证明，用于评估未能完成的验证者（例如超时或包校验失败）。
func Failed(id Identity, submissionID, packageHash string, err error, now time.Time) Attestation {
	code := xerrors.CodeOf(err)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Attestation{
		ID:              uuid.NewString(),
		SubmissionID:    submissionID,
		PackageHash:     packageHash,
		VerifierAgentID: id.AgentID,
		Specialization:  id.Specialization,
		Result:          evaluation.Result{Notes: []string{}},
		Status:          StatusFailed,
		Error:           msg,
		ErrorCode:       code,
		Submission:      Submission{Status: SubmissionSkipped},
		CreatedAt:       now.UTC(),
	}
}
