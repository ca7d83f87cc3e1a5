package consensus

import (
	"sort"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

const (
	DefaultThresholdPercent  = 66.0
	DefaultMinimumQuorum     = 3
	DefaultEvaluationTimeout = 5 * time.Minute
)

// Config 描述共识判定规则与一轮验证的时间上限。
// ThresholdPercent 与 MinimumQuorum 按字面取值，零值即不设门槛；默认值由 DefaultConfig 给出。
type Config struct {
	ThresholdPercent  float64       `json:"threshold_percent"`
	MinimumQuorum     int           `json:"minimum_quorum"`
	EvaluationTimeout time.Duration `json:"evaluation_timeout"`
	// MaxConcurrency 限制同时运行的验证者数量，<=0 表示不限制。
	MaxConcurrency int `json:"max_concurrency,omitempty"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		ThresholdPercent:  DefaultThresholdPercent,
		MinimumQuorum:     DefaultMinimumQuorum,
		EvaluationTimeout: DefaultEvaluationTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.EvaluationTimeout <= 0 {
		c.EvaluationTimeout = DefaultEvaluationTimeout
	}
	return c
}

// State 是判定结果的分类。
type State string

const (
	StateVerified           State = "verified"
	StateRejected           State = "rejected"
	StateInsufficientQuorum State = "insufficient_quorum"
	StateDegenerate         State = "degenerate"
)

// Verdict 是一次提交的共识结论。
type Verdict struct {
	SubmissionID          string       `json:"submission_id"`
	TotalVerifiers        int          `json:"total_verifiers"`
	SuccessfulEvaluations int          `json:"successful_evaluations"`
	FailedEvaluations     int          `json:"failed_evaluations"`
	Approvals             int          `json:"approvals"`
	Rejections            int          `json:"rejections"`
	ApprovalRate          float64      `json:"approval_rate"`
	ThresholdPercent      float64      `json:"threshold_percent"`
	MinimumQuorum         int          `json:"minimum_quorum"`
	Verified              bool         `json:"verified"`
	State                 State        `json:"state"`
	AverageScore          float64      `json:"average_score"`
	ErrorCode             xerrors.Code `json:"error_code,omitempty"`
}

// Aggregate 将证明集合归约为共识结论。结果与输入顺序无关，且不会返回错误：
// 没有任何成功评估时得到 degenerate 状态。submissionID 非空时忽略其他提交的证明。
func Aggregate(submissionID string, atts []attestation.Attestation, cfg Config) Verdict {
	cfg = cfg.withDefaults()
	v := Verdict{
		SubmissionID:     submissionID,
		ThresholdPercent: cfg.ThresholdPercent,
		MinimumQuorum:    cfg.MinimumQuorum,
	}

	scores := make([]float64, 0, len(atts))
	for _, att := range atts {
		if submissionID != "" && att.SubmissionID != submissionID {
			continue
		}
		v.TotalVerifiers++
		if !att.Successful() {
			v.FailedEvaluations++
			continue
		}
		v.SuccessfulEvaluations++
		if att.Decision {
			v.Approvals++
		} else {
			v.Rejections++
		}
		scores = append(scores, att.OverallScore)
	}

	if v.SuccessfulEvaluations == 0 {
		v.State = StateDegenerate
		v.ErrorCode = xerrors.CodeAggregationDegenerate
		return v
	}

	v.ApprovalRate = float64(v.Approvals) / float64(v.SuccessfulEvaluations)
	v.AverageScore = mean(scores)

	// 比较 approvals*100 >= threshold*successful，避免 2/3 这类比例的舍入误差。
	meetsThreshold := float64(v.Approvals)*100 >= cfg.ThresholdPercent*float64(v.SuccessfulEvaluations)
	switch {
	case v.SuccessfulEvaluations < cfg.MinimumQuorum:
		v.State = StateInsufficientQuorum
	case meetsThreshold:
		v.State = StateVerified
		v.Verified = true
	default:
		v.State = StateRejected
	}
	return v
}

func mean(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	return sum / float64(len(sorted))
}
