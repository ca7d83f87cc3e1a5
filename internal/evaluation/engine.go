package evaluation

import (
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

// Result 是单个验证者对单个包的评估结果，最后一个阶段完成后不再修改。
type Result struct {
	StructureScore       float64  `json:"structure_score"`
	StructureValid       bool     `json:"structure_valid"`
	ContentQualityScore  float64  `json:"content_quality_score"`
	EvidenceQualityScore float64  `json:"evidence_quality_score"`
	OverallScore         float64  `json:"overall_score"`
	Confidence           float64  `json:"confidence"`
	Notes                []string `json:"notes"`
	Decision             bool     `json:"decision"`
	DecisionReason       string   `json:"decision_reason"`
}

// Engine 按固定顺序运行五个评分阶段。Engine 不持有可变状态，可被并发使用。
type Engine struct {
	profile Profile
}

// New 使用给定配置创建 Engine。
func New(profile Profile) *Engine {
	return &Engine{profile: profile.clone()}
}

// ForSpecialization 使用内置配置创建 Engine，未知专长回退到 general。
func ForSpecialization(spec Specialization) *Engine {
	return New(ResolveProfile(spec))
}

// Profile 返回 Engine 使用的配置副本。
func (e *Engine) Profile() Profile {
	return e.profile.clone()
}

// Evaluate 对包执行完整的评分流水线。单个阶段中的异常数据只会降低分数，
// 不会中断评估。
func (e *Engine) Evaluate(pkg *poa.Package) Result {
	var (
		res   Result
		notes []string
	)

	res.StructureScore, notes = e.structureStage(pkg, notes)
	res.StructureValid = res.StructureScore >= structureValidThreshold

	res.ContentQualityScore, notes = e.contentStage(pkg, notes)
	res.EvidenceQualityScore = e.evidenceStage(pkg)

	res.OverallScore, res.Decision, res.Confidence = e.aggregateStage(res.StructureValid, res.ContentQualityScore, res.EvidenceQualityScore)
	res.DecisionReason = reasonStage(res.Decision, res.OverallScore, notes)

	if notes == nil {
		notes = []string{}
	}
	res.Notes = notes
	return res
}
