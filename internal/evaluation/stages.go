package evaluation

import (
	"fmt"
	"math"
	"strings"

	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

const (
	structureValidThreshold = 0.8
	nestedGapPenalty        = 0.9

	highConfidence    = 0.9
	lowConfidence     = 0.7
	confidenceBonus   = 0.1
	confidencePenalty = 0.1
	maxSaneQuantity   = 1000.0
	quantityBonus     = 0.05

	anomalyRateLimit      = 0.3
	anomalyPenalty        = 0.8
	scanConfidencePenalty = 0.9

	optionalEvidenceBonus = 0.1
	minConfidence         = 0.5
)

var requiredInventoryFields = []string{"store_id", "scan_timestamp", "items", "total_items_scanned"}

// structureStage 检查顶层字段与库存载荷中的嵌套字段。
func (e *Engine) structureStage(pkg *poa.Package, notes []string) (float64, []string) {
	if pkg == nil {
		return 0, append(notes, "Package is missing")
	}

	present := []struct {
		name string
		ok   bool
	}{
		{"submission_id", pkg.SubmissionID != ""},
		{"studio_id", pkg.StudioID != ""},
		{"timestamp", !pkg.Timestamp.IsZero()},
		{"worker_agent_id", pkg.WorkerAgentID != ""},
		{"action_type", pkg.ActionType != ""},
		{"inventory_data", len(pkg.InventoryData) > 0},
		{"evidence", len(pkg.Evidence) > 0},
		{"package_hash", pkg.PackageHash != ""},
	}

	var (
		score   float64
		missing []string
	)
	for _, f := range present {
		if f.ok {
			score += 1.0 / float64(len(present))
		} else {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		notes = append(notes, "Missing required fields: "+strings.Join(missing, ", "))
	}

	if len(pkg.InventoryData) > 0 {
		for _, field := range requiredInventoryFields {
			if v, ok := pkg.InventoryData[field]; !ok || v == nil {
				score *= nestedGapPenalty
				notes = append(notes, "Missing inventory field: "+field)
			}
		}
	}
	return score, notes
}

// contentStage 计算商品记录的平均质量，并按异常率与扫描置信度惩罚。
func (e *Engine) contentStage(pkg *poa.Package, notes []string) (float64, []string) {
	if pkg == nil {
		return 0, notes
	}
	items := pkg.Items()
	if len(items) == 0 {
		return 0, append(notes, "No items found in inventory data")
	}

	var total float64
	for i, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			notes = append(notes, fmt.Sprintf("Malformed item record at index %d", i))
			continue
		}
		total += e.itemScore(item)
	}
	score := total / float64(len(items))

	if anomalies := listLen(pkg.InventoryData["anomalies"]); float64(anomalies) > float64(len(items))*anomalyRateLimit {
		score *= anomalyPenalty
		notes = append(notes, "High anomaly rate detected")
	}

	scanConfidence, _ := toFloat(pkg.InventoryData["scan_confidence"])
	if scanConfidence < e.profile.MinScanConfidence {
		score *= scanConfidencePenalty
		notes = append(notes, fmt.Sprintf("Low scan confidence: %.2f", scanConfidence))
	}
	return score, notes
}

func (e *Engine) itemScore(item map[string]any) float64 {
	fields := e.profile.RequiredItemFields
	var score float64
	for _, field := range fields {
		if v, ok := item[field]; ok && v != nil {
			score += 1.0 / float64(len(fields))
		}
	}

	confidence, _ := toFloat(item["confidence"])
	switch {
	case confidence >= highConfidence:
		score += confidenceBonus
	case confidence < lowConfidence:
		score -= confidencePenalty
	}

	quantity, _ := toFloat(item["quantity"])
	if quantity >= 0 && quantity <= maxSaneQuantity {
		score += quantityBonus
	}
	return clamp01(score)
}

// evidenceStage 统计必需证据的覆盖率，再为可选增强字段加分。
func (e *Engine) evidenceStage(pkg *poa.Package) float64 {
	required := e.profile.RequiredEvidence
	if pkg == nil || len(required) == 0 {
		return 0
	}

	values := make([]string, 0, len(pkg.Evidence))
	for _, v := range pkg.Evidence {
		values = append(values, stringForm(v))
	}

	found := 0
	for _, key := range required {
		if _, ok := pkg.Evidence[key]; ok {
			found++
			continue
		}
		for _, v := range values {
			if strings.Contains(v, key) {
				found++
				break
			}
		}
	}

	score := float64(found) / float64(len(required))
	for _, key := range e.profile.OptionalEvidence {
		if _, ok := pkg.Evidence[key]; ok {
			score += optionalEvidenceBonus
		}
	}
	return math.Min(1, score)
}

// aggregateStage 计算加权总分、决策与一致性置信度。
func (e *Engine) aggregateStage(structureValid bool, content, evidence float64) (overall float64, decision bool, confidence float64) {
	var sb float64
	if structureValid {
		sb = 1
	}
	w := e.profile.Weights
	overall = sb*w.Structure + content*w.Content + evidence*w.Evidence
	decision = overall >= e.profile.MinApprovalThreshold

	variance := math.Abs(sb-content) + math.Abs(content-evidence)
	confidence = math.Max(minConfidence, 1-variance/2)
	return overall, decision, confidence
}

// reasonStage 根据决策与分数段生成可读的理由。
func reasonStage(decision bool, overall float64, notes []string) string {
	if decision {
		switch {
		case overall >= 0.9:
			return "Excellent submission quality with complete evidence and accurate data"
		case overall >= 0.8:
			return "Good submission quality with minor issues that do not affect validity"
		default:
			return "Acceptable submission quality meeting minimum requirements"
		}
	}
	if len(notes) == 0 {
		return fmt.Sprintf("Submission quality score %.2f below approval threshold", overall)
	}
	if len(notes) > 3 {
		notes = notes[:3]
	}
	return "Submission rejected due to: " + strings.Join(notes, "; ")
}

// stringForm 返回证据值用于子串匹配的字符串形式。
func stringForm(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if data, err := codec.Canonicalize(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func listLen(v any) int {
	switch list := v.(type) {
	case []any:
		return len(list)
	case []string:
		return len(list)
	case []map[string]any:
		return len(list)
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
