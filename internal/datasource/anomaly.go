package datasource

import "fmt"

// AnomalyType 标识异常类别。
type AnomalyType string

const (
	AnomalyOutOfStock    AnomalyType = "out_of_stock"
	AnomalyLowStock      AnomalyType = "low_stock"
	AnomalyOverstock     AnomalyType = "overstock"
	AnomalyLowConfidence AnomalyType = "low_confidence"
	AnomalyManualCheck   AnomalyType = "manual_check_required"
)

const (
	lowStockRatio  = 0.2
	overstockRatio = 1.5
)

// Anomaly 描述扫描中发现的异常。
type Anomaly struct {
	Type             AnomalyType `json:"type"`
	SKU              string      `json:"sku"`
	ItemName         string      `json:"item_name"`
	Description      string      `json:"description"`
	Severity         string      `json:"severity"`
	Location         string      `json:"location"`
	ExpectedQuantity int         `json:"expected_quantity,omitempty"`
	ActualQuantity   int         `json:"actual_quantity,omitempty"`
	Confidence       float64     `json:"confidence,omitempty"`
}

func (a Anomaly) record() map[string]any {
	rec := map[string]any{
		"type":        string(a.Type),
		"sku":         a.SKU,
		"item_name":   a.ItemName,
		"description": a.Description,
		"severity":    a.Severity,
		"location":    a.Location,
	}
	switch a.Type {
	case AnomalyOutOfStock, AnomalyLowStock, AnomalyOverstock:
		rec["expected_quantity"] = a.ExpectedQuantity
		rec["actual_quantity"] = a.ActualQuantity
	case AnomalyLowConfidence:
		rec["confidence"] = a.Confidence
	}
	return rec
}

// DetectAnomalies 按库存水位与扫描置信度识别异常。库存类异常互斥，
// 低置信度与人工复核会在其基础上叠加。
func DetectAnomalies(items []Item, confidenceThreshold float64) []Anomaly {
	anomalies := make([]Anomaly, 0)
	for _, item := range items {
		base := Anomaly{SKU: item.SKU, ItemName: item.Name, Location: item.Location}
		expected := float64(item.ExpectedQuantity)

		switch {
		case item.Quantity == 0:
			a := base
			a.Type, a.Severity = AnomalyOutOfStock, "high"
			a.Description = fmt.Sprintf("Item %s is out of stock", item.Name)
			a.ExpectedQuantity = item.ExpectedQuantity
			anomalies = append(anomalies, a)
		case float64(item.Quantity) < expected*lowStockRatio:
			a := base
			a.Type, a.Severity = AnomalyLowStock, "medium"
			a.Description = fmt.Sprintf("Low stock: %d (expected ~%d)", item.Quantity, item.ExpectedQuantity)
			a.ExpectedQuantity, a.ActualQuantity = item.ExpectedQuantity, item.Quantity
			anomalies = append(anomalies, a)
		case float64(item.Quantity) > expected*overstockRatio:
			a := base
			a.Type, a.Severity = AnomalyOverstock, "low"
			a.Description = fmt.Sprintf("Overstock: %d (expected ~%d)", item.Quantity, item.ExpectedQuantity)
			a.ExpectedQuantity, a.ActualQuantity = item.ExpectedQuantity, item.Quantity
			anomalies = append(anomalies, a)
		}

		if item.Confidence < confidenceThreshold {
			a := base
			a.Type, a.Severity = AnomalyLowConfidence, "medium"
			a.Description = fmt.Sprintf("Low scan confidence: %.2f", item.Confidence)
			a.Confidence = item.Confidence
			anomalies = append(anomalies, a)
		}

		if item.RequiresManualCheck {
			a := base
			a.Type, a.Severity = AnomalyManualCheck, "medium"
			a.Description = "Item requires manual verification"
			anomalies = append(anomalies, a)
		}
	}
	return anomalies
}

// Quality 是扫描质量评级。
type Quality string

const (
	QualityExcellent  Quality = "excellent"
	QualityGood       Quality = "good"
	QualityAcceptable Quality = "acceptable"
	QualityPoor       Quality = "poor"
	QualityFailed     Quality = "failed"
)

var qualityBands = []struct {
	quality       Quality
	minConfidence float64
	maxAnomalies  float64
}{
	{QualityExcellent, 0.95, 0.05},
	{QualityGood, 0.85, 0.15},
	{QualityAcceptable, 0.75, 0.25},
	{QualityPoor, 0.65, 0.40},
}

// AssessQuality 根据平均置信度与异常商品占比评级。
func AssessQuality(avgConfidence float64, anomalyCount, totalItems int) Quality {
	ratio := 0.0
	if totalItems > 0 {
		ratio = float64(anomalyCount) / float64(totalItems)
	}
	for _, band := range qualityBands {
		if avgConfidence >= band.minConfidence && ratio <= band.maxAnomalies {
			return band.quality
		}
	}
	return QualityFailed
}
