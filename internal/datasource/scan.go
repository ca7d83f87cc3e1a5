package datasource

import (
	"context"
	"fmt"
	"time"
)

// DefaultConfidenceThreshold 低于该置信度的商品需要人工复核。
const DefaultConfidenceThreshold = 0.8

// Request 描述一次扫描请求。
type Request struct {
	StoreID  string `json:"store_id"`
	Section  string `json:"section"`
	Scenario string `json:"scenario,omitempty"`
	// Items 非空时替代目录中按区域匹配的商品。
	Items []CatalogItem `json:"items,omitempty"`
}

// Source 是库存扫描数据的来源。
type Source interface {
	Collect(ctx context.Context, req Request) (Scan, error)
}

// Item 是单个商品的扫描结果。
type Item struct {
	SKU                 string    `json:"sku"`
	Name                string    `json:"name"`
	Category            string    `json:"category"`
	Quantity            int       `json:"quantity"`
	ExpectedQuantity    int       `json:"expected_quantity"`
	UnitPrice           int       `json:"unit_price"`
	Location            string    `json:"location"`
	VerificationMethod  string    `json:"verification_method"`
	Confidence          float64   `json:"confidence"`
	ScanTimestamp       time.Time `json:"scan_timestamp"`
	RequiresManualCheck bool      `json:"requires_manual_check"`
}

// TotalValue 返回库存金额。
func (i Item) TotalValue() int {
	return i.Quantity * i.UnitPrice
}

func (i Item) record(storeID string) map[string]any {
	return map[string]any{
		"sku":                   i.SKU,
		"name":                  i.Name,
		"category":              i.Category,
		"quantity":              i.Quantity,
		"expected_quantity":     i.ExpectedQuantity,
		"quantity_variance":     i.Quantity - i.ExpectedQuantity,
		"unit_price":            i.UnitPrice,
		"total_value":           i.TotalValue(),
		"location":              i.Location,
		"verification_method":   i.VerificationMethod,
		"confidence":            i.Confidence,
		"scan_timestamp":        i.ScanTimestamp.UTC().Format(time.RFC3339Nano),
		"store_id":              storeID,
		"barcode_readable":      i.Confidence > DefaultConfidenceThreshold,
		"requires_manual_check": i.RequiresManualCheck,
	}
}

// Scan 是一次区域扫描的完整结果。
type Scan struct {
	StoreID        string    `json:"store_id"`
	Section        string    `json:"section"`
	Scenario       string    `json:"scenario"`
	AgentID        string    `json:"agent_id,omitempty"`
	Items          []Item    `json:"items"`
	Anomalies      []Anomaly `json:"anomalies"`
	ScanConfidence float64   `json:"scan_confidence"`
	Quality        Quality   `json:"verification_quality"`
	Duration       string    `json:"verification_duration"`
	Timestamp      time.Time `json:"scan_timestamp"`
}

// InventoryData 生成放入 PoA 包的库存载荷。
func (s Scan) InventoryData() map[string]any {
	items := make([]any, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, item.record(s.StoreID))
	}
	anomalies := make([]any, 0, len(s.Anomalies))
	for _, a := range s.Anomalies {
		if a.Type == AnomalyManualCheck {
			continue
		}
		anomalies = append(anomalies, a.record())
	}
	data := map[string]any{
		"store_id":              s.StoreID,
		"scan_timestamp":        s.Timestamp.UTC().Format(time.RFC3339Nano),
		"section":               s.Section,
		"items":                 items,
		"total_items_scanned":   len(s.Items),
		"verification_duration": s.Duration,
		"scan_confidence":       s.ScanConfidence,
		"anomalies":             anomalies,
		"verification_quality":  string(s.Quality),
	}
	if s.AgentID != "" {
		data["verification_notes"] = "Automated scan by " + s.AgentID
	}
	return data
}

// Evidence 生成与扫描对应的证据载荷。
func (s Scan) Evidence(agentID string) map[string]any {
	skus := make([]any, 0, len(s.Items))
	for _, item := range s.Items {
		skus = append(skus, item.SKU)
	}
	return map[string]any{
		"scan_logs":           fmt.Sprintf("scan_log_%s_%s", s.StoreID, s.Timestamp.UTC().Format("20060102_150405")),
		"item_list":           skus,
		"verification_method": "automated_barcode_scan",
		"agent_id":            agentID,
		"scan_metadata": map[string]any{
			"confidence_threshold": DefaultConfidenceThreshold,
			"scan_method":          s.Scenario,
		},
	}
}
