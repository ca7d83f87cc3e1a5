// Package poatest provides package fixtures shared by tests across the module.
package poatest

import (
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

// FixedTime 是测试夹具使用的固定时间。
var FixedTime = time.Date(2025, 7, 14, 10, 30, 0, 0, time.UTC)

// Inventory 返回一份字段完整的库存扫描载荷。
func Inventory() map[string]any {
	return map[string]any{
		"store_id":            "store_123",
		"scan_timestamp":      FixedTime.Format(time.RFC3339),
		"section":             "electronics",
		"total_items_scanned": 2,
		"scan_confidence":     0.95,
		"anomalies":           []any{},
		"items": []any{
			map[string]any{
				"sku":                 "LAPTOP001",
				"name":                "Gaming Laptop Dell G15",
				"quantity":            8,
				"location":            "electronics-A1",
				"verification_method": "barcode_scan",
				"confidence":          0.96,
			},
			map[string]any{
				"sku":                 "PHONE001",
				"name":                "iPhone 15 Pro Max",
				"quantity":            15,
				"location":            "electronics-A2",
				"verification_method": "rfid_scan",
				"confidence":          0.93,
			},
		},
	}
}

// Evidence 返回包含必需证据与可选增强字段的证据载荷。
func Evidence() map[string]any {
	return map[string]any{
		"scan_logs":           "scan_log_store_123_20250714",
		"item_list":           []any{"LAPTOP001", "PHONE001"},
		"verification_method": "automated_barcode_scan",
		"agent_id":            "worker_001",
	}
}

// Package 构建一个使用固定时间的有效包。
func Package(submissionID string) *poa.Package {
	return Custom(submissionID, Inventory(), Evidence())
}

// Custom 使用给定载荷构建有效包，失败时 panic。
func Custom(submissionID string, inventory, evidence map[string]any) *poa.Package {
	b := poa.NewBuilder(poa.WithClock(func() time.Time { return FixedTime }))
	pkg, err := b.Build(poa.BuildRequest{
		SubmissionID:  submissionID,
		WorkerAgentID: "worker_001",
		ActionType:    poa.ActionStockReport,
		InventoryData: inventory,
		Evidence:      evidence,
	})
	if err != nil {
		panic(err)
	}
	return pkg
}
