package datasource

import (
	"sort"
	"strings"
)

// CatalogItem 是目录中的商品模板。
type CatalogItem struct {
	SKU             string `json:"sku" yaml:"sku"`
	Name            string `json:"name" yaml:"name"`
	Category        string `json:"category" yaml:"category"`
	UnitPrice       int    `json:"unit_price" yaml:"unit_price"`
	TypicalQuantity int    `json:"typical_quantity" yaml:"typical_quantity"`
}

// Store 描述一家门店。
type Store struct {
	ID       string   `json:"store_id"`
	Name     string   `json:"name"`
	Location string   `json:"location"`
	Sections []string `json:"sections"`
}

// Scenario 控制模拟扫描的库存波动与置信度分布。
type Scenario struct {
	Name               string
	StockVariation     [2]float64
	ConfidenceRange    [2]float64
	AnomalyProbability float64
}

// 内置场景名称。
const (
	ScenarioNormal      = "normal"
	ScenarioLowStock    = "low_stock"
	ScenarioRestock     = "restock"
	ScenarioProblematic = "problematic"
	ScenarioMixed       = "mixed"
)

var scenarios = map[string]Scenario{
	ScenarioNormal:      {Name: ScenarioNormal, StockVariation: [2]float64{-0.1, 0.1}, ConfidenceRange: [2]float64{0.85, 0.98}, AnomalyProbability: 0.05},
	ScenarioLowStock:    {Name: ScenarioLowStock, StockVariation: [2]float64{-0.5, 0}, ConfidenceRange: [2]float64{0.80, 0.95}, AnomalyProbability: 0.3},
	ScenarioRestock:     {Name: ScenarioRestock, StockVariation: [2]float64{0, 0.4}, ConfidenceRange: [2]float64{0.90, 0.99}, AnomalyProbability: 0.02},
	ScenarioProblematic: {Name: ScenarioProblematic, StockVariation: [2]float64{-0.3, 0.3}, ConfidenceRange: [2]float64{0.60, 0.85}, AnomalyProbability: 0.4},
	ScenarioMixed:       {Name: ScenarioMixed, StockVariation: [2]float64{-0.4, 0.3}, ConfidenceRange: [2]float64{0.75, 0.95}, AnomalyProbability: 0.15},
}

// LookupScenario 按名称查找场景，空名称视为 normal。
func LookupScenario(name string) (Scenario, bool) {
	if strings.TrimSpace(name) == "" {
		name = ScenarioNormal
	}
	s, ok := scenarios[strings.ToLower(name)]
	return s, ok
}

// ScenarioNames 返回排序后的场景名称。
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleItems 返回内置商品目录的副本。
func SampleItems() []CatalogItem {
	return []CatalogItem{
		{SKU: "LAPTOP001", Name: "Gaming Laptop Dell G15", Category: "electronics", UnitPrice: 85000, TypicalQuantity: 8},
		{SKU: "PHONE001", Name: "iPhone 15 Pro Max", Category: "smartphones", UnitPrice: 159900, TypicalQuantity: 15},
		{SKU: "TABLET001", Name: "iPad Air M2", Category: "tablets", UnitPrice: 59900, TypicalQuantity: 12},
		{SKU: "WATCH001", Name: "Apple Watch Series 9", Category: "wearables", UnitPrice: 41900, TypicalQuantity: 20},
		{SKU: "HEADPHONE001", Name: "Sony WH-1000XM5", Category: "accessories", UnitPrice: 29990, TypicalQuantity: 25},
	}
}

// SampleStores 返回内置门店列表。
func SampleStores() []Store {
	return []Store{
		{ID: "store_123", Name: "Electronics Superstore", Location: "Mumbai Central", Sections: []string{"electronics", "accessories", "gaming"}},
		{ID: "store_456", Name: "Mobile World", Location: "Delhi CP", Sections: []string{"smartphones", "tablets", "wearables"}},
	}
}

// ItemsForSection 返回与区域匹配的商品。区域与类别互为子串即视为匹配，
// 没有任何匹配时返回全部商品。
func ItemsForSection(catalog []CatalogItem, section string) []CatalogItem {
	needle := strings.ToLower(strings.TrimSpace(section))
	if needle == "" {
		return append([]CatalogItem(nil), catalog...)
	}
	matched := make([]CatalogItem, 0, len(catalog))
	for _, item := range catalog {
		category := strings.ToLower(item.Category)
		if strings.Contains(category, needle) || strings.Contains(needle, category) {
			matched = append(matched, item)
		}
	}
	if len(matched) == 0 {
		return append([]CatalogItem(nil), catalog...)
	}
	return matched
}
