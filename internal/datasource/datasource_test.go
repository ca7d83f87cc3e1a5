package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

var fixedNow = time.Date(2025, 7, 14, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestSimulatedSourceIsDeterministic(t *testing.T) {
	req := Request{StoreID: "store_123", Section: "electronics", Scenario: ScenarioMixed}

	a, err := NewSimulatedSource(42, WithSourceClock(fixedClock)).Collect(context.Background(), req)
	require.NoError(t, err)
	b, err := NewSimulatedSource(42, WithSourceClock(fixedClock)).Collect(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.Len(t, a.Items, 1)
	require.Equal(t, "LAPTOP001", a.Items[0].SKU)
	require.Regexp(t, `^Aisle-[A-D]-Shelf-[1-6]$`, a.Items[0].Location)
	require.Regexp(t, `^\d{2}:\d{2}:\d{2}$`, a.Duration)
	require.Equal(t, fixedNow, a.Timestamp)
}

func TestSimulatedSourceRespectsScenarioRanges(t *testing.T) {
	src := NewSimulatedSource(7, WithSourceClock(fixedClock))
	for i := 0; i < 20; i++ {
		scan, err := src.Collect(context.Background(), Request{StoreID: "store_456", Section: "all", Scenario: ScenarioRestock})
		require.NoError(t, err)
		require.Len(t, scan.Items, len(SampleItems()))
		for _, item := range scan.Items {
			require.GreaterOrEqual(t, item.Quantity, 0)
			require.GreaterOrEqual(t, item.Confidence, anomalyConfidenceLow)
			require.LessOrEqual(t, item.Confidence, 0.99)
			require.Equal(t, item.Confidence < DefaultConfidenceThreshold || item.Quantity == 0, item.RequiresManualCheck)
			require.Contains(t, verificationMethods, item.VerificationMethod)
		}
	}
}

func TestSimulatedSourceRejectsBadRequests(t *testing.T) {
	src := NewSimulatedSource(1)

	_, err := src.Collect(context.Background(), Request{Section: "electronics"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	_, err = src.Collect(context.Background(), Request{StoreID: "store_123", Scenario: "flood"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Collect(ctx, Request{StoreID: "store_123"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeTimeout))
}

func TestItemsForSection(t *testing.T) {
	catalog := SampleItems()

	tests := []struct {
		section string
		want    []string
	}{
		{"smartphones", []string{"PHONE001"}},
		{"Phones", []string{"PHONE001"}},
		{"consumer electronics", []string{"LAPTOP001"}},
		{"gaming", []string{"LAPTOP001", "PHONE001", "TABLET001", "WATCH001", "HEADPHONE001"}},
		{"", []string{"LAPTOP001", "PHONE001", "TABLET001", "WATCH001", "HEADPHONE001"}},
	}
	for _, tt := range tests {
		t.Run(tt.section, func(t *testing.T) {
			var got []string
			for _, item := range ItemsForSection(catalog, tt.section) {
				got = append(got, item.SKU)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDetectAnomalies(t *testing.T) {
	items := []Item{
		{SKU: "A", Name: "Empty", Quantity: 0, ExpectedQuantity: 10, Confidence: 0.9, RequiresManualCheck: true},
		{SKU: "B", Name: "Low", Quantity: 1, ExpectedQuantity: 10, Confidence: 0.9},
		{SKU: "C", Name: "Over", Quantity: 16, ExpectedQuantity: 10, Confidence: 0.9},
		{SKU: "D", Name: "Blurry", Quantity: 10, ExpectedQuantity: 10, Confidence: 0.6, RequiresManualCheck: true},
		{SKU: "E", Name: "Fine", Quantity: 2, ExpectedQuantity: 10, Confidence: 0.8},
	}

	got := DetectAnomalies(items, DefaultConfidenceThreshold)

	type key struct {
		sku string
		typ AnomalyType
	}
	var keys []key
	for _, a := range got {
		keys = append(keys, key{a.SKU, a.Type})
	}
	require.Equal(t, []key{
		{"A", AnomalyOutOfStock},
		{"A", AnomalyManualCheck},
		{"B", AnomalyLowStock},
		{"C", AnomalyOverstock},
		{"D", AnomalyLowConfidence},
		{"D", AnomalyManualCheck},
	}, keys)
	require.Equal(t, "high", got[0].Severity)
	require.Equal(t, "low", got[3].Severity)
	require.Equal(t, 1, got[2].ActualQuantity)
}

func TestAssessQuality(t *testing.T) {
	tests := []struct {
		avg     float64
		flagged int
		total   int
		want    Quality
	}{
		{0.97, 0, 20, QualityExcellent},
		{0.97, 2, 20, QualityGood},
		{0.90, 0, 10, QualityGood},
		{0.80, 2, 10, QualityAcceptable},
		{0.70, 4, 10, QualityPoor},
		{0.70, 5, 10, QualityFailed},
		{0.60, 0, 10, QualityFailed},
		{0.99, 0, 0, QualityExcellent},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, AssessQuality(tt.avg, tt.flagged, tt.total), "avg=%v flagged=%d total=%d", tt.avg, tt.flagged, tt.total)
	}
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "00:00:00", FormatDuration(-time.Second))
	require.Equal(t, "00:04:05", FormatDuration(245*time.Second))
	require.Equal(t, "01:00:01", FormatDuration(time.Hour+time.Second))
}

func TestScanPayloadsEvaluateAsComplete(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 4, 5} {
		for _, scenario := range ScenarioNames() {
			src := NewSimulatedSource(seed, WithSourceClock(fixedClock))
			scan, err := src.Collect(context.Background(), Request{StoreID: "store_123", Section: "electronics", Scenario: scenario})
			require.NoError(t, err)
			scan.AgentID = "worker_1"

			pkg, err := poa.Build("sub-1", "", "worker_1", poa.ActionStockReport, scan.InventoryData(), scan.Evidence("worker_1"))
			require.NoError(t, err)

			res := evaluation.ForSpecialization(evaluation.SpecializationGeneral).Evaluate(pkg)
			require.Equal(t, 1.0, res.StructureScore, "seed=%d scenario=%s", seed, scenario)
			require.Equal(t, 1.0, res.EvidenceQualityScore)
			require.True(t, res.Decision, "seed=%d scenario=%s notes=%v", seed, scenario, res.Notes)
		}
	}
}

func TestInventoryDataOmitsManualCheckAnomalies(t *testing.T) {
	items := []Item{{SKU: "A", Name: "Empty", Quantity: 0, ExpectedQuantity: 4, Confidence: 0.9, RequiresManualCheck: true}}
	scan := Summarize("store_123", "electronics", ScenarioNormal, items, fixedNow, time.Minute, DefaultConfidenceThreshold)

	require.Len(t, scan.Anomalies, 2)
	data := scan.InventoryData()
	anomalies := data["anomalies"].([]any)
	require.Len(t, anomalies, 1)
	require.Equal(t, "out_of_stock", anomalies[0].(map[string]any)["type"])
	require.Equal(t, "00:01:00", data["verification_duration"])
	require.Equal(t, 1, data["total_items_scanned"])

	evidence := scan.Evidence("worker_1")
	require.Equal(t, "scan_log_store_123_20250714_103000", evidence["scan_logs"])
	require.Equal(t, []any{"A"}, evidence["item_list"])
}

func TestFileSourceReplaysFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scans.json")
	fixture := `{
  "store_123": {
    "section": "electronics",
    "scan_timestamp": "2025-07-14T10:30:00Z",
    "items": [
      {"sku": "LAPTOP001", "name": "Gaming Laptop Dell G15", "category": "electronics", "quantity": 8, "expected_quantity": 8, "unit_price": 85000, "location": "Aisle-A-Shelf-1", "verification_method": "barcode_scan", "confidence": 0.95},
      {"sku": "PHONE001", "name": "iPhone 15 Pro Max", "category": "smartphones", "quantity": 0, "expected_quantity": 15, "unit_price": 159900, "location": "Aisle-B-Shelf-2", "verification_method": "rfid_scan", "confidence": 0.85}
    ]
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	src := NewFileSource(path)
	scan, err := src.Collect(context.Background(), Request{StoreID: "store_123"})
	require.NoError(t, err)
	require.Equal(t, "store_123", scan.StoreID)
	require.Equal(t, "recorded", scan.Scenario)
	require.Len(t, scan.Items, 2)
	require.InDelta(t, 0.9, scan.ScanConfidence, 1e-9)
	require.Equal(t, QualityFailed, scan.Quality)
	require.Equal(t, AnomalyOutOfStock, scan.Anomalies[0].Type)

	_, err = src.Collect(context.Background(), Request{StoreID: "store_999"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))

	_, err = NewFileSource(filepath.Join(dir, "missing.json")).Collect(context.Background(), Request{StoreID: "store_123"})
	require.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
}
