package datasource

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

var verificationMethods = []string{"barcode_scan", "visual_inspection", "rfid_scan"}

const (
	anomalyConfidenceLow  = 0.5
	anomalyConfidenceHigh = 0.79
	baseScanSeconds       = 30
)

// SimulatedSource 按场景生成可复现的扫描结果。
type SimulatedSource struct {
	catalog   []CatalogItem
	threshold float64
	clock     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatedOption 定义 SimulatedSource 的可选配置。
type SimulatedOption func(*SimulatedSource)

// WithCatalog 替换内置商品目录。
func WithCatalog(items []CatalogItem) SimulatedOption {
	return func(s *SimulatedSource) {
		if len(items) > 0 {
			s.catalog = append([]CatalogItem(nil), items...)
		}
	}
}

// WithSourceClock 替换时间来源。
func WithSourceClock(clock func() time.Time) SimulatedOption {
	return func(s *SimulatedSource) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithConfidenceThreshold 设置人工复核的置信度阈值。
func WithConfidenceThreshold(threshold float64) SimulatedOption {
	return func(s *SimulatedSource) {
		if threshold > 0 && threshold <= 1 {
			s.threshold = threshold
		}
	}
}

// NewSimulatedSource 使用给定种子创建模拟数据源，相同种子产生相同序列。
func NewSimulatedSource(seed int64, opts ...SimulatedOption) *SimulatedSource {
	s := &SimulatedSource{
		catalog:   SampleItems(),
		threshold: DefaultConfidenceThreshold,
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Collect 生成一次区域扫描。
func (s *SimulatedSource) Collect(ctx context.Context, req Request) (Scan, error) {
	if err := ctx.Err(); err != nil {
		return Scan{}, xerrors.Wrap(xerrors.CodeTimeout, err, "扫描被取消")
	}
	if strings.TrimSpace(req.StoreID) == "" {
		return Scan{}, xerrors.New(xerrors.CodeInvalidArgument, "store_id 不能为空")
	}
	scenario, ok := LookupScenario(req.Scenario)
	if !ok {
		return Scan{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的扫描场景: %q", req.Scenario),
			xerrors.WithMetadata("scenario", req.Scenario))
	}

	templates := req.Items
	if len(templates) == 0 {
		templates = ItemsForSection(s.catalog, req.Section)
	}

	now := s.clock().UTC()

	s.mu.Lock()
	items := make([]Item, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, s.scanItem(tpl, scenario, now))
	}
	duration := s.duration(len(items))
	s.mu.Unlock()

	return Summarize(req.StoreID, req.Section, scenario.Name, items, now, duration, s.threshold), nil
}

// scanItem 调用方需持有 s.mu。
func (s *SimulatedSource) scanItem(tpl CatalogItem, sc Scenario, now time.Time) Item {
	variation := s.uniform(sc.StockVariation[0], sc.StockVariation[1])
	quantity := int(float64(tpl.TypicalQuantity) * (1 + variation))
	if quantity < 0 {
		quantity = 0
	}
	confidence := s.uniform(sc.ConfidenceRange[0], sc.ConfidenceRange[1])

	if s.rng.Float64() < sc.AnomalyProbability {
		if s.rng.Float64() < 0.5 {
			quantity = 0
		} else {
			confidence = s.uniform(anomalyConfidenceLow, anomalyConfidenceHigh)
		}
	}

	location := fmt.Sprintf("Aisle-%c-Shelf-%d", 'A'+rune(s.rng.Intn(4)), 1+s.rng.Intn(6))
	method := verificationMethods[s.rng.Intn(len(verificationMethods))]

	return Item{
		SKU:                 tpl.SKU,
		Name:                tpl.Name,
		Category:            tpl.Category,
		Quantity:            quantity,
		ExpectedQuantity:    tpl.TypicalQuantity,
		UnitPrice:           tpl.UnitPrice,
		Location:            location,
		VerificationMethod:  method,
		Confidence:          round3(confidence),
		ScanTimestamp:       now,
		RequiresManualCheck: confidence < s.threshold || quantity == 0,
	}
}

// duration 估算扫描耗时，调用方需持有 s.mu。
func (s *SimulatedSource) duration(n int) time.Duration {
	seconds := baseScanSeconds
	for i := 0; i < n; i++ {
		seconds += 45 + s.rng.Intn(46)
	}
	scaled := float64(seconds) * s.uniform(0.8, 1.2)
	return time.Duration(scaled) * time.Second
}

func (s *SimulatedSource) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// Summarize 根据商品扫描结果计算异常、平均置信度与质量评级。
func Summarize(storeID, section, scenario string, items []Item, ts time.Time, duration time.Duration, threshold float64) Scan {
	var (
		total   float64
		flagged int
	)
	for _, item := range items {
		total += item.Confidence
		if item.Quantity == 0 || item.Confidence < threshold {
			flagged++
		}
	}
	avg := 0.0
	if len(items) > 0 {
		avg = round3(total / float64(len(items)))
	}
	return Scan{
		StoreID:        storeID,
		Section:        section,
		Scenario:       scenario,
		Items:          items,
		Anomalies:      DetectAnomalies(items, threshold),
		ScanConfidence: avg,
		Quality:        AssessQuality(avg, flagged, len(items)),
		Duration:       FormatDuration(duration),
		Timestamp:      ts.UTC(),
	}
}

// FormatDuration 以 HH:MM:SS 格式输出时长。
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

var _ Source = (*SimulatedSource)(nil)
