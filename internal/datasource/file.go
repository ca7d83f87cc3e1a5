package datasource

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// FileSource 从 JSON 文件回放预先录制的扫描。
//
// 文件内容是单个 Scan 或以 store_id 为键的 Scan 映射。缺失的异常、
// 平均置信度与质量评级会按商品数据重新计算。
type FileSource struct {
	path      string
	threshold float64
}

// NewFileSource 创建文件数据源。
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, threshold: DefaultConfidenceThreshold}
}

// Collect 读取文件并返回与请求门店匹配的扫描。
func (f *FileSource) Collect(ctx context.Context, req Request) (Scan, error) {
	if err := ctx.Err(); err != nil {
		return Scan{}, xerrors.Wrap(xerrors.CodeTimeout, err, "读取扫描被取消")
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Scan{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取扫描文件失败", xerrors.WithMetadata("path", f.path))
	}

	scan, err := f.pick(data, req.StoreID)
	if err != nil {
		return Scan{}, err
	}
	if scan.Section == "" {
		scan.Section = req.Section
	}
	if scan.Scenario == "" {
		scan.Scenario = "recorded"
	}
	if scan.Timestamp.IsZero() {
		scan.Timestamp = time.Now().UTC()
	}
	if len(scan.Anomalies) == 0 && scan.ScanConfidence == 0 {
		summary := Summarize(scan.StoreID, scan.Section, scan.Scenario, scan.Items, scan.Timestamp, 0, f.threshold)
		scan.Anomalies = summary.Anomalies
		scan.ScanConfidence = summary.ScanConfidence
		if scan.Quality == "" {
			scan.Quality = summary.Quality
		}
	}
	if scan.Duration == "" {
		scan.Duration = FormatDuration(0)
	}
	return scan, nil
}

func (f *FileSource) pick(data []byte, storeID string) (Scan, error) {
	trimmed := strings.TrimSpace(string(data))
	var single Scan
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil && single.StoreID != "" {
		if storeID != "" && single.StoreID != storeID {
			return Scan{}, xerrors.New(xerrors.CodeNotFound, "扫描文件中没有该门店",
				xerrors.WithMetadata("store_id", storeID))
		}
		return single, nil
	}

	var byStore map[string]Scan
	if err := json.Unmarshal([]byte(trimmed), &byStore); err != nil {
		return Scan{}, xerrors.Wrap(xerrors.CodeEncoding, err, "解析扫描文件失败", xerrors.WithMetadata("path", f.path))
	}
	scan, ok := byStore[storeID]
	if !ok {
		return Scan{}, xerrors.New(xerrors.CodeNotFound, "扫描文件中没有该门店",
			xerrors.WithMetadata("store_id", storeID))
	}
	if scan.StoreID == "" {
		scan.StoreID = storeID
	}
	return scan, nil
}

var _ Source = (*FileSource)(nil)
