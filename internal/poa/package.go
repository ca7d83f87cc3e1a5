package poa

import (
	"fmt"
	"time"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// ActionType 表示工作者可提交的动作类型。
type ActionType string

// 支持的动作类型。
const (
	ActionStockReport    ActionType = "KiranaAI_StockReport"
	ActionInventoryAudit ActionType = "KiranaAI_InventoryAudit"
	ActionReorderAlert   ActionType = "KiranaAI_ReorderAlert"
)

// 包的默认元数据。
const (
	DefaultStudioID = "kirana_ai_poc"
	DefaultCreator  = "chaoschain-dvn-poc"
	Version         = "1.0"
	SchemaVersion   = "poa-package-v1"
)

// SupportedActionTypes 返回全部受支持的动作类型。
func SupportedActionTypes() []ActionType {
	return []ActionType{ActionStockReport, ActionInventoryAudit, ActionReorderAlert}
}

// Valid 判断动作类型是否受支持。
func (a ActionType) Valid() bool {
	switch a {
	case ActionStockReport, ActionInventoryAudit, ActionReorderAlert:
		return true
	default:
		return false
	}
}

// ParseActionType 校验并转换动作类型字符串。
func ParseActionType(raw string) (ActionType, error) {
	a := ActionType(raw)
	if !a.Valid() {
		return "", xerrors.New(xerrors.CodeInvalidActionType, fmt.Sprintf("不支持的动作类型: %q", raw),
			xerrors.WithMetadata("action_type", raw))
	}
	return a, nil
}

// Metadata 描述包的版本信息。
type Metadata struct {
	Version       string `json:"version"`
	CreatedBy     string `json:"created_by"`
	SchemaVersion string `json:"schema_version"`
}

// Package 是一次 Proof-of-Action 提交。PackageHash 赋值之后不再修改，
// 所有验证者只读共享同一个实例。
type Package struct {
	SubmissionID  string         `json:"submission_id"`
	StudioID      string         `json:"studio_id"`
	Timestamp     time.Time      `json:"timestamp"`
	WorkerAgentID string         `json:"worker_agent_id"`
	ActionType    ActionType     `json:"action_type"`
	InventoryData map[string]any `json:"inventory_data"`
	Evidence      map[string]any `json:"evidence"`
	Metadata      Metadata       `json:"metadata"`
	PackageHash   string         `json:"package_hash"`
}

// content 是参与哈希计算的字段集合，不包含 package_hash。
type content struct {
	SubmissionID  string         `json:"submission_id"`
	StudioID      string         `json:"studio_id"`
	Timestamp     string         `json:"timestamp"`
	WorkerAgentID string         `json:"worker_agent_id"`
	ActionType    ActionType     `json:"action_type"`
	InventoryData map[string]any `json:"inventory_data"`
	Evidence      map[string]any `json:"evidence"`
	Metadata      Metadata       `json:"metadata"`
}

func (p *Package) content() content {
	return content{
		SubmissionID:  p.SubmissionID,
		StudioID:      p.StudioID,
		Timestamp:     formatTimestamp(p.Timestamp),
		WorkerAgentID: p.WorkerAgentID,
		ActionType:    p.ActionType,
		InventoryData: p.InventoryData,
		Evidence:      p.Evidence,
		Metadata:      p.Metadata,
	}
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// Items 返回 inventory_data.items，缺失或类型不符时返回 nil。
func (p *Package) Items() []any {
	if p == nil || p.InventoryData == nil {
		return nil
	}
	items, _ := p.InventoryData["items"].([]any)
	return items
}
