package poa

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// BuildRequest 描述构建一个包所需的输入。
type BuildRequest struct {
	SubmissionID  string
	StudioID      string
	WorkerAgentID string
	ActionType    ActionType
	InventoryData map[string]any
	Evidence      map[string]any
}

// Builder 负责组装包并计算内容哈希。
type Builder struct {
	clock     func() time.Time
	createdBy string
	studioID  string
}

// Option 定义 Builder 的可选配置。
type Option func(*Builder)

// WithClock 替换时间来源，主要用于测试。
func WithClock(clock func() time.Time) Option {
	return func(b *Builder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithCreatedBy 设置 metadata.created_by。
func WithCreatedBy(name string) Option {
	return func(b *Builder) {
		if strings.TrimSpace(name) != "" {
			b.createdBy = name
		}
	}
}

// WithStudioID 设置请求未指定 studio 时使用的默认值。
func WithStudioID(id string) Option {
	return func(b *Builder) {
		if strings.TrimSpace(id) != "" {
			b.studioID = id
		}
	}
}

// NewBuilder 创建 Builder。
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		clock:     time.Now,
		createdBy: DefaultCreator,
		studioID:  DefaultStudioID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 校验动作类型、打上 UTC 时间戳并计算 package_hash。
// 载荷会被深拷贝，调用方之后对原始 map 的修改不会影响返回的包。
func (b *Builder) Build(req BuildRequest) (*Package, error) {
	if _, err := ParseActionType(string(req.ActionType)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SubmissionID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "submission_id 不能为空")
	}

	inventory, err := clonePayload(req.InventoryData)
	if err != nil {
		return nil, err
	}
	evidence, err := clonePayload(req.Evidence)
	if err != nil {
		return nil, err
	}

	studio := req.StudioID
	if strings.TrimSpace(studio) == "" {
		studio = b.studioID
	}

	pkg := &Package{
		SubmissionID:  req.SubmissionID,
		StudioID:      studio,
		Timestamp:     b.clock().UTC(),
		WorkerAgentID: req.WorkerAgentID,
		ActionType:    req.ActionType,
		InventoryData: inventory,
		Evidence:      evidence,
		Metadata: Metadata{
			Version:       Version,
			CreatedBy:     b.createdBy,
			SchemaVersion: SchemaVersion,
		},
	}

	hash, err := ComputeHash(pkg)
	if err != nil {
		return nil, err
	}
	pkg.PackageHash = hash
	return pkg, nil
}

var defaultBuilder = NewBuilder()

// Build 使用默认配置构建包。
func Build(submissionID, studioID, workerAgentID string, actionType ActionType, inventoryData, evidence map[string]any) (*Package, error) {
	return defaultBuilder.Build(BuildRequest{
		SubmissionID:  submissionID,
		StudioID:      studioID,
		WorkerAgentID: workerAgentID,
		ActionType:    actionType,
		InventoryData: inventoryData,
		Evidence:      evidence,
	})
}

// clonePayload 通过规范化编码做深拷贝，同时拒绝无法编码的值。
func clonePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	data, err := codec.Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "载荷解码失败")
	}
	return out, nil
}
