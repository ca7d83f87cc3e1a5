package poa

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// versionConstraint 限定可接受的包版本。
var versionConstraint = mustConstraint("^1.0")

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// ComputeHash 计算除 package_hash 外所有字段的规范化 SHA-256 摘要。
func ComputeHash(p *Package) (string, error) {
	if p == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "package 不能为空")
	}
	return codec.Digest(p.content())
}

// Verify 重新计算哈希并与 package_hash 比较。
func Verify(p *Package) bool {
	if p == nil || p.PackageHash == "" {
		return false
	}
	hash, err := ComputeHash(p)
	if err != nil {
		return false
	}
	return hash == p.PackageHash
}

// CheckIntegrity 校验哈希与元数据版本，任何一项失败都返回 VALIDATION_ERROR，
// 此时包应被视为不可信。
func CheckIntegrity(p *Package) error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "package 为空")
	}
	if !Verify(p) {
		return xerrors.New(xerrors.CodeValidation, "package_hash 校验失败",
			xerrors.WithMetadata("submission_id", p.SubmissionID),
			xerrors.WithMetadata("package_hash", p.PackageHash))
	}
	version, err := semver.NewVersion(p.Metadata.Version)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "无法解析包版本",
			xerrors.WithMetadata("version", p.Metadata.Version))
	}
	if !versionConstraint.Check(version) {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("不兼容的包版本 %s", p.Metadata.Version),
			xerrors.WithMetadata("version", p.Metadata.Version))
	}
	if p.Metadata.SchemaVersion != SchemaVersion {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("不支持的 schema 版本 %q", p.Metadata.SchemaVersion),
			xerrors.WithMetadata("schema_version", p.Metadata.SchemaVersion))
	}
	return nil
}

// Encode 返回包含 package_hash 的规范化字节，用于存储。
func Encode(p *Package) ([]byte, error) {
	if p == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "package 不能为空")
	}
	return codec.Canonicalize(p)
}

// Decode 解析 Encode 产生的字节。调用方需要自行执行 CheckIntegrity。
func Decode(data []byte) (*Package, error) {
	var p Package
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "包解码失败")
	}
	return &p, nil
}
