package contentstore

import (
	"context"
	"strings"
	"sync"

	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

const (
	addressPrefix    = "Qm"
	addressHexLength = 44
)

// Store 是包内容存储的抽象。
type Store interface {
	Put(ctx context.Context, pkg *poa.Package) (string, error)
	Get(ctx context.Context, address string) (*poa.Package, error)
}

// Address 计算包的内容地址："Qm" 加上规范化编码 SHA-256 的前 44 位十六进制字符。
func Address(encoded []byte) string {
	return addressPrefix + codec.Hash(encoded)[:addressHexLength]
}

// ValidAddress 判断地址格式是否合法。
func ValidAddress(address string) bool {
	if len(address) != len(addressPrefix)+addressHexLength || !strings.HasPrefix(address, addressPrefix) {
		return false
	}
	for _, r := range address[len(addressPrefix):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// EncodeForStore 校验包哈希并返回规范化字节与内容地址。
func EncodeForStore(pkg *poa.Package) ([]byte, string, error) {
	if pkg == nil {
		return nil, "", xerrors.New(xerrors.CodeInvalidArgument, "包不能为空")
	}
	if !poa.Verify(pkg) {
		return nil, "", xerrors.New(xerrors.CodeValidation, "包哈希校验失败，拒绝存储",
			xerrors.WithMetadata("submission_id", pkg.SubmissionID))
	}
	data, err := poa.Encode(pkg)
	if err != nil {
		return nil, "", err
	}
	return data, Address(data), nil
}

// DecodeFromStore 核对地址后解码包并执行完整性检查。
func DecodeFromStore(address string, data []byte) (*poa.Package, error) {
	if Address(data) != address {
		return nil, xerrors.New(xerrors.CodeValidation, "存储内容与地址不匹配",
			xerrors.WithMetadata("address", address))
	}
	pkg, err := poa.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := poa.CheckIntegrity(pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// CheckAddress 在地址格式非法时返回 INVALID_ARGUMENT。
func CheckAddress(address string) error {
	if !ValidAddress(address) {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的内容地址",
			xerrors.WithMetadata("address", address))
	}
	return nil
}

// MemoryStore 是进程内实现，适用于测试与演示。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put 保存包并返回内容地址。重复写入同一内容是幂等的。
func (s *MemoryStore) Put(ctx context.Context, pkg *poa.Package) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入被取消")
	}
	data, address, err := EncodeForStore(pkg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[address] = data
	s.mu.Unlock()
	return address, nil
}

// Get 读取并校验包。
func (s *MemoryStore) Get(ctx context.Context, address string) (*poa.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取被取消")
	}
	if err := CheckAddress(address); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.objects[address]
	s.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "内容不存在", xerrors.WithMetadata("address", address))
	}
	return DecodeFromStore(address, data)
}

// Len 返回已存储对象数量。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Corrupt 替换地址下的原始字节，用于测试完整性校验。
func (s *MemoryStore) Corrupt(address string, data []byte) {
	s.mu.Lock()
	s.objects[address] = append([]byte(nil), data...)
	s.mu.Unlock()
}
