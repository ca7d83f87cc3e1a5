package proofs

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// SignatureLength 是 secp256k1 签名（r || s || v）的字节长度。
const SignatureLength = crypto.SignatureLength

// KeySigner 使用 secp256k1 私钥对 keccak256(data) 签名。
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner 解析十六进制私钥（可带 0x 前缀）。
func NewKeySigner(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeSigning, "未配置签名私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigning, err, "签名私钥无效")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewKeySignerFromEnv 从环境变量读取私钥。
func NewKeySignerFromEnv(name string) (*KeySigner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, xerrors.New(xerrors.CodeSigning, "未指定私钥环境变量")
	}
	return NewKeySigner(os.Getenv(name))
}

// Address 返回签名者对应的账户地址。
func (s *KeySigner) Address() common.Address {
	return s.address
}

// Sign 返回 65 字节的可恢复签名。
func (s *KeySigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, xerrors.New(xerrors.CodeSigning, "签名者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigning, err, "签名被取消")
	}
	sig, err := crypto.Sign(crypto.Keccak256(data), s.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigning, err, "签名失败")
	}
	return sig, nil
}

// RecoverAddress 从签名中恢复签名者地址。
func RecoverAddress(data, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, xerrors.New(xerrors.CodeSigning, "签名长度无效")
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(data), sig)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeSigning, err, "无法恢复签名公钥")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature 判断 sig 是否由 expected 对 data 签出。
func VerifySignature(expected common.Address, data, sig []byte) bool {
	addr, err := RecoverAddress(data, sig)
	return err == nil && addr == expected
}

// SimulatedSigner 生成格式合法但不具备密码学意义的占位签名，
// 相同的种子与数据总是得到相同的结果。
type SimulatedSigner struct {
	seed []byte
}

// NewSimulatedSigner 创建以 seed（通常为验证者 ID）区分的模拟签名者。
func NewSimulatedSigner(seed string) *SimulatedSigner {
	return &SimulatedSigner{seed: []byte(seed)}
}

// Sign 返回 65 字节占位签名。
func (s *SimulatedSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigning, err, "签名被取消")
	}
	r := crypto.Keccak256(s.seed, data)
	sv := crypto.Keccak256(r, s.seed)
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, r...)
	sig = append(sig, sv...)
	sig = append(sig, 27+r[0]%2)
	return sig, nil
}

// EncodeSignature 返回签名的 0x 十六进制表示。
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
