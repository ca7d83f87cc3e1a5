package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Ledger 记录每轮验证产生的证明与共识结论。MySQL 实现见 internal/storage/mysql。
type Ledger interface {
	RecordRound(ctx context.Context, round consensus.Round) error
	Attestations(ctx context.Context, submissionID string) ([]attestation.Attestation, error)
	Verdict(ctx context.Context, submissionID string) (consensus.Verdict, error)
	Close() error
}

// MemoryLedger 在内存中保存结果，并可选地以 JSON 行追加写入本地文件。
type MemoryLedger struct {
	mu       sync.RWMutex
	dataFile string
	rounds   map[string]consensus.Round
}

// NewMemoryLedger 创建内存账本。dataDir 为空时不落盘。
func NewMemoryLedger(dataDir string) (*MemoryLedger, error) {
	l := &MemoryLedger{rounds: make(map[string]consensus.Round)}
	if dataDir == "" {
		return l, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	l.dataFile = filepath.Join(dataDir, "rounds.log")
	if err := l.loadFromDisk(); err != nil {
		return nil, err
	}
	return l, nil
}

// RecordRound 保存一轮结果，同一提交重复记录时以最新一轮为准。
func (m *MemoryLedger) RecordRound(_ context.Context, round consensus.Round) error {
	if round.SubmissionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission_id 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dataFile != "" {
		encoded, err := json.Marshal(round)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化验证结果失败")
		}
		file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开账本文件失败")
		}
		defer file.Close()
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本文件失败")
		}
	}
	m.rounds[round.SubmissionID] = round
	return nil
}

// Attestations 返回提交对应的全部证明，顺序与验证者顺序一致。
func (m *MemoryLedger) Attestations(_ context.Context, submissionID string) ([]attestation.Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	round, ok := m.rounds[submissionID]
	if !ok {
		return nil, NotFound(submissionID)
	}
	return append([]attestation.Attestation(nil), round.Attestations...), nil
}

// Verdict 返回提交的共识结论。
func (m *MemoryLedger) Verdict(_ context.Context, submissionID string) (consensus.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	round, ok := m.rounds[submissionID]
	if !ok {
		return consensus.Verdict{}, NotFound(submissionID)
	}
	return round.Verdict, nil
}

// Close 无需释放资源。
func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账本文件失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var round consensus.Round
		if err := json.Unmarshal(scanner.Bytes(), &round); err != nil || round.SubmissionID == "" {
			continue
		}
		m.rounds[round.SubmissionID] = round
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析账本文件失败")
	}
	return nil
}

// NotFound 返回提交不存在时的统一错误。
func NotFound(submissionID string) error {
	return xerrors.New(xerrors.CodeNotFound, "未找到验证结果", xerrors.WithMetadata("submission_id", submissionID))
}
