package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/ledger"
)

const (
	upsertAttestationSQL = `INSERT INTO attestations
        (id, submission_id, ordinal, package_hash, verifier_agent_id, specialization, status, decision, overall_score, submission_status, transaction_id, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), submission_status = VALUES(submission_status), transaction_id = VALUES(transaction_id), payload = VALUES(payload)`

	upsertVerdictSQL = `INSERT INTO verdicts
        (submission_id, package_hash, state, verified, approvals, successful, approval_rate, payload, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE package_hash = VALUES(package_hash), state = VALUES(state), verified = VALUES(verified), approvals = VALUES(approvals), successful = VALUES(successful), approval_rate = VALUES(approval_rate), payload = VALUES(payload), completed_at = VALUES(completed_at)`

	selectAttestationsSQL = `SELECT payload FROM attestations WHERE submission_id = ? ORDER BY ordinal ASC`
	selectVerdictSQL      = `SELECT payload FROM verdicts WHERE submission_id = ?`
)

// SQLLedger 使用 MySQL 存储证明与共识结论。
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger 建立连接池并执行迁移。
func NewSQLLedger(ctx context.Context, cfg Config) (*SQLLedger, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SQLLedger{db: db}, nil
}

// NewSQLLedgerWithDB 使用已有连接创建账本，不执行迁移。
func NewSQLLedgerWithDB(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// RecordRound 在单个事务中写入全部证明与结论。
func (s *SQLLedger) RecordRound(ctx context.Context, round consensus.Round) error {
	if round.SubmissionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "submission_id 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	for i, att := range round.Attestations {
		payload, err := json.Marshal(att)
		if err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化证明失败")
		}
		txID := ""
		if att.Submission.Receipt != nil {
			txID = att.Submission.Receipt.TransactionID
		}
		if _, err := tx.ExecContext(ctx, upsertAttestationSQL,
			att.ID,
			round.SubmissionID,
			i,
			att.PackageHash,
			att.VerifierAgentID,
			string(att.Specialization),
			string(att.Status),
			att.Decision,
			att.OverallScore,
			string(att.Submission.Status),
			txID,
			string(payload),
			att.CreatedAt.Unix(),
		); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入证明失败", xerrors.WithMetadata("attestation_id", att.ID))
		}
	}

	payload, err := json.Marshal(round.Verdict)
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化共识结论失败")
	}
	v := round.Verdict
	if _, err := tx.ExecContext(ctx, upsertVerdictSQL,
		round.SubmissionID,
		round.PackageHash,
		string(v.State),
		v.Verified,
		v.Approvals,
		v.SuccessfulEvaluations,
		v.ApprovalRate,
		string(payload),
		round.CompletedAt.Unix(),
	); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入共识结论失败")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Attestations 按验证者顺序返回证明。
func (s *SQLLedger) Attestations(ctx context.Context, submissionID string) ([]attestation.Attestation, error) {
	rows, err := s.db.QueryContext(ctx, selectAttestationsSQL, submissionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询证明失败")
	}
	defer rows.Close()

	var atts []attestation.Attestation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析证明失败")
		}
		var att attestation.Attestation
		if err := json.Unmarshal([]byte(payload), &att); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码证明失败")
		}
		atts = append(atts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历证明失败")
	}
	if len(atts) == 0 {
		return nil, ledger.NotFound(submissionID)
	}
	return atts, nil
}

// Verdict 返回提交的共识结论。
func (s *SQLLedger) Verdict(ctx context.Context, submissionID string) (consensus.Verdict, error) {
	var payload string
	if err := s.db.QueryRowContext(ctx, selectVerdictSQL, submissionID).Scan(&payload); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return consensus.Verdict{}, ledger.NotFound(submissionID)
		}
		return consensus.Verdict{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询共识结论失败")
	}
	var v consensus.Verdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return consensus.Verdict{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码共识结论失败")
	}
	return v, nil
}

// Close 关闭底层数据库连接。
func (s *SQLLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ ledger.Ledger = (*SQLLedger)(nil)
