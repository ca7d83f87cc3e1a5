package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
)

const (
	// DefaultGasLimit mirrors the gas budget of an attestation submission.
	DefaultGasLimit       = 250_000
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 500 * time.Millisecond

	txBaseGas = 21_000
	// calldataGasPerByte bounds both the standard and the floor calldata cost.
	calldataGasPerByte = 40
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name           string
	RPCURL         string
	ChainID        int64
	Contract       string
	SenderKey      string
	GasLimit       uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Notes          string
}

// chainBackend is the subset of ethclient used by the client. Both a dialled
// *ethclient.Client and a simulated backend satisfy it.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements web3.Client for EVM compatible chains. Payloads are sent
// as calldata of an EIP-1559 transaction addressed to the attestation
// contract.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   chainBackend
	commit    func()

	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	gasLimit uint64
	timeout  time.Duration
	poll     time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	c, err := newClient(cfg, eth)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.rpcClient = rpcClient
	c.eth = eth
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every submitted
// transaction is mined immediately.
func NewSimulatedClient(cfg Config, backend *simulated.Backend) (*Client, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "模拟后端不能为空")
	}
	if cfg.Notes == "" {
		cfg.Notes = "simulated backend"
	}
	c, err := newClient(cfg, backend.Client())
	if err != nil {
		return nil, err
	}
	c.commit = func() { backend.Commit() }
	return c, nil
}

func newClient(cfg Config, backend chainBackend) (*Client, error) {
	c := &Client{
		name:     cfg.Name,
		notes:    cfg.Notes,
		backend:  backend,
		gasLimit: cfg.GasLimit,
		timeout:  cfg.ReceiptTimeout,
		poll:     cfg.PollInterval,
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if c.timeout <= 0 {
		c.timeout = defaultReceiptTimeout
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}

	if contract := strings.TrimSpace(cfg.Contract); contract != "" {
		if !common.IsHexAddress(contract) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("合约地址无效: %s", contract))
		}
		c.contract = common.HexToAddress(contract)
	}

	if key := strings.TrimPrefix(strings.TrimSpace(cfg.SenderKey), "0x"); key != "" {
		priv, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易发送者私钥无效")
		}
		c.key = priv
		c.from = crypto.PubkeyToAddress(priv.PublicKey)
	}
	return c, nil
}

// Sender returns the account that pays for submissions.
func (c *Client) Sender() common.Address {
	return c.from
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.chainIDFor(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Submit sends payload as calldata to the attestation contract and waits for
// the receipt. Transport failures are retryable SUBMISSION_ERRORs; a reverted
// transaction is not.
func (c *Client) Submit(ctx context.Context, payload []byte) (web3.Receipt, error) {
	if c == nil || c.backend == nil {
		return web3.Receipt{}, xerrors.New(xerrors.CodeSubmission, "未初始化的以太坊客户端", xerrors.WithRetryable(false))
	}
	if c.key == nil {
		return web3.Receipt{}, xerrors.New(xerrors.CodeSubmission, "未配置交易发送者私钥", xerrors.WithRetryable(false))
	}

	tx, err := c.sendPayload(ctx, payload)
	if err != nil {
		return web3.Receipt{}, err
	}

	receipt, err := c.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return web3.Receipt{}, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return web3.Receipt{}, xerrors.New(xerrors.CodeSubmission, "交易执行失败", xerrors.WithRetryable(false),
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
	}

	out := web3.Receipt{
		TransactionID: tx.Hash().Hex(),
		ResourceUsed:  receipt.GasUsed,
		Chain:         c.name,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

// sendPayload serialises nonce allocation so concurrent verifiers sharing a
// sender do not collide.
func (c *Client) sendPayload(ctx context.Context, payload []byte) (*coretypes.Transaction, error) {
	chainID, err := c.chainIDFor(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "查询交易计数失败")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "获取小费建议失败")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "获取最新区块失败")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	}

	to := c.contract
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       c.gasFor(payload),
		To:        &to,
		Data:      payload,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "交易签名失败", xerrors.WithRetryable(false))
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "发送交易失败")
	}
	if c.commit != nil {
		c.commit()
	}
	return signed, nil
}

func (c *Client) gasFor(payload []byte) uint64 {
	required := uint64(txBaseGas + calldataGasPerByte*len(payload))
	if required > c.gasLimit {
		return required
	}
	return c.gasLimit
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.poll), ctx)
	receipt, err := backoff.RetryWithData(func() (*coretypes.Receipt, error) {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, backoff.Permanent(err)
		}
		if c.commit != nil {
			c.commit()
		}
		return nil, gethcore.NotFound
	}, policy)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "等待交易回执失败",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
	return receipt, nil
}

func (c *Client) chainIDFor(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	id := c.chainID
	c.mu.Unlock()
	if id != nil {
		return id, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSubmission, err, "获取链 ID 失败")
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
