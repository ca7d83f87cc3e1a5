package provider

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/config"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3/ethereum"
)

const (
	simulatedChain = "simulated"
	fallbackChain  = "default"
)

// Registry holds one web3.Client per configured chain and a default used for
// PoA notices and attestations.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// builder turns a chain definition into a client. Settings shared by every
// chain (sender key, receipt timeout, fallback contract and gas) come from
// the web3 config.
type builder struct {
	cfg       config.Web3Config
	senderKey string
	timeout   time.Duration
}

func (b builder) build(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	if def.Kind() == web3.ChainTypeSimulated {
		return web3.NewSimulatedSubmitter(name), nil
	}
	contract := def.AttestationContract
	if contract == "" {
		contract = b.cfg.Contract
	}
	gas := def.GasLimit
	if gas == 0 {
		gas = b.cfg.GasLimit
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:           name,
		RPCURL:         def.RPCURL,
		ChainID:        def.ChainID,
		Contract:       contract,
		SenderKey:      b.senderKey,
		GasLimit:       gas,
		ReceiptTimeout: b.timeout,
		Notes:          def.Description,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败",
			xerrors.WithMetadata("chain", name))
	}
	return client, nil
}

// NewRegistry builds clients for every chain in cfg.ChainConfig. The
// "simulated" driver skips the file and registers a single in-memory
// submitter. When the file defines no chains, cfg.RPCURL is used as a chain
// named "default".
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Driver), simulatedChain) {
		return &Registry{
			defaultChain: simulatedChain,
			clients:      map[string]web3.Client{simulatedChain: web3.NewSimulatedSubmitter(simulatedChain)},
		}, nil
	}

	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains[fallbackChain] = web3.ChainDefinition{Type: web3.ChainTypeEVM, RPCURL: cfg.RPCURL}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = fallbackChain
		}
	}
	if len(defs.Chains) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何链的 RPC 端点")
	}

	b := builder{cfg: cfg, timeout: time.Duration(cfg.ReceiptTimeoutSeconds) * time.Second}
	if cfg.SenderKeyEnv != "" {
		b.senderKey = os.Getenv(cfg.SenderKeyEnv)
	}

	r := &Registry{defaultChain: cfg.DefaultChain, clients: make(map[string]web3.Client, len(defs.Chains))}
	for _, name := range defs.Names() {
		client, err := b.build(ctx, name, defs.Chains[name])
		if err != nil {
			r.Close()
			return nil, err
		}
		r.clients[name] = client
	}
	if r.defaultChain == "" {
		r.defaultChain = r.Chains()[0]
	}
	if _, ok := r.clients[r.defaultChain]; !ok {
		r.Close()
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "默认链未在配置中找到",
			xerrors.WithMetadata("chain", cfg.DefaultChain))
	}
	return r, nil
}

// DefaultClient returns the client of the default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端注册表未初始化")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "默认链不在注册表中",
			xerrors.WithMetadata("chain", r.defaultChain))
	}
	return client, nil
}

// Client looks a chain up by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Chains returns the registered chain names in lexical order.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every client. The registry is empty afterwards.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
