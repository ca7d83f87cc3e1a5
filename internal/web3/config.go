package web3

import (
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Chain types understood by the provider registry.
const (
	ChainTypeEVM       = "evm"
	ChainTypeSimulated = "simulated"
)

// ChainDefinitions models configs/chain.yaml: a map from chain name to its
// endpoint and attestation contract.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes one chain. Type defaults to evm.
type ChainDefinition struct {
	Type                string `yaml:"type"`
	RPCURL              string `yaml:"rpc_url"`
	ChainID             int64  `yaml:"chain_id"`
	AttestationContract string `yaml:"attestation_contract"`
	GasLimit            uint64 `yaml:"gas_limit"`
	Description         string `yaml:"description"`
}

// Kind returns the normalised chain type.
func (d ChainDefinition) Kind() string {
	kind := strings.ToLower(strings.TrimSpace(d.Type))
	if kind == "" {
		return ChainTypeEVM
	}
	return kind
}

// Validate checks the fields the chosen chain type depends on.
func (d ChainDefinition) Validate(name string) error {
	switch d.Kind() {
	case ChainTypeSimulated:
		return nil
	case ChainTypeEVM:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的链类型",
			xerrors.WithMetadata("chain", name), xerrors.WithMetadata("type", d.Type))
	}
	if strings.TrimSpace(d.RPCURL) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "EVM 链缺少 rpc_url", xerrors.WithMetadata("chain", name))
	}
	if d.ChainID < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "chain_id 不能为负数", xerrors.WithMetadata("chain", name))
	}
	if d.AttestationContract != "" && !common.IsHexAddress(d.AttestationContract) {
		return xerrors.New(xerrors.CodeInvalidArgument, "attestation_contract 不是合法地址",
			xerrors.WithMetadata("chain", name), xerrors.WithMetadata("contract", d.AttestationContract))
	}
	return nil
}

// Names lists the configured chains in lexical order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadChainDefinitions parses and validates the chain file. An empty path
// yields an empty set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取链配置失败",
			xerrors.WithMetadata("path", path))
	}
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析链配置失败",
			xerrors.WithMetadata("path", path))
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for _, name := range defs.Names() {
		if err := defs.Chains[name].Validate(name); err != nil {
			return ChainDefinitions{}, err
		}
	}
	return defs, nil
}
