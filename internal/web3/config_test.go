package web3

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

func writeChains(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadChainDefinitions(t *testing.T) {
	defs, err := LoadChainDefinitions(writeChains(t, `chains:
  sepolia:
    rpc_url: https://rpc.sepolia.org
    chain_id: 11155111
    attestation_contract: "0x00000000000000000000000000000000000000aa"
  local:
    type: Simulated
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := defs.Names(); len(names) != 2 || names[0] != "local" {
		t.Fatalf("unexpected names %v", names)
	}
	if defs.Chains["sepolia"].Kind() != ChainTypeEVM || defs.Chains["local"].Kind() != ChainTypeSimulated {
		t.Fatalf("unexpected kinds")
	}

	empty, err := LoadChainDefinitions("")
	if err != nil || len(empty.Chains) != 0 {
		t.Fatalf("expected empty set, got %+v err=%v", empty, err)
	}
}

func TestLoadChainDefinitionsValidates(t *testing.T) {
	cases := map[string]string{
		"missing rpc":  "chains:\n  a:\n    type: evm\n",
		"bad contract": "chains:\n  a:\n    rpc_url: http://x\n    attestation_contract: nope\n",
		"bad type":     "chains:\n  a:\n    type: solana\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadChainDefinitions(writeChains(t, body)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
	if _, err := LoadChainDefinitions(filepath.Join(t.TempDir(), "absent.yaml")); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
