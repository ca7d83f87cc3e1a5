package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dvn.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"evaluation":{"profiles_path":"profiles.yaml"},"web3":{"chain_config":"/etc/dvn/chain.yaml"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)

	if cfg.Server.Address != ":8080" || cfg.Web3.Driver != "simulated" || cfg.ContentStore.Driver != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Consensus.Threshold() != 66 || cfg.Consensus.Quorum() != 3 {
		t.Fatalf("unexpected consensus defaults %+v", cfg.Consensus)
	}
	if cfg.Evaluation.ProfilesPath != filepath.Join(dir, "profiles.yaml") {
		t.Fatalf("relative profiles path not resolved: %s", cfg.Evaluation.ProfilesPath)
	}
	if cfg.Web3.ChainConfig != "/etc/dvn/chain.yaml" {
		t.Fatalf("absolute path should be kept: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	total := 0
	for _, g := range cfg.Verifiers.Population {
		total += g.Count
	}
	if total != 5 {
		t.Fatalf("expected default population of 5, got %d", total)
	}
}

func TestLoadRejectsInvalidDrivers(t *testing.T) {
	path := writeConfig(t, `{"content_store":{"driver":"ipfs"},"storage":{"ledger_driver":"mysql"},"rounds":{"queue":{"driver":"rabbitmq"}}}`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, fragment := range []string{"content_store.driver", "storage.mysql.dsn", "rounds.queue.rabbitmq.url"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %s", err, fragment)
		}
	}

	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected empty path error")
	}
}

func TestExplicitZeroConsensusSettingsAreKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"consensus":{"threshold_percent":0,"minimum_quorum":0}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Consensus.Threshold() != 0 || cfg.Consensus.Quorum() != 0 {
		t.Fatalf("explicit zero overwritten: threshold=%v quorum=%d", cfg.Consensus.Threshold(), cfg.Consensus.Quorum())
	}

	_, err = Load(writeConfig(t, `{"consensus":{"threshold_percent":-5,"minimum_quorum":-1}}`))
	if err == nil {
		t.Fatalf("expected validation error for negative consensus settings")
	}
	for _, fragment := range []string{"consensus.threshold_percent", "consensus.minimum_quorum"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("error %q missing %s", err, fragment)
		}
	}
}

func TestPathHonoursEnvironment(t *testing.T) {
	t.Setenv(EnvPath, "")
	if Path() != DefaultPath {
		t.Fatalf("expected default path, got %s", Path())
	}
	t.Setenv(EnvPath, "/srv/dvn.json")
	if Path() != "/srv/dvn.json" {
		t.Fatalf("expected env path, got %s", Path())
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "dvn.json"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if _, err := os.Stat(cfg.Web3.ChainConfig); err != nil {
		t.Fatalf("chain config not resolved: %v", err)
	}
	if _, err := os.Stat(cfg.Evaluation.ProfilesPath); err != nil {
		t.Fatalf("profiles file missing: %v", err)
	}
	total := 0
	for _, group := range cfg.Verifiers.Population {
		total += group.Count
	}
	if total != 5 || cfg.Server.MetricsAddress != "" {
		t.Fatalf("unexpected shipped config %+v", cfg)
	}
}
