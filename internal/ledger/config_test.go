package ledger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := `chains:
  local:
    type: evm
    rpc_url: http://127.0.0.1:8545
    journal_address: "0x000000000000000000000000000000000000dEaD"
    confirm_timeout: 45s
    poll_interval: 500ms
    description: local devnet
  testnet:
    rpc_url: https://rpc.testnet.example
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("LoadChainDefinitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("chains = %d, want 2", len(defs.Chains))
	}

	local, ok := defs.Chains["local"]
	if !ok {
		t.Fatal("missing chain local")
	}
	if local.Type != "evm" || local.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected local definition: %+v", local)
	}
	if local.ConfirmTimeout != "45s" || local.PollInterval != "500ms" {
		t.Fatalf("unexpected timing fields: %+v", local)
	}

	// type 省略时由上层推断为 evm。
	if defs.Chains["testnet"].Type != "" {
		t.Fatalf("testnet type = %q, want empty", defs.Chains["testnet"].Type)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("LoadChainDefinitions: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty chain map, got %+v", defs.Chains)
	}
}

func TestLoadChainDefinitionsMissingFile(t *testing.T) {
	if _, err := LoadChainDefinitions(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
