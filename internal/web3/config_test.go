package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := `chains:
  sepolia:
    type: evm
    rpc_url: https://rpc.sepolia.example
    chain_id: 11155111
    description: testnet clock
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	chain, ok := defs.Chains["sepolia"]
	if !ok || chain.ChainID != 11155111 || chain.RPCURL != "https://rpc.sepolia.example" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
}

func TestLoadChainDefinitionsRequiresRPC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte("chains:\n  broken:\n    type: evm\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadChainDefinitions(path); err == nil {
		t.Fatalf("expected error for missing rpc_url")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions(" ")
	if err != nil || defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v (%v)", defs, err)
	}
}

func TestLoadChainDefinitionsRejectsUnknownFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte("chains:\n  sol:\n    type: solana\n    rpc_url: https://x\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadChainDefinitions(path); err == nil {
		t.Fatalf("expected error for unsupported chain type")
	}
}

func TestFallbackAndDefaultResolution(t *testing.T) {
	empty := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if _, err := empty.ResolveDefault(""); err == nil {
		t.Fatalf("expected error without any chain")
	}

	fallback := empty.WithFallback(" http://127.0.0.1:8545 ")
	name, err := fallback.ResolveDefault("")
	if err != nil || name != FallbackChain || fallback.Chains[FallbackChain].RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected fallback resolution %q %+v (%v)", name, fallback, err)
	}

	defs := ChainDefinitions{Chains: map[string]ChainDefinition{
		"sepolia": {RPCURL: "https://s"},
		"holesky": {RPCURL: "https://h"},
	}}
	if got := defs.WithFallback("http://ignored"); len(got.Chains) != 2 {
		t.Fatalf("fallback must not apply when chains are defined")
	}
	if name, _ := defs.ResolveDefault(""); name != "holesky" {
		t.Fatalf("expected lexically first chain, got %q", name)
	}
	if name, _ := defs.ResolveDefault("sepolia"); name != "sepolia" {
		t.Fatalf("expected preferred chain, got %q", name)
	}
	if _, err := defs.ResolveDefault("mainnet"); err == nil {
		t.Fatalf("expected error for unknown default chain")
	}
}
