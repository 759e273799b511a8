package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/web3"
)

type fakeClient struct {
	name   string
	closed bool
}

func (f *fakeClient) HeadTime(context.Context) (int64, error) { return 1_700_000_000, nil }
func (f *fakeClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: f.name}, nil
}
func (f *fakeClient) Close() { f.closed = true }

func recordingDialer(dialled map[string]*fakeClient, failOn string) Dialer {
	return func(_ context.Context, name string, _ web3.ChainDefinition) (web3.Client, error) {
		if name == failOn {
			return nil, errors.New("dial refused")
		}
		client := &fakeClient{name: name}
		dialled[name] = client
		return client, nil
	}
}

func writeChains(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := "chains:\n  holesky:\n    rpc_url: https://h\n  sepolia:\n    rpc_url: https://s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestSelectDefaultAndNamedChain(t *testing.T) {
	dialled := map[string]*fakeClient{}
	r, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: writeChains(t), DefaultChain: "sepolia"}, recordingDialer(dialled, ""))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	client, err := r.Select("")
	if err != nil || client.(*fakeClient).name != "sepolia" {
		t.Fatalf("expected default chain sepolia, got %v (%v)", client, err)
	}
	if client, err = r.Select("holesky"); err != nil || client.(*fakeClient).name != "holesky" {
		t.Fatalf("expected holesky, got %v (%v)", client, err)
	}
	if _, err := r.Select("mainnet"); err == nil {
		t.Fatalf("expected error for unknown chain")
	}

	r.Close()
	if !dialled["holesky"].closed || !dialled["sepolia"].closed {
		t.Fatalf("close must release every client")
	}
}

func TestFallbackRPCURL(t *testing.T) {
	dialled := map[string]*fakeClient{}
	r, err := NewRegistryWithDialer(context.Background(), config.Web3Config{RPCURL: "http://127.0.0.1:8545"}, recordingDialer(dialled, ""))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer r.Close()
	if _, ok := dialled[web3.FallbackChain]; !ok {
		t.Fatalf("expected fallback chain to be dialled")
	}
}

func TestDialFailureReleasesOpenedClients(t *testing.T) {
	dialled := map[string]*fakeClient{}
	_, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: writeChains(t)}, recordingDialer(dialled, "sepolia"))
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if !dialled["holesky"].closed {
		t.Fatalf("clients dialled before the failure must be closed")
	}
}

func TestNoChainsConfigured(t *testing.T) {
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{}, recordingDialer(map[string]*fakeClient{}, "")); err == nil {
		t.Fatalf("expected error without chains")
	}
}
