package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/registry"
)

const (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmarket.json")
	body := fmt.Sprintf(`{"runtime":{"data_dir":%q},"logging":{"level":"error"}}`, filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLocalRegisterAuctionAndQuery(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, "register", "ipfs://agent-v1", "--config", cfg, "--caller", alice)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var registered ledger.Receipt
	if err := json.Unmarshal([]byte(out), &registered); err != nil {
		t.Fatalf("decode receipt: %v\n%s", err, out)
	}
	if registered.Seq != 1 || registered.AgentID != 1 || registered.Kind != ledger.KindRegister {
		t.Fatalf("unexpected receipt %+v", registered)
	}

	out, err = runCLI(t, "start-auction", "1", "--config", cfg, "--caller", alice,
		"--starting-price", "100", "--discount-rate", "1", "--duration", "3600")
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	var listed ledger.Receipt
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if listed.ListingID != 1 {
		t.Fatalf("unexpected listing receipt %+v", listed)
	}

	out, err = runCLI(t, "price", "1", "--config", cfg, "--at", fmt.Sprint(listed.Now+10))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	var quote priceQuote
	if err := json.Unmarshal([]byte(out), &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.Price.Int64() != 90 {
		t.Fatalf("expected price 90, got %s", quote.Price)
	}

	out, err = runCLI(t, "agents", "--config", cfg, "--owner", alice)
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	var agents []*registry.Agent
	if err := json.Unmarshal([]byte(out), &agents); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ContentPointer != "ipfs://agent-v1" {
		t.Fatalf("unexpected agents %s", out)
	}

	out, err = runCLI(t, "agents", "--config", cfg, "--owner", bob)
	if err != nil {
		t.Fatalf("agents for bob: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("bob should own nothing, got %s", out)
	}
}

func TestBusinessErrorsSurfaceCodes(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := runCLI(t, "register", "ipfs://agent-v1", "--config", cfg, "--caller", alice); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := runCLI(t, "burn", "1", "--config", cfg, "--caller", bob)
	if xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err = runCLI(t, "register", "--config", cfg, "--caller", alice)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for missing pointer, got %v", err)
	}
	_, err = runCLI(t, "transfer", "1", "not-an-address", "--config", cfg, "--caller", alice)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for bad address, got %v", err)
	}
	_, err = runCLI(t, "buy", "1", "--config", cfg, "--caller", bob, "--payment", "100")
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found for unlisted agent, got %v", err)
	}
}

func TestRegisterWithFileRequiresPinningCredentials(t *testing.T) {
	cfg := writeConfig(t)
	image := filepath.Join(t.TempDir(), "agent.tar")
	if err := os.WriteFile(image, []byte("image"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	_, err := runCLI(t, "register", "--config", cfg, "--caller", alice, "--file", image, "--name", "demo")
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure without keys, got %v", err)
	}
}
