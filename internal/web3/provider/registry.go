package provider

import (
	"context"
	"fmt"
	"strings"

	"AgentMarket-Chain/internal/config"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/web3"
	"AgentMarket-Chain/internal/web3/ethereum"
)

// Dialer opens a client for one chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// Registry holds the dialled chain clients the ledger clock may read from.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry dials every configured chain over go-ethereum.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return NewRegistryWithDialer(ctx, cfg, dialEthereum)
}

// NewRegistryWithDialer resolves the chain set and default chain before
// dialling anything, then opens each client with dial.
func NewRegistryWithDialer(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	defs = defs.WithFallback(cfg.RPCURL)
	defaultChain, err := defs.ResolveDefault(cfg.DefaultChain)
	if err != nil {
		return nil, err
	}

	r := &Registry{defaultChain: defaultChain, clients: make(map[string]web3.Client, len(defs.Chains))}
	for _, name := range defs.Names() {
		client, err := dial(ctx, name, defs.Chains[name])
		if err != nil {
			r.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("初始化链 %s 失败", name))
		}
		r.clients[name] = client
	}
	return r, nil
}

func dialEthereum(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:    name,
		RPCURL:  def.RPCURL,
		ChainID: def.ChainID,
		Notes:   def.Description,
	})
}

// Select returns the named client, or the default chain when name is blank.
func (r *Registry) Select(name string) (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 未在配置中找到", name))
	}
	return client, nil
}

// Close releases every dialled client.
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
