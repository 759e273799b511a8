package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AgentMarket-Chain/internal/errors"
)

// ChainTypeEVM is the only chain family the ledger clock can read from.
const ChainTypeEVM = "evm"

// FallbackChain names the chain synthesised from a bare web3.rpc_url.
const FallbackChain = "default"

// ChainDefinitions lists the chains that may serve as the ledger time source.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes how to reach one chain. A non-zero ChainID is
// verified against the node on dial.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     uint64 `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// Family returns the normalised chain type, defaulting to evm.
func (d ChainDefinition) Family() string {
	family := strings.ToLower(strings.TrimSpace(d.Type))
	if family == "" {
		return ChainTypeEVM
	}
	return family
}

// LoadChainDefinitions parses the YAML chain file. An empty path yields an
// empty set so a bare rpc_url can still be used through WithFallback.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取链配置失败")
	}
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析链配置失败")
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for _, name := range defs.Names() {
		chain := defs.Chains[name]
		if strings.TrimSpace(chain.RPCURL) == "" {
			return ChainDefinitions{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 缺少 rpc_url", name))
		}
		if chain.Family() != ChainTypeEVM {
			return ChainDefinitions{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 使用了不支持的类型 %s", name, chain.Type))
		}
	}
	return defs, nil
}

// WithFallback adds a chain named FallbackChain for rpcURL when the file
// defined none.
func (d ChainDefinitions) WithFallback(rpcURL string) ChainDefinitions {
	rpcURL = strings.TrimSpace(rpcURL)
	if len(d.Chains) > 0 || rpcURL == "" {
		return d
	}
	chains := map[string]ChainDefinition{FallbackChain: {Type: ChainTypeEVM, RPCURL: rpcURL}}
	return ChainDefinitions{Chains: chains}
}

// Names returns the chain names in lexical order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveDefault picks preferred when set, otherwise the fallback chain or the
// lexically first one.
func (d ChainDefinitions) ResolveDefault(preferred string) (string, error) {
	if len(d.Chains) == 0 {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置任何链的 RPC 端点")
	}
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		if _, ok := d.Chains[FallbackChain]; ok {
			return FallbackChain, nil
		}
		return d.Names()[0], nil
	}
	if _, ok := d.Chains[preferred]; !ok {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("默认链 %s 未在配置中找到", preferred))
	}
	return preferred, nil
}
