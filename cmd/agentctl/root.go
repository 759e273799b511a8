package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"AgentMarket-Chain/internal/app"
	"AgentMarket-Chain/internal/config"
	xerrors "AgentMarket-Chain/internal/errors"
)

// environment 在一次命令执行中缓存解析后的配置。
type environment struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("AGENTMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "agentctl",
		Short: "AgentMarket 智能体注册与荷兰式拍卖命令行",
		Long: `agentctl 提交智能体注册、版本升级、转移与拍卖调用，并查询账本状态。
队列驱动为 memory 时直接在本地账本上执行；否则通过共享的操作存储和队列交给 agentmarketd。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "配置文件路径，默认 configs/agentmarket.yaml")
	flags.String("caller", "", "发起调用的账户地址")
	flags.String("operation-id", "", "提交到队列时使用的操作 ID，为空则自动生成")
	flags.String("pinata-api-key", "", "覆盖配置中的 Pinata API Key")
	flags.String("pinata-secret-key", "", "覆盖配置中的 Pinata Secret Key")
	_ = v.BindPFlags(flags)

	env := &environment{v: v}
	root.AddCommand(
		newRegisterCommand(env),
		newUpdateVersionCommand(env),
		newBurnCommand(env),
		newTransferCommand(env),
		newStartAuctionCommand(env),
		newBuyCommand(env),
		newCancelAuctionCommand(env),
		newStatusCommand(env),
		newAgentsCommand(env),
		newAuctionsCommand(env),
		newPriceCommand(env),
	)
	return root
}

// config 加载配置并初始化日志。日志固定写到 stderr，stdout 只输出结果。
func (e *environment) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	path := strings.TrimSpace(e.v.GetString("config"))
	if path == "" {
		path = filepath.Join("configs", "agentmarket.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if key := e.v.GetString("pinata-api-key"); key != "" {
		cfg.Pinning.APIKey = key
	}
	if secret := e.v.GetString("pinata-secret-key"); secret != "" {
		cfg.Pinning.SecretKey = secret
	}
	cfg.Logging.Outputs = []string{"stderr"}
	if err := app.InitLogger(cfg.Logging); err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

func (e *environment) caller() (common.Address, error) {
	return parseAddress("caller", e.v.GetString("caller"))
}

func (e *environment) waitTimeout() time.Duration {
	if e.cfg == nil || e.cfg.Operations.WaitTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.cfg.Operations.WaitTimeoutSeconds) * time.Second
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 不是有效的账户地址: %q", field, raw))
	}
	return common.HexToAddress(raw), nil
}

func parseAgentID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("无效的智能体 ID: %q", raw))
	}
	return id, nil
}

// parseWei 解析十进制 wei 金额。
func parseWei(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 不是十进制整数: %q", field, raw))
	}
	return value, nil
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
