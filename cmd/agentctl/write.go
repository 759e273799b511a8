package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"AgentMarket-Chain/internal/app"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/pinning"
)

// submit 加载配置、执行调用并打印回执。
func submit(cmd *cobra.Command, env *environment, build func() (ledger.Call, error)) error {
	ctx := commandContext(cmd)
	cfg, err := env.config()
	if err != nil {
		return err
	}
	call, err := build()
	if err != nil {
		return err
	}
	exec, err := newExecutor(ctx, env, cfg)
	if err != nil {
		return err
	}
	defer exec.Close()

	result, err := exec.Execute(ctx, call)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

type pinFlags struct {
	file        string
	name        string
	description string
}

func (f *pinFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "先固定到 IPFS 的智能体镜像文件")
	cmd.Flags().StringVar(&f.name, "name", "", "智能体名称，配合 --file 使用")
	cmd.Flags().StringVar(&f.description, "description", "", "智能体描述，配合 --file 使用")
}

// resolvePointer 返回位置参数中的指针，或固定 --file 指定的镜像后得到的元数据地址。
func (f *pinFlags) resolvePointer(cmd *cobra.Command, env *environment, args []string) (string, error) {
	if f.file == "" {
		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "需要提供内容指针或 --file")
		}
		return args[0], nil
	}
	if len(args) > 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "内容指针与 --file 不能同时使用")
	}
	if strings.TrimSpace(f.name) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "--file 需要同时提供 --name")
	}

	cfg, err := env.config()
	if err != nil {
		return "", err
	}
	pinner, err := app.BuildPinner(cfg.Pinning)
	if err != nil {
		return "", err
	}
	image, err := os.Open(f.file)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "打开镜像文件失败")
	}
	defer image.Close()

	pinned, err := pinning.PinAgent(commandContext(cmd), pinner, f.name, f.description, filepath.Base(f.file), image)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "已固定元数据 %s\n", pinned.URL)
	return pinned.URL, nil
}

func newRegisterCommand(env *environment) *cobra.Command {
	var pin pinFlags
	cmd := &cobra.Command{
		Use:   "register [content-pointer]",
		Short: "注册新的智能体",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, func() (ledger.Call, error) {
				caller, err := env.caller()
				if err != nil {
					return ledger.Call{}, err
				}
				pointer, err := pin.resolvePointer(cmd, env, args)
				if err != nil {
					return ledger.Call{}, err
				}
				return ledger.Call{Kind: ledger.KindRegister, Caller: caller, ContentPointer: pointer}, nil
			})
		},
	}
	pin.bind(cmd)
	return cmd
}

func newUpdateVersionCommand(env *environment) *cobra.Command {
	var pin pinFlags
	cmd := &cobra.Command{
		Use:   "update-version <agent-id> [content-pointer]",
		Short: "为智能体发布新版本",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, func() (ledger.Call, error) {
				caller, err := env.caller()
				if err != nil {
					return ledger.Call{}, err
				}
				id, err := parseAgentID(args[0])
				if err != nil {
					return ledger.Call{}, err
				}
				pointer, err := pin.resolvePointer(cmd, env, args[1:])
				if err != nil {
					return ledger.Call{}, err
				}
				return ledger.Call{Kind: ledger.KindUpdateVersion, Caller: caller, AgentID: id, ContentPointer: pointer}, nil
			})
		},
	}
	pin.bind(cmd)
	return cmd
}

func newBurnCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "burn <agent-id>",
		Short: "销毁智能体",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, agentCall(env, ledger.KindBurn, args[0]))
		},
	}
}

func newTransferCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <agent-id> <to>",
		Short: "转移智能体所有权",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, func() (ledger.Call, error) {
				call, err := agentCall(env, ledger.KindTransfer, args[0])()
				if err != nil {
					return ledger.Call{}, err
				}
				call.To, err = parseAddress("to", args[1])
				return call, err
			})
		},
	}
}

func newStartAuctionCommand(env *environment) *cobra.Command {
	var (
		startingPrice string
		discountRate  string
		duration      int64
	)
	cmd := &cobra.Command{
		Use:   "start-auction <agent-id>",
		Short: "以荷兰式拍卖挂牌智能体",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, func() (ledger.Call, error) {
				call, err := agentCall(env, ledger.KindStartAuction, args[0])()
				if err != nil {
					return ledger.Call{}, err
				}
				if call.StartingPrice, err = parseWei("starting-price", startingPrice); err != nil {
					return ledger.Call{}, err
				}
				if call.DiscountRate, err = parseWei("discount-rate", discountRate); err != nil {
					return ledger.Call{}, err
				}
				call.Duration = duration
				return call, nil
			})
		},
	}
	cmd.Flags().StringVar(&startingPrice, "starting-price", "", "起拍价 (wei)")
	cmd.Flags().StringVar(&discountRate, "discount-rate", "", "每秒降价幅度 (wei)")
	cmd.Flags().Int64Var(&duration, "duration", 0, "拍卖时长 (秒)")
	_ = cmd.MarkFlagRequired("starting-price")
	_ = cmd.MarkFlagRequired("discount-rate")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func newBuyCommand(env *environment) *cobra.Command {
	var payment string
	cmd := &cobra.Command{
		Use:   "buy <agent-id>",
		Short: "按当前价格购买挂牌中的智能体",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, func() (ledger.Call, error) {
				call, err := agentCall(env, ledger.KindBuy, args[0])()
				if err != nil {
					return ledger.Call{}, err
				}
				call.Payment, err = parseWei("payment", payment)
				return call, err
			})
		},
	}
	cmd.Flags().StringVar(&payment, "payment", "", "随调用支付的金额 (wei)，超出成交价的部分退回")
	_ = cmd.MarkFlagRequired("payment")
	return cmd
}

func newCancelAuctionCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-auction <agent-id>",
		Short: "撤销进行中的拍卖",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, env, agentCall(env, ledger.KindCancelAuction, args[0]))
		},
	}
}

func newStatusCommand(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-id>",
		Short: "查询已提交操作的状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := env.config()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			op, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), op)
		},
	}
}

func agentCall(env *environment, kind ledger.Kind, rawID string) func() (ledger.Call, error) {
	return func() (ledger.Call, error) {
		caller, err := env.caller()
		if err != nil {
			return ledger.Call{}, err
		}
		id, err := parseAgentID(rawID)
		if err != nil {
			return ledger.Call{}, err
		}
		return ledger.Call{Kind: kind, Caller: caller, AgentID: id}, nil
	}
}
