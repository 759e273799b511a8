package main

import (
	"context"
	"math/big"

	"github.com/spf13/cobra"

	"AgentMarket-Chain/internal/app"
	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/ledger"
)

// openReadOnly 从日志恢复一个只读账本，读命令不会与守护进程争抢写入。
func openReadOnly(ctx context.Context, env *environment) (*ledger.Ledger, *config.Config, error) {
	cfg, err := env.config()
	if err != nil {
		return nil, nil, err
	}
	l, err := app.OpenLedger(ctx, cfg, ledger.WithReadOnly())
	if err != nil {
		return nil, nil, err
	}
	return l, cfg, nil
}

func newAgentsCommand(env *environment) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "列出已登记的智能体",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := openReadOnly(commandContext(cmd), env)
			if err != nil {
				return err
			}
			defer l.Close()
			if owner == "" {
				return printJSON(cmd.OutOrStdout(), l.Agents())
			}
			address, err := parseAddress("owner", owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), l.AgentsByOwner(address))
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "只列出该地址持有的智能体")
	return cmd
}

func newAuctionsCommand(env *environment) *cobra.Command {
	var seller string
	cmd := &cobra.Command{
		Use:   "auctions",
		Short: "列出拍卖挂牌记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := openReadOnly(commandContext(cmd), env)
			if err != nil {
				return err
			}
			defer l.Close()
			if seller == "" {
				return printJSON(cmd.OutOrStdout(), l.Listings())
			}
			address, err := parseAddress("seller", seller)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), l.ListingsBySeller(address))
		},
	}
	cmd.Flags().StringVar(&seller, "seller", "", "只列出该地址发起的挂牌")
	return cmd
}

type priceQuote struct {
	AgentID uint64   `json:"agent_id"`
	At      int64    `json:"at"`
	Price   *big.Int `json:"price"`
}

func newPriceCommand(env *environment) *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "price <agent-id>",
		Short: "查询挂牌智能体的当前报价",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			id, err := parseAgentID(args[0])
			if err != nil {
				return err
			}
			l, cfg, err := openReadOnly(ctx, env)
			if err != nil {
				return err
			}
			defer l.Close()

			now := at
			if now == 0 {
				clk, release, err := app.BuildClock(ctx, cfg)
				if err != nil {
					return err
				}
				defer release()
				if now, err = clk.Now(ctx); err != nil {
					return err
				}
			}
			price, err := l.Price(id, now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), priceQuote{AgentID: id, At: now, Price: price})
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "按指定 Unix 时间计算报价，默认取当前时间")
	return cmd
}
