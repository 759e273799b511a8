package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentMarket-Chain/internal/clock"
	"AgentMarket-Chain/internal/config"
	xerrors "AgentMarket-Chain/internal/errors"
	"AgentMarket-Chain/internal/ledger"
	"AgentMarket-Chain/internal/observability/alerting"
	"AgentMarket-Chain/internal/ops"
	"AgentMarket-Chain/internal/pinning"
	"AgentMarket-Chain/internal/settlement"
	"AgentMarket-Chain/internal/storage/mysql"
	"AgentMarket-Chain/internal/web3/provider"
	"AgentMarket-Chain/pkg/logger"
)

// InitLogger 根据配置初始化全局日志。
func InitLogger(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	})
}

// OpenJournal 打开配置指定的账本日志。
func OpenJournal(ctx context.Context, cfg *config.Config) (mysql.JournalRepository, error) {
	switch cfg.Journal.Driver {
	case "", "file":
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
		}
		return mysql.NewFileJournalRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.OpenSQLJournalRepository(ctx, mysql.Config{
			DSN:          cfg.Journal.DSN,
			MaxOpenConns: cfg.Journal.MaxOpenConns,
		})
	default:
		return nil, fmt.Errorf("未知的日志驱动: %s", cfg.Journal.Driver)
	}
}

// BuildRail 构造结算通道。memory 通道按配置预置余额。
func BuildRail(cfg config.SettlementConfig) (settlement.Rail, error) {
	switch cfg.Driver {
	case "", "discard":
		return settlement.Discard{}, nil
	case "memory":
		rail := settlement.NewMemoryRail()
		for account, amount := range cfg.Balances {
			if !common.IsHexAddress(account) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的账户地址 %q", account))
			}
			value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
			if !ok {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("账户 %s 的余额 %q 不是十进制整数", account, amount))
			}
			if err := rail.Deposit(common.HexToAddress(account), value); err != nil {
				return nil, err
			}
		}
		return rail, nil
	default:
		return nil, fmt.Errorf("未知的结算驱动: %s", cfg.Driver)
	}
}

// OpenLedger 打开日志、构造账本并回放历史。返回的账本在回放失败时已停止写入。
func OpenLedger(ctx context.Context, cfg *config.Config, opts ...ledger.Option) (*ledger.Ledger, error) {
	journal, err := OpenJournal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rail, err := BuildRail(cfg.Settlement)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	all := append([]ledger.Option{ledger.WithJournal(journal), ledger.WithRail(rail)}, opts...)
	l := ledger.New(all...)
	if err := l.Restore(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// BuildClock 构造时间来源。返回的 release 用于关闭链客户端。
func BuildClock(ctx context.Context, cfg *config.Config) (clock.Clock, func(), error) {
	switch cfg.Clock.Source {
	case "", "system":
		return clock.System{}, func() {}, nil
	case "chain":
		registry, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return nil, nil, err
		}
		client, err := registry.Select(cfg.Clock.Chain)
		if err != nil {
			registry.Close()
			return nil, nil, err
		}
		if snapshot, err := client.FetchChainSnapshot(ctx); err == nil {
			logger.Named("clock").Info("链时间来源已就绪",
				slog.String("chain", snapshot.Name),
				slog.String("chain_id", snapshot.ChainID),
				slog.String("block", snapshot.BlockNumber),
				slog.Int64("block_time", snapshot.BlockTime),
			)
		}
		return clock.NewChain(client, 10*time.Second), registry.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的时间来源: %s", cfg.Clock.Source)
	}
}

// OpenStore 打开操作存储。
func OpenStore(ctx context.Context, cfg *config.Config) (ops.Store, error) {
	switch cfg.Operations.Store.Driver {
	case "", "memory":
		return ops.NewMemoryStore(), nil
	case "mysql":
		return ops.NewMySQLStore(ctx, mysql.Config{DSN: cfg.OperationsDSN()})
	default:
		return nil, fmt.Errorf("未知的操作存储驱动: %s", cfg.Operations.Store.Driver)
	}
}

// OpenQueue 打开操作队列。
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (ops.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return ops.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return ops.NewRedisQueue(ctx, ops.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return ops.NewRabbitMQQueue(ops.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

// BuildAlerts 构造告警派发器，日志渠道始终启用。
func BuildAlerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(notifiers...)
}

// BuildPinner 构造 IPFS 固定客户端。
func BuildPinner(cfg config.PinningConfig) (pinning.Pinner, error) {
	switch cfg.Provider {
	case "", "pinata":
		return pinning.NewPinataClient(pinning.Config{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			Endpoint:  cfg.Endpoint,
			Gateway:   cfg.Gateway,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的固定服务: %s", cfg.Provider)
	}
}
