package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentMarket-Chain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID uint64
	Notes   string
}

// chainReader mirrors the subset of ethclient used here.
type chainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	reader    chainReader
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint. When cfg.ChainID is set the
// remote chain id must match it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		reader:    eth,
	}
	if cfg.ChainID != 0 {
		id, err := eth.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		if id.Uint64() != cfg.ChainID {
			client.Close()
			return nil, fmt.Errorf("链 %s 的 ID 为 %s，与配置的 %d 不符", cfg.Name, id, cfg.ChainID)
		}
	}
	return client, nil
}

func newClientWithReader(name string, reader chainReader) *Client {
	return &Client{name: name, reader: reader}
}

// HeadTime returns the timestamp of the latest block header.
func (c *Client) HeadTime(ctx context.Context) (int64, error) {
	header, err := c.latestHeader(ctx)
	if err != nil {
		return 0, err
	}
	return int64(header.Time), nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	header, err := c.latestHeader(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := c.reader.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: toHexBig(header.Number),
		BlockTime:   int64(header.Time),
		Notes:       c.notes,
	}, nil
}

func (c *Client) latestHeader(ctx context.Context) (*coretypes.Header, error) {
	if c == nil || c.reader == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	header, err := c.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	if header == nil {
		return nil, errors.New("节点返回了空区块头")
	}
	return header, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
		c.rpcClient = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.reader = nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", n)
}

var _ web3.Client = (*Client)(nil)
