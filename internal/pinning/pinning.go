package pinning

import (
	"context"
	"io"
)

// AgentMetadata 是注册或升级智能体时写入 IPFS 的描述文档。
type AgentMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Docker      string `json:"docker"`
}

// Pinned 描述一次固定的结果。
type Pinned struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

// Pinner 抽象 IPFS 固定服务。
type Pinner interface {
	PinJSON(ctx context.Context, name string, value any) (Pinned, error)
	PinFile(ctx context.Context, name string, content io.Reader) (Pinned, error)
}

// PinAgent 先固定镜像文件，再固定引用该镜像的元数据文档，返回元数据地址。
func PinAgent(ctx context.Context, p Pinner, name, description, fileName string, image io.Reader) (Pinned, error) {
	file, err := p.PinFile(ctx, fileName, image)
	if err != nil {
		return Pinned{}, err
	}
	return p.PinJSON(ctx, name, AgentMetadata{
		Name:        name,
		Description: description,
		Docker:      file.URL,
	})
}
