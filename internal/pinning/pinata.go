package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
)

const (
	defaultEndpoint = "https://api.pinata.cloud"
	defaultGateway  = "https://gateway.pinata.cloud/ipfs/"
	defaultTimeout  = 30 * time.Second
)

// Config 描述调用 Pinata 所需的凭据。
type Config struct {
	APIKey    string
	SecretKey string
	Endpoint  string
	Gateway   string
	Timeout   time.Duration
}

// PinataClient 通过 Pinata HTTP API 固定内容。
type PinataClient struct {
	apiKey     string
	secretKey  string
	endpoint   string
	gateway    string
	httpClient *http.Client
}

var _ Pinner = (*PinataClient)(nil)

// NewPinataClient 根据配置创建客户端。
func NewPinataClient(cfg Config) (*PinataClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" || secret == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 Pinata API Key 或 Secret")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	gateway := strings.TrimSpace(cfg.Gateway)
	if gateway == "" {
		gateway = defaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &PinataClient{
		apiKey:     apiKey,
		secretKey:  secret,
		endpoint:   endpoint,
		gateway:    gateway,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// PinJSON 固定一个 JSON 文档。
func (c *PinataClient) PinJSON(ctx context.Context, name string, value any) (Pinned, error) {
	body := map[string]any{
		"pinataContent":  value,
		"pinataMetadata": map[string]string{"name": name},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "序列化固定请求失败")
	}
	return c.post(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(encoded))
}

// PinFile 以 multipart 表单上传文件。
func (c *PinataClient) PinFile(ctx context.Context, name string, content io.Reader) (Pinned, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "构建上传表单失败")
	}
	if _, err := io.Copy(part, content); err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "读取待上传文件失败")
	}
	metadata, _ := json.Marshal(map[string]string{"name": name})
	if err := form.WriteField("pinataMetadata", string(metadata)); err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "构建上传表单失败")
	}
	if err := form.Close(); err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "构建上传表单失败")
	}
	return c.post(ctx, "/pinning/pinFileToIPFS", form.FormDataContentType(), &buf)
}

func (c *PinataClient) post(ctx context.Context, path, contentType string, body io.Reader) (Pinned, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, body)
	if err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "构建 Pinata 请求失败")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "请求 Pinata 失败", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Pinned{}, xerrors.New(xerrors.CodePinFailure,
			fmt.Sprintf("Pinata 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			xerrors.WithRetryable(resp.StatusCode >= http.StatusInternalServerError))
	}

	var decoded struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Pinned{}, xerrors.Wrap(xerrors.CodePinFailure, err, "解析 Pinata 响应失败")
	}
	if decoded.IpfsHash == "" {
		return Pinned{}, xerrors.New(xerrors.CodePinFailure, "Pinata 响应中缺少 IpfsHash")
	}
	return Pinned{CID: decoded.IpfsHash, URL: c.gateway + decoded.IpfsHash}, nil
}
