// Package moonshot 封装 Moonshot 发射台的托管 SDK 接口：铸币草稿、
// 交易预构建，以及把预构建交易签名上链的交易器。
package moonshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "pochipo/internal/errors"
)

// Config 描述 Moonshot API 的访问参数。凭据对来自托管钱包服务商。
type Config struct {
	BaseURL          string
	CredentialName   string
	CredentialSecret string
	Timeout          time.Duration
}

// Client 是 Moonshot REST API 的薄封装。
type Client struct {
	baseURL    string
	name       string
	secret     string
	httpClient *http.Client
}

// NewClient 构造 Moonshot 客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "moonshot base url 不能为空")
	}
	if strings.TrimSpace(cfg.CredentialName) == "" || strings.TrimSpace(cfg.CredentialSecret) == "" {
		return nil, xerrors.New(xerrors.CodeConfigMissing, "moonshot 凭据对不完整")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		name:       cfg.CredentialName,
		secret:     cfg.CredentialSecret,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// PreparedTx 是 API 返回的待签名交易骨架。
type PreparedTx struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// MintRequest 描述一次铸币草稿。TokenAmount 是创建者在曲线上的首笔
// 买入量（原始单位），留空时由交易器填入配置的默认值。
type MintRequest struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Creator     string `json:"creator"`
	TokenAmount string `json:"tokenAmount,omitempty"`
}

// PreparedMint 是铸币草稿的预构建结果。
type PreparedMint struct {
	DraftID string     `json:"draftId"`
	Tx      PreparedTx `json:"transaction"`
}

// MintResult 是铸币提交后的最终结果。
type MintResult struct {
	ContractAddress string `json:"contractAddress"`
	TxHash          string `json:"txHash"`
}

// 交易方向。
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// TradeRequest 描述一次买入或卖出的预构建请求。金额按 wei 的十进制
// 字符串传递：买入填 CollateralAmount，卖出填 TokenAmount。
type TradeRequest struct {
	TokenAddress     string `json:"tokenAddress"`
	WalletAddress    string `json:"walletAddress"`
	Direction        string `json:"tradeDirection"`
	TokenAmount      string `json:"tokenAmount,omitempty"`
	CollateralAmount string `json:"collateralAmount,omitempty"`
	SlippageBps      int    `json:"slippageBps"`
}

// PrepareMint 创建铸币草稿并返回待签名交易。
func (c *Client) PrepareMint(ctx context.Context, req MintRequest) (*PreparedMint, error) {
	var prepared PreparedMint
	if err := c.post(ctx, "/tokens/v1/mint/prepare", req, &prepared); err != nil {
		return nil, err
	}
	return &prepared, nil
}

// SubmitMint 上报签名后的铸币交易，返回新代币的合约地址。
func (c *Client) SubmitMint(ctx context.Context, draftID, signedTxHex string) (*MintResult, error) {
	payload := map[string]string{
		"draftId":           draftID,
		"signedTransaction": signedTxHex,
	}
	var result MintResult
	if err := c.post(ctx, "/tokens/v1/mint/submit", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PrepareTrade 返回买入或卖出的待签名交易。
func (c *Client) PrepareTrade(ctx context.Context, req TradeRequest) (*PreparedTx, error) {
	var prepared PreparedTx
	if err := c.post(ctx, "/trades/v1/prepare", req, &prepared); err != nil {
		return nil, err
	}
	return &prepared, nil
}

// QuoteRequest 描述一次报价：BUY 填 CollateralAmount 估算可得代币数，
// SELL 填 TokenAmount 估算可得 ETH。
type QuoteRequest struct {
	TokenAddress     string `json:"tokenAddress"`
	Direction        string `json:"tradeDirection"`
	TokenAmount      string `json:"tokenAmount,omitempty"`
	CollateralAmount string `json:"collateralAmount,omitempty"`
}

// Quote 是报价结果，两个金额都是 wei 级十进制字符串。
type Quote struct {
	TokenAmount      string `json:"tokenAmount"`
	CollateralAmount string `json:"collateralAmount"`
}

// QuoteTrade 查询买入或卖出的预估成交量，不产生任何链上动作。
func (c *Client) QuoteTrade(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var quote Quote
	if err := c.post(ctx, "/trades/v1/quote", req, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "序列化请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "构造请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.name, c.secret)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "调用 Moonshot 接口失败")
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "读取响应失败")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return xerrors.New(xerrors.CodeChainFailure,
			fmt.Sprintf("moonshot 返回状态码 %d: %s", httpResp.StatusCode, truncate(string(respBody), 256)))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "解析响应失败")
	}
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
