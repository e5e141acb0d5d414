package moonshot

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "pochipo/internal/errors"
	"pochipo/internal/web3"
	"pochipo/pkg/logger"
)

// 交易器专用错误码。
const (
	CodeNonceRetryExhausted xerrors.Code = "NONCE_RETRY_EXHAUSTED"
	CodeZeroTokenBalance    xerrors.Code = "ZERO_TOKEN_BALANCE"
)

// nonceRetryAttempts 限制 nonce 冲突后的重发次数。
const nonceRetryAttempts = 5

func init() {
	xerrors.Register(CodeNonceRetryExhausted, xerrors.Attributes{
		Message:   "transaction submission exhausted nonce retries",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeZeroTokenBalance, xerrors.Attributes{
		Message:  "no token balance to sell",
		Severity: xerrors.SeverityInfo,
	})
}

// TraderConfig 描述交易器的构造参数。
type TraderConfig struct {
	// OperatorKeyHex 是铸币用的运营方签名私钥。
	OperatorKeyHex string
	SlippageBps    int
	// MintTokenAmount 是铸币时默认的首笔买入量（原始单位）。
	MintTokenAmount string
}

// Trader 负责把 Moonshot 预构建的交易补齐 nonce 与 Gas 参数、签名并
// 上链。同一托管钱包上的交易提交串行进行。
type Trader struct {
	chain       web3.Client
	api         *Client
	operatorKey *ecdsa.PrivateKey
	operator    common.Address
	slippageBps int
	mintAmount  string

	lockMu sync.Mutex
	locks  map[common.Address]*sync.Mutex
}

// NewTrader 构造交易器。
func NewTrader(chain web3.Client, api *Client, cfg TraderConfig) (*Trader, error) {
	if chain == nil || api == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易器缺少链客户端或 Moonshot 客户端")
	}
	key, addr, err := web3.ParsePrivateKey(cfg.OperatorKeyHex)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigMissing, err, "运营方私钥不可用")
	}
	slippage := cfg.SlippageBps
	if slippage <= 0 {
		slippage = 1000
	}
	return &Trader{
		chain:       chain,
		api:         api,
		operatorKey: key,
		operator:    addr,
		slippageBps: slippage,
		mintAmount:  cfg.MintTokenAmount,
		locks:       make(map[common.Address]*sync.Mutex),
	}, nil
}

// OperatorAddress 返回运营方钱包地址。
func (t *Trader) OperatorAddress() common.Address {
	return t.operator
}

// walletLock 返回指定地址的互斥锁，同一地址永远拿到同一把锁。
func (t *Trader) walletLock(addr common.Address) *sync.Mutex {
	t.lockMu.Lock()
	defer t.lockMu.Unlock()
	lock, ok := t.locks[addr]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[addr] = lock
	}
	return lock
}

// Mint 用运营方钱包铸造一枚新代币。铸币单发不重试，失败直接上抛。
func (t *Trader) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	req.Creator = t.operator.Hex()
	if req.TokenAmount == "" {
		req.TokenAmount = t.mintAmount
	}
	prepared, err := t.api.PrepareMint(ctx, req)
	if err != nil {
		return nil, err
	}

	lock := t.walletLock(t.operator)
	lock.Lock()
	defer lock.Unlock()

	signed, err := t.signPrepared(ctx, t.operatorKey, t.operator, prepared.Tx)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "序列化铸币交易失败")
	}
	return t.api.SubmitMint(ctx, prepared.DraftID, "0x"+hex.EncodeToString(raw))
}

// Buy 用指定托管钱包按 ETH 金额买入代币，返回交易哈希。
func (t *Trader) Buy(ctx context.Context, walletKeyHex, tokenAddress string, ethWei *big.Int) (common.Hash, error) {
	key, from, err := web3.ParsePrivateKey(walletKeyHex)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "托管私钥不可用")
	}

	prepared, err := t.api.PrepareTrade(ctx, TradeRequest{
		TokenAddress:     tokenAddress,
		WalletAddress:    from.Hex(),
		Direction:        DirectionBuy,
		CollateralAmount: ethWei.String(),
		SlippageBps:      t.slippageBps,
	})
	if err != nil {
		return common.Hash{}, err
	}

	lock := t.walletLock(from)
	lock.Lock()
	defer lock.Unlock()
	return t.submitWithRetry(ctx, key, from, *prepared)
}

// Sell 卖出指定托管钱包持有的全部代币。持仓为零时拒绝并返回
// ZERO_TOKEN_BALANCE。返回交易哈希和卖出的代币数量。
func (t *Trader) Sell(ctx context.Context, walletKeyHex, tokenAddress string) (common.Hash, *big.Int, error) {
	key, from, err := web3.ParsePrivateKey(walletKeyHex)
	if err != nil {
		return common.Hash{}, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "托管私钥不可用")
	}

	token := common.HexToAddress(tokenAddress)
	balance, err := web3.ERC20BalanceOf(ctx, t.chain, token, from)
	if err != nil {
		return common.Hash{}, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询代币持仓失败")
	}
	if balance.Sign() == 0 {
		return common.Hash{}, nil, xerrors.New(CodeZeroTokenBalance, "")
	}

	prepared, err := t.api.PrepareTrade(ctx, TradeRequest{
		TokenAddress:  tokenAddress,
		WalletAddress: from.Hex(),
		Direction:     DirectionSell,
		TokenAmount:   balance.String(),
		SlippageBps:   t.slippageBps,
	})
	if err != nil {
		return common.Hash{}, nil, err
	}

	lock := t.walletLock(from)
	lock.Lock()
	defer lock.Unlock()

	// 先授权路由合约划转代币，确认上链后再提交卖出。
	spender := common.HexToAddress(prepared.To)
	approveData, err := web3.ERC20ApproveCalldata(spender, balance)
	if err != nil {
		return common.Hash{}, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "构造授权调用失败")
	}
	approveHash, err := t.submitWithRetry(ctx, key, from, PreparedTx{
		To:   token.Hex(),
		Data: "0x" + hex.EncodeToString(approveData),
	})
	if err != nil {
		return common.Hash{}, nil, err
	}
	if _, err := t.chain.WaitMined(ctx, approveHash); err != nil {
		return common.Hash{}, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "等待授权上链失败")
	}

	hash, err := t.submitWithRetry(ctx, key, from, *prepared)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return hash, balance, nil
}

// QuoteBuy 估算花费 ethWei 可以换到多少代币（原始单位）。
func (t *Trader) QuoteBuy(ctx context.Context, tokenAddress string, ethWei *big.Int) (*big.Int, error) {
	quote, err := t.api.QuoteTrade(ctx, QuoteRequest{
		TokenAddress:     tokenAddress,
		Direction:        DirectionBuy,
		CollateralAmount: ethWei.String(),
	})
	if err != nil {
		return nil, err
	}
	amount, ok := parseBig(strings.TrimSpace(quote.TokenAmount))
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainFailure,
			fmt.Sprintf("报价金额非法: %s", quote.TokenAmount))
	}
	return amount, nil
}

// QuoteSell 估算卖出 tokenAmount 枚代币（原始单位）能换到多少 ETH。
func (t *Trader) QuoteSell(ctx context.Context, tokenAddress string, tokenAmount *big.Int) (*big.Int, error) {
	quote, err := t.api.QuoteTrade(ctx, QuoteRequest{
		TokenAddress: tokenAddress,
		Direction:    DirectionSell,
		TokenAmount:  tokenAmount.String(),
	})
	if err != nil {
		return nil, err
	}
	amount, ok := parseBig(strings.TrimSpace(quote.CollateralAmount))
	if !ok {
		return nil, xerrors.New(xerrors.CodeChainFailure,
			fmt.Sprintf("报价金额非法: %s", quote.CollateralAmount))
	}
	return amount, nil
}

// SendETH 从托管钱包向任意地址转账 ETH。
func (t *Trader) SendETH(ctx context.Context, walletKeyHex, toAddress string, ethWei *big.Int) (common.Hash, error) {
	key, from, err := web3.ParsePrivateKey(walletKeyHex)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "托管私钥不可用")
	}

	lock := t.walletLock(from)
	lock.Lock()
	defer lock.Unlock()
	return t.submitWithRetry(ctx, key, from, PreparedTx{
		To:    toAddress,
		Value: ethWei.String(),
	})
}

// submitWithRetry 补齐交易参数、签名并广播。nonce 冲突时重新读取
// nonce 并重新估算 Gas 后重发，最多 nonceRetryAttempts 次。
func (t *Trader) submitWithRetry(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, prepared PreparedTx) (common.Hash, error) {
	to, value, data, err := decodePrepared(prepared)
	if err != nil {
		return common.Hash{}, err
	}
	chainID, err := t.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	signer := coretypes.NewEIP155Signer(chainID)
	log := logger.Named("moonshot.trader")

	var lastErr error
	for attempt := 1; attempt <= nonceRetryAttempts; attempt++ {
		nonce, err := t.chain.PendingNonceAt(ctx, from)
		if err != nil {
			return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取 nonce 失败")
		}
		gasPrice, err := t.chain.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取 Gas 价格失败")
		}
		gasLimit, err := t.chain.EstimateGas(ctx, gethcore.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "估算 Gas 失败")
		}

		tx := coretypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
		signed, err := coretypes.SignTx(tx, signer, key)
		if err != nil {
			return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "签名交易失败")
		}

		if err := t.chain.SendTransaction(ctx, signed); err != nil {
			if !isNonceConflict(err) {
				return common.Hash{}, xerrors.Wrap(xerrors.CodeChainFailure, err, "广播交易失败")
			}
			lastErr = err
			log.Warn("nonce 冲突，重新提交交易",
				"wallet", from.Hex(), "attempt", attempt, "nonce", nonce)
			continue
		}
		return signed.Hash(), nil
	}
	return common.Hash{}, xerrors.Wrap(CodeNonceRetryExhausted, lastErr,
		fmt.Sprintf("交易重发 %d 次后仍然 nonce 冲突", nonceRetryAttempts))
}

// signPrepared 单次签名，不做重试，铸币流程使用。
func (t *Trader) signPrepared(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, prepared PreparedTx) (*coretypes.Transaction, error) {
	to, value, data, err := decodePrepared(prepared)
	if err != nil {
		return nil, err
	}
	chainID, err := t.chain.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	nonce, err := t.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "读取 nonce 失败")
	}
	gasPrice, err := t.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取 Gas 价格失败")
	}
	gasLimit, err := t.chain.EstimateGas(ctx, gethcore.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "估算 Gas 失败")
	}

	tx := coretypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := coretypes.SignTx(tx, coretypes.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "签名交易失败")
	}
	return signed, nil
}

// decodePrepared 把 API 返回的交易骨架解析成链上参数。
func decodePrepared(prepared PreparedTx) (common.Address, *big.Int, []byte, error) {
	if !common.IsHexAddress(prepared.To) {
		return common.Address{}, nil, nil, xerrors.New(xerrors.CodeChainFailure,
			fmt.Sprintf("预构建交易的目标地址非法: %s", prepared.To))
	}
	to := common.HexToAddress(prepared.To)

	value := big.NewInt(0)
	if raw := strings.TrimSpace(prepared.Value); raw != "" {
		parsed, ok := parseBig(raw)
		if !ok {
			return common.Address{}, nil, nil, xerrors.New(xerrors.CodeChainFailure,
				fmt.Sprintf("预构建交易的金额非法: %s", raw))
		}
		value = parsed
	}

	var data []byte
	if raw := strings.TrimPrefix(strings.TrimSpace(prepared.Data), "0x"); raw != "" {
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return common.Address{}, nil, nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "预构建交易的数据非法")
		}
		data = decoded
	}
	return to, value, data, nil
}

// parseBig 同时接受十进制和 0x 前缀的十六进制。
func parseBig(raw string) (*big.Int, bool) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return new(big.Int).SetString(raw[2:], 16)
	}
	return new(big.Int).SetString(raw, 10)
}

func isNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
