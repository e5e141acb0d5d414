package moonshot

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "pochipo/internal/errors"
	"pochipo/internal/web3"
)

// fakeChain 是可编排的链客户端：可以指定前几次广播返回 nonce 冲突，
// 并统计各类调用次数。
type fakeChain struct {
	mu            sync.Mutex
	gasEstimates  int
	nonceFailures int
	sent          []*coretypes.Transaction
	callResult    []byte
	balance       *big.Int
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(84532), nil }

func (f *fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasEstimates++
	return 21000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nonceFailures > 0 {
		f.nonceFailures--
		return errors.New("nonce too low")
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) WaitMined(_ context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func (f *fakeChain) CallContract(context.Context, gethcore.CallMsg) ([]byte, error) {
	if f.callResult == nil {
		return make([]byte, 32), nil
	}
	return f.callResult, nil
}

func (f *fakeChain) Close() {}

func newTestTrader(t *testing.T, chain web3.Client, api *Client) (*Trader, web3.Keypair) {
	t.Helper()
	keypair, err := web3.GenerateKeypair()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	if api == nil {
		api = &Client{baseURL: "http://moonshot.invalid", name: "n", secret: "s", httpClient: http.DefaultClient}
	}
	trader, err := NewTrader(chain, api, TraderConfig{OperatorKeyHex: keypair.PrivateKeyHex})
	if err != nil {
		t.Fatalf("构造交易器失败: %v", err)
	}
	return trader, keypair
}

func TestSendETHRetriesOnNonceConflict(t *testing.T) {
	chain := &fakeChain{nonceFailures: 1}
	trader, keypair := newTestTrader(t, chain, nil)

	hash, err := trader.SendETH(context.Background(), keypair.PrivateKeyHex,
		"0x00000000000000000000000000000000000000aa", big.NewInt(1))
	if err != nil {
		t.Fatalf("send eth: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatal("缺少交易哈希")
	}
	// 每次尝试都重新估算 Gas：第二次成功意味着恰好两次估算。
	if chain.gasEstimates != 2 {
		t.Fatalf("期望 2 次 Gas 估算，实际 %d 次", chain.gasEstimates)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("期望恰好 1 笔上链交易，实际 %d 笔", len(chain.sent))
	}
}

func TestSendETHNonceRetryExhausted(t *testing.T) {
	chain := &fakeChain{nonceFailures: nonceRetryAttempts}
	trader, keypair := newTestTrader(t, chain, nil)

	_, err := trader.SendETH(context.Background(), keypair.PrivateKeyHex,
		"0x00000000000000000000000000000000000000aa", big.NewInt(1))
	if err == nil {
		t.Fatal("期望重试耗尽错误")
	}
	if xerrors.CodeOf(err) != CodeNonceRetryExhausted {
		t.Fatalf("错误码不符: %v", err)
	}
	if chain.gasEstimates != nonceRetryAttempts {
		t.Fatalf("期望 %d 次 Gas 估算，实际 %d 次", nonceRetryAttempts, chain.gasEstimates)
	}
	if len(chain.sent) != 0 {
		t.Fatalf("不应有交易上链，实际 %d 笔", len(chain.sent))
	}
}

func TestSendETHDoesNotRetryOtherErrors(t *testing.T) {
	chain := &brokenChain{fakeChain: &fakeChain{}, sendErr: errors.New("insufficient funds")}
	trader, keypair := newTestTrader(t, chain, nil)

	_, err := trader.SendETH(context.Background(), keypair.PrivateKeyHex,
		"0x00000000000000000000000000000000000000aa", big.NewInt(1))
	if err == nil {
		t.Fatal("期望广播错误上抛")
	}
	if chain.fakeChain.gasEstimates != 1 {
		t.Fatalf("非 nonce 错误不应重试，实际 %d 次估算", chain.fakeChain.gasEstimates)
	}
}

type brokenChain struct {
	*fakeChain
	sendErr error
}

func (b *brokenChain) SendTransaction(context.Context, *coretypes.Transaction) error {
	return b.sendErr
}

func TestSellRejectsZeroBalance(t *testing.T) {
	chain := &fakeChain{callResult: make([]byte, 32)}
	trader, keypair := newTestTrader(t, chain, nil)

	_, _, err := trader.Sell(context.Background(), keypair.PrivateKeyHex,
		"0x00000000000000000000000000000000000000bb")
	if err == nil {
		t.Fatal("期望零持仓错误")
	}
	if xerrors.CodeOf(err) != CodeZeroTokenBalance {
		t.Fatalf("错误码不符: %v", err)
	}
	if len(chain.sent) != 0 {
		t.Fatalf("零持仓不应发起任何交易，实际 %d 笔", len(chain.sent))
	}
}

func TestSellApprovesBeforeSelling(t *testing.T) {
	router := "0x00000000000000000000000000000000000000cc"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades/v1/prepare" {
			t.Fatalf("未知路径: %s", r.URL.Path)
		}
		var req TradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求失败: %v", err)
		}
		if req.Direction != DirectionSell {
			t.Fatalf("方向不符: %s", req.Direction)
		}
		if req.TokenAmount != "100" {
			t.Fatalf("卖出数量应为全部持仓，实际 %s", req.TokenAmount)
		}
		_ = json.NewEncoder(w).Encode(PreparedTx{To: router, Data: "0xdeadbeef"})
	}))
	defer srv.Close()

	api, err := NewClient(Config{BaseURL: srv.URL, CredentialName: "n", CredentialSecret: "s"})
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}

	// 持仓 100，大端编码在 32 字节尾部。
	holding := make([]byte, 32)
	holding[31] = 100
	chain := &fakeChain{callResult: holding}
	trader, keypair := newTestTrader(t, chain, api)

	tokenAddr := "0x00000000000000000000000000000000000000bb"
	_, sold, err := trader.Sell(context.Background(), keypair.PrivateKeyHex, tokenAddr)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sold.Int64() != 100 {
		t.Fatalf("卖出数量不符: %s", sold)
	}
	if len(chain.sent) != 2 {
		t.Fatalf("期望授权 + 卖出两笔交易，实际 %d 笔", len(chain.sent))
	}
	// 第一笔是对代币合约的授权，第二笔才是发给路由的卖出。
	if got := chain.sent[0].To().Hex(); got != common.HexToAddress(tokenAddr).Hex() {
		t.Fatalf("授权应发给代币合约，实际 %s", got)
	}
	if got := chain.sent[1].To().Hex(); got != common.HexToAddress(router).Hex() {
		t.Fatalf("卖出应发给路由，实际 %s", got)
	}
}

func TestQuoteBuyParsesTokenAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades/v1/quote" {
			t.Fatalf("未知路径: %s", r.URL.Path)
		}
		var req QuoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("解析请求失败: %v", err)
		}
		if req.Direction != DirectionBuy || req.CollateralAmount != "1000" {
			t.Fatalf("报价请求不符: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Quote{TokenAmount: "424242"})
	}))
	defer srv.Close()

	api, err := NewClient(Config{BaseURL: srv.URL, CredentialName: "n", CredentialSecret: "s"})
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	trader, _ := newTestTrader(t, &fakeChain{}, api)

	amount, err := trader.QuoteBuy(context.Background(),
		"0x00000000000000000000000000000000000000bb", big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if amount.Int64() != 424242 {
		t.Fatalf("报价不符: %s", amount)
	}
}

func TestDecodePrepared(t *testing.T) {
	to := "0x00000000000000000000000000000000000000aa"

	addr, value, data, err := decodePrepared(PreparedTx{To: to, Value: "12345", Data: "0x01ff"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if addr != common.HexToAddress(to) {
		t.Fatalf("地址不符: %s", addr)
	}
	if value.Int64() != 12345 {
		t.Fatalf("十进制金额不符: %s", value)
	}
	if len(data) != 2 || data[0] != 0x01 || data[1] != 0xff {
		t.Fatalf("数据不符: %x", data)
	}

	_, value, _, err = decodePrepared(PreparedTx{To: to, Value: "0x10"})
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if value.Int64() != 16 {
		t.Fatalf("十六进制金额不符: %s", value)
	}

	if _, _, _, err := decodePrepared(PreparedTx{To: "not-an-address"}); err == nil {
		t.Fatal("非法地址应报错")
	}
	if _, _, _, err := decodePrepared(PreparedTx{To: to, Value: "xyz"}); err == nil {
		t.Fatal("非法金额应报错")
	}
}
