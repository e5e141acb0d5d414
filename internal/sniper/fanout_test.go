package sniper

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pochipo/internal/directory"
	"pochipo/internal/observability/alerting"
)

// recordingBuyer 记录每次买入，并可对指定私钥强制失败。
type recordingBuyer struct {
	mu      sync.Mutex
	buys    []string
	failKey string
}

func (b *recordingBuyer) Buy(_ context.Context, walletKeyHex, _ string, _ *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if walletKeyHex == b.failKey {
		return common.Hash{}, errors.New("rpc unavailable")
	}
	b.buys = append(b.buys, walletKeyHex)
	return common.HexToHash("0x01"), nil
}

func addSniper(t *testing.T, store directory.Store, userID, key, amount string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateWallet(ctx, directory.Wallet{
		UserID:     userID,
		Address:    "0x00000000000000000000000000000000000000" + userID[len(userID)-2:],
		PrivateKey: key,
	}); err != nil {
		t.Fatalf("建钱包失败: %v", err)
	}
	if err := store.AddSniper(ctx, directory.Sniper{UserID: userID, EthAmount: amount}); err != nil {
		t.Fatalf("登记狙击失败: %v", err)
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	store := directory.NewMemoryStore()
	addSniper(t, store, "user-a1", "key-a", "0.1")
	addSniper(t, store, "user-b2", "key-b", "0.2")
	addSniper(t, store, "user-c3", "key-c", "0.3")

	buyer := &recordingBuyer{failKey: "key-b"}
	svc, err := NewService(NewMemoryQueue(0), store, buyer, alerting.NewDispatcher())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	svc.FanOut(context.Background(), Order{ID: "o1", ContractAddress: "0xabc", Symbol: "ABC"})

	if len(buyer.buys) != 2 {
		t.Fatalf("期望 2 次成功买入，实际 %d 次", len(buyer.buys))
	}
	if buyer.buys[0] != "key-a" || buyer.buys[1] != "key-c" {
		t.Fatalf("买入顺序或对象不符: %v", buyer.buys)
	}
}

func TestFanOutSkipsSniperWithoutWallet(t *testing.T) {
	store := directory.NewMemoryStore()
	addSniper(t, store, "user-a1", "key-a", "0.1")
	// 只登记狙击、不建钱包的用户应被跳过。
	if err := store.AddSniper(context.Background(), directory.Sniper{UserID: "ghost", EthAmount: "0.5"}); err != nil {
		t.Fatalf("登记狙击失败: %v", err)
	}

	buyer := &recordingBuyer{}
	svc, err := NewService(NewMemoryQueue(0), store, buyer, alerting.NewDispatcher())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	svc.FanOut(context.Background(), Order{ID: "o1", ContractAddress: "0xabc", Symbol: "ABC"})

	if len(buyer.buys) != 1 || buyer.buys[0] != "key-a" {
		t.Fatalf("买入记录不符: %v", buyer.buys)
	}
}

func TestDispatchAndConsume(t *testing.T) {
	store := directory.NewMemoryStore()
	addSniper(t, store, "user-a1", "key-a", "0.1")

	buyer := &recordingBuyer{}
	queue := NewMemoryQueue(4)
	svc, err := NewService(queue, store, buyer, alerting.NewDispatcher())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	if err := svc.Dispatch(ctx, Order{ContractAddress: "0xabc", Symbol: "ABC"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		buyer.mu.Lock()
		count := len(buyer.buys)
		buyer.mu.Unlock()
		if count == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("跟买指令未被消费")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestHandleDropsGarbagePayload(t *testing.T) {
	store := directory.NewMemoryStore()
	buyer := &recordingBuyer{}
	svc, err := NewService(NewMemoryQueue(0), store, buyer, alerting.NewDispatcher())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	// 无法解析的指令丢弃且不报错，避免整单重投造成重复买入。
	if err := svc.handle(context.Background(), "{not json"); err != nil {
		t.Fatalf("乱序指令应被静默丢弃: %v", err)
	}
	if len(buyer.buys) != 0 {
		t.Fatalf("不应有任何买入: %v", buyer.buys)
	}
}

func TestDispatchAssignsOrderID(t *testing.T) {
	store := directory.NewMemoryStore()
	buyer := &recordingBuyer{}
	queue := NewMemoryQueue(1)
	svc, err := NewService(queue, store, buyer, alerting.NewDispatcher())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}

	if err := svc.Dispatch(context.Background(), Order{ContractAddress: "0xabc"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	payload := <-queue.ch
	var order Order
	if err := json.Unmarshal([]byte(payload), &order); err != nil {
		t.Fatalf("解析指令失败: %v", err)
	}
	if order.ID == "" {
		t.Fatal("投递时应补齐指令 ID")
	}
}
