package sniper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
	"pochipo/internal/observability/alerting"
	"pochipo/internal/web3"
	"pochipo/pkg/logger"
)

// CodeSnipeBuyFailed 标记单个狙击手的跟买失败。只告警不中断。
const CodeSnipeBuyFailed xerrors.Code = "SNIPER_BUY_FAILED"

func init() {
	xerrors.Register(CodeSnipeBuyFailed, xerrors.Attributes{
		Message:  "sniper auto-buy failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// Order 是一条跟买指令：对这枚新铸造的代币执行全员自动买入。
type Order struct {
	ID              string `json:"id"`
	ContractAddress string `json:"contractAddress"`
	Symbol          string `json:"symbol"`
}

// Buyer 抽象跟买需要的下单能力，由交易器实现。
type Buyer interface {
	Buy(ctx context.Context, walletKeyHex, tokenAddress string, ethWei *big.Int) (common.Hash, error)
}

// Service 把铸币事件转成队列指令，并由单个顺序工作协程逐一执行
// 狙击手名单上的买入。单个用户的失败只记录和告警，不影响其余用户。
type Service struct {
	queue  Queue
	store  directory.Store
	buyer  Buyer
	alerts *alerting.Dispatcher
}

// NewService 构造跟买服务。
func NewService(queue Queue, store directory.Store, buyer Buyer, alerts *alerting.Dispatcher) (*Service, error) {
	if queue == nil || store == nil || buyer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "跟买服务缺少依赖")
	}
	return &Service{queue: queue, store: store, buyer: buyer, alerts: alerts}, nil
}

// Dispatch 把一次铸币成功事件投递进队列。相对铸币主流程是
// fire-and-forget：投递失败由调用方记日志，不回滚铸币。
func (s *Service) Dispatch(ctx context.Context, order Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "序列化跟买指令失败")
	}
	if err := s.queue.Publish(ctx, string(payload)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "投递跟买指令失败")
	}
	return nil
}

// Run 启动单个顺序工作协程，阻塞直到上下文取消。
func (s *Service) Run(ctx context.Context) error {
	return s.queue.Consume(ctx, 1, s.handle)
}

// handle 解析指令并执行扇出。指令本身永不重投：失败已经按人隔离
// 处理过，整单重放会造成重复买入。
func (s *Service) handle(ctx context.Context, payload string) error {
	var order Order
	if err := json.Unmarshal([]byte(payload), &order); err != nil {
		logger.Named("sniper").Warn("丢弃无法解析的跟买指令", "payload", payload, "error", err)
		return nil
	}
	s.FanOut(ctx, order)
	return nil
}

// FanOut 对狙击手名单快照逐一买入。名单在开始时取快照，迭代期间的
// 增减不影响本轮。
func (s *Service) FanOut(ctx context.Context, order Order) {
	log := logger.Named("sniper")
	snipers, err := s.store.ListSnipers(ctx)
	if err != nil {
		log.Error("读取狙击名单失败", "order", order.ID, "error", err)
		s.alerts.NotifyError(ctx, order.ContractAddress, err)
		return
	}
	if len(snipers) == 0 {
		log.Info("狙击名单为空，跳过跟买", "token", order.ContractAddress)
		return
	}

	log.Info("开始跟买扇出",
		"token", order.ContractAddress, "symbol", order.Symbol, "snipers", len(snipers))
	for _, entry := range snipers {
		if ctx.Err() != nil {
			return
		}
		if err := s.buyFor(ctx, order, entry); err != nil {
			wrapped := xerrors.Wrap(CodeSnipeBuyFailed, err,
				fmt.Sprintf("用户 %s 跟买 %s 失败", entry.UserID, order.Symbol))
			log.Warn("跟买失败，继续下一位",
				"user", entry.UserID, "token", order.ContractAddress, "error", err)
			s.alerts.NotifyError(ctx, entry.UserID, wrapped)
			continue
		}
		log.Info("跟买成功", "user", entry.UserID, "token", order.ContractAddress)
	}
}

// buyFor 执行单个狙击手的买入。钱包在下单时刻查询，不用快照里的
// 旧数据。
func (s *Service) buyFor(ctx context.Context, order Order, entry directory.Sniper) error {
	wallet, err := s.store.WalletByUserID(ctx, entry.UserID)
	if err != nil {
		return err
	}
	amount, err := web3.ParseEther(entry.EthAmount)
	if err != nil {
		return err
	}
	_, err = s.buyer.Buy(ctx, wallet.PrivateKey, order.ContractAddress, amount)
	return err
}
