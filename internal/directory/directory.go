// Package directory 定义用户、托管钱包、代币与狙击手名单的持久化
// 接口。代理的全部资产状态都经由这里落库，工具实现不直接接触
// 具体存储后端。
package directory

import (
	"context"

	xerrors "pochipo/internal/errors"
)

// 目录层专用错误码。
const (
	CodeWalletNotFound xerrors.Code = "WALLET_NOT_FOUND"
	CodeTokenNotFound  xerrors.Code = "TOKEN_NOT_FOUND"
	CodeWalletExists   xerrors.Code = "WALLET_EXISTS"
	CodeUserExists     xerrors.Code = "USER_EXISTS"
	CodeUserNotFound   xerrors.Code = "USER_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeWalletNotFound, xerrors.Attributes{
		Message:  "wallet not found for user",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTokenNotFound, xerrors.Attributes{
		Message:  "token not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeWalletExists, xerrors.Attributes{
		Message:  "user already has a wallet",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUserExists, xerrors.Attributes{
		Message:  "username already taken",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUserNotFound, xerrors.Attributes{
		Message:  "user not found",
		Severity: xerrors.SeverityInfo,
	})
}

// User 是注册用户。密码只保存加盐哈希。
type User struct {
	ID           string
	Username     string
	PasswordHash string
}

// Wallet 是托管钱包。每个用户至多持有一个钱包。
type Wallet struct {
	ID         string
	UserID     string
	Address    string
	PrivateKey string
}

// Token 记录代理铸造出的代币。
type Token struct {
	ID              string
	Name            string
	Symbol          string
	Description     string
	Explanation     string
	SourceLink      string
	ContractAddress string
}

// Sniper 表示一条自动跟买登记：每次成功铸币后，用该用户的托管
// 钱包按固定 ETH 金额买入。
type Sniper struct {
	UserID    string
	EthAmount string
}

// Store 是目录层的统一存取接口。
type Store interface {
	// CreateUser 创建用户。用户名重复返回 USER_EXISTS。
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	// UserByUsername 按用户名查找。不存在返回 USER_NOT_FOUND。
	UserByUsername(ctx context.Context, username string) (*User, error)
	// UserByID 按 ID 查找。不存在返回 USER_NOT_FOUND。
	UserByID(ctx context.Context, id string) (*User, error)

	// CreateWallet 为用户创建托管钱包。用户已有钱包时返回 WALLET_EXISTS。
	CreateWallet(ctx context.Context, wallet Wallet) (*Wallet, error)
	// WalletByUserID 查找用户的托管钱包。不存在返回 WALLET_NOT_FOUND。
	WalletByUserID(ctx context.Context, userID string) (*Wallet, error)

	// CreateToken 记录一枚新铸造的代币。
	CreateToken(ctx context.Context, token Token) (*Token, error)
	// TokenByID 按 ID 查找代币。不存在返回 TOKEN_NOT_FOUND。
	TokenByID(ctx context.Context, id string) (*Token, error)
	// SearchToken 按名称、符号或合约地址查找，命中多条时返回第一条。
	// 不存在返回 TOKEN_NOT_FOUND，永远不把歧义当作错误。
	SearchToken(ctx context.Context, term string) (*Token, error)
	// ListTokens 返回全部代币，按创建顺序排列。
	ListTokens(ctx context.Context) ([]Token, error)

	// AddSniper 登记一条自动跟买。同一用户重复登记时覆盖金额。
	AddSniper(ctx context.Context, sniper Sniper) error
	// DeleteSniper 撤销用户的自动跟买登记。未登记时不报错。
	DeleteSniper(ctx context.Context, userID string) error
	// ListSnipers 返回当前的狙击手名单快照，按登记顺序排列。
	ListSnipers(ctx context.Context) ([]Sniper, error)

	// Close 释放底层资源。
	Close() error
}
