package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	xerrors "pochipo/internal/errors"
)

// MemoryStore 是基于内存的目录实现，适合本地运行和测试。
type MemoryStore struct {
	mu      sync.RWMutex
	users   []User
	wallets []Wallet
	tokens  []Token
	snipers []Sniper
}

// NewMemoryStore 创建空的内存目录。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// CreateUser 实现 Store。
func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户名不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == username {
			return nil, xerrors.New(CodeUserExists, "")
		}
	}
	user := User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	s.users = append(s.users, user)
	return &user, nil
}

// UserByUsername 实现 Store。
func (s *MemoryStore) UserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			clone := user
			return &clone, nil
		}
	}
	return nil, xerrors.New(CodeUserNotFound, "")
}

// UserByID 实现 Store。
func (s *MemoryStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.ID == id {
			clone := user
			return &clone, nil
		}
	}
	return nil, xerrors.New(CodeUserNotFound, "")
}

// CreateWallet 实现 Store。一人一钱包的约束在这里兜底。
func (s *MemoryStore) CreateWallet(_ context.Context, wallet Wallet) (*Wallet, error) {
	if wallet.UserID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包缺少用户标识")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.wallets {
		if existing.UserID == wallet.UserID {
			return nil, xerrors.New(CodeWalletExists, "")
		}
	}
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	s.wallets = append(s.wallets, wallet)
	clone := wallet
	return &clone, nil
}

// WalletByUserID 实现 Store。
func (s *MemoryStore) WalletByUserID(_ context.Context, userID string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wallet := range s.wallets {
		if wallet.UserID == userID {
			clone := wallet
			return &clone, nil
		}
	}
	return nil, xerrors.New(CodeWalletNotFound, "")
}

// CreateToken 实现 Store。
func (s *MemoryStore) CreateToken(_ context.Context, token Token) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	s.tokens = append(s.tokens, token)
	clone := token
	return &clone, nil
}

// TokenByID 实现 Store。
func (s *MemoryStore) TokenByID(_ context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.tokens {
		if token.ID == id {
			clone := token
			return &clone, nil
		}
	}
	return nil, xerrors.New(CodeTokenNotFound, "")
}

// SearchToken 实现 Store。匹配不区分大小写，第一条命中即返回。
func (s *MemoryStore) SearchToken(_ context.Context, term string) (*Token, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, xerrors.New(CodeTokenNotFound, "")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.tokens {
		if strings.ToLower(token.Name) == needle ||
			strings.ToLower(token.Symbol) == needle ||
			strings.ToLower(token.ContractAddress) == needle {
			clone := token
			return &clone, nil
		}
	}
	return nil, xerrors.New(CodeTokenNotFound, "")
}

// ListTokens 实现 Store。
func (s *MemoryStore) ListTokens(_ context.Context) ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]Token, len(s.tokens))
	copy(tokens, s.tokens)
	return tokens, nil
}

// AddSniper 实现 Store。
func (s *MemoryStore) AddSniper(_ context.Context, sniper Sniper) error {
	if sniper.UserID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "狙击登记缺少用户标识")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.snipers {
		if existing.UserID == sniper.UserID {
			s.snipers[i].EthAmount = sniper.EthAmount
			return nil
		}
	}
	s.snipers = append(s.snipers, sniper)
	return nil
}

// DeleteSniper 实现 Store。
func (s *MemoryStore) DeleteSniper(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.snipers {
		if existing.UserID == userID {
			s.snipers = append(s.snipers[:i], s.snipers[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListSnipers 实现 Store。
func (s *MemoryStore) ListSnipers(_ context.Context) ([]Sniper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snipers := make([]Sniper, len(s.snipers))
	copy(snipers, s.snipers)
	return snipers, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error {
	return nil
}
