// Package mysql 提供目录层的 MySQL 实现。
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
)

const mysqlErrDuplicateEntry = 1062

// SQLDirectoryStore 把用户、钱包、代币与狙击手名单持久化到 MySQL。
type SQLDirectoryStore struct {
	db *sql.DB
}

// NewSQLDirectoryStore 打开连接池并执行内嵌迁移。
func NewSQLDirectoryStore(ctx context.Context, cfg Config) (*SQLDirectoryStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDirectoryStore{db: db}, nil
}

// Close 释放连接池。
func (s *SQLDirectoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateUser 实现 directory.Store。
func (s *SQLDirectoryStore) CreateUser(ctx context.Context, username, passwordHash string) (*directory.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户名不能为空")
	}
	user := directory.User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	const query = `INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, time.Now().Unix()); err != nil {
		if isDuplicateEntry(err) {
			return nil, xerrors.New(directory.CodeUserExists, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存用户失败")
	}
	return &user, nil
}

// UserByUsername 实现 directory.Store。
func (s *SQLDirectoryStore) UserByUsername(ctx context.Context, username string) (*directory.User, error) {
	const query = `SELECT id, username, password_hash FROM users WHERE username = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, strings.TrimSpace(username)))
}

// UserByID 实现 directory.Store。
func (s *SQLDirectoryStore) UserByID(ctx context.Context, id string) (*directory.User, error) {
	const query = `SELECT id, username, password_hash FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLDirectoryStore) scanUser(row *sql.Row) (*directory.User, error) {
	var user directory.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(directory.CodeUserNotFound, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户失败")
	}
	return &user, nil
}

// CreateWallet 实现 directory.Store。一人一钱包由唯一索引保证。
func (s *SQLDirectoryStore) CreateWallet(ctx context.Context, wallet directory.Wallet) (*directory.Wallet, error) {
	if wallet.UserID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "钱包缺少用户标识")
	}
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	const query = `INSERT INTO wallets (id, user_id, address, private_key, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, wallet.ID, wallet.UserID, wallet.Address, wallet.PrivateKey, time.Now().Unix()); err != nil {
		if isDuplicateEntry(err) {
			return nil, xerrors.New(directory.CodeWalletExists, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存钱包失败")
	}
	return &wallet, nil
}

// WalletByUserID 实现 directory.Store。
func (s *SQLDirectoryStore) WalletByUserID(ctx context.Context, userID string) (*directory.Wallet, error) {
	const query = `SELECT id, user_id, address, private_key FROM wallets WHERE user_id = ?`
	var wallet directory.Wallet
	row := s.db.QueryRowContext(ctx, query, userID)
	if err := row.Scan(&wallet.ID, &wallet.UserID, &wallet.Address, &wallet.PrivateKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(directory.CodeWalletNotFound, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包失败")
	}
	return &wallet, nil
}

// CreateToken 实现 directory.Store。
func (s *SQLDirectoryStore) CreateToken(ctx context.Context, token directory.Token) (*directory.Token, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	const query = `INSERT INTO tokens (id, name, symbol, description, explanation, source_link, contract_address, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		token.ID, token.Name, token.Symbol, token.Description,
		token.Explanation, token.SourceLink, token.ContractAddress, time.Now().Unix()); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存代币失败")
	}
	return &token, nil
}

// TokenByID 实现 directory.Store。
func (s *SQLDirectoryStore) TokenByID(ctx context.Context, id string) (*directory.Token, error) {
	const query = `SELECT id, name, symbol, description, explanation, source_link, contract_address
FROM tokens WHERE id = ?`
	return s.scanToken(s.db.QueryRowContext(ctx, query, id))
}

// SearchToken 实现 directory.Store。创建顺序下的第一条命中即返回。
func (s *SQLDirectoryStore) SearchToken(ctx context.Context, term string) (*directory.Token, error) {
	needle := strings.TrimSpace(term)
	if needle == "" {
		return nil, xerrors.New(directory.CodeTokenNotFound, "")
	}
	const query = `SELECT id, name, symbol, description, explanation, source_link, contract_address
FROM tokens
WHERE LOWER(name) = LOWER(?) OR LOWER(symbol) = LOWER(?) OR LOWER(contract_address) = LOWER(?)
ORDER BY created_at ASC
LIMIT 1`
	return s.scanToken(s.db.QueryRowContext(ctx, query, needle, needle, needle))
}

func (s *SQLDirectoryStore) scanToken(row *sql.Row) (*directory.Token, error) {
	var token directory.Token
	if err := row.Scan(&token.ID, &token.Name, &token.Symbol, &token.Description,
		&token.Explanation, &token.SourceLink, &token.ContractAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(directory.CodeTokenNotFound, "")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代币失败")
	}
	return &token, nil
}

// ListTokens 实现 directory.Store。
func (s *SQLDirectoryStore) ListTokens(ctx context.Context) ([]directory.Token, error) {
	const query = `SELECT id, name, symbol, description, explanation, source_link, contract_address
FROM tokens ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代币列表失败")
	}
	defer rows.Close()

	var tokens []directory.Token
	for rows.Next() {
		var token directory.Token
		if err := rows.Scan(&token.ID, &token.Name, &token.Symbol, &token.Description,
			&token.Explanation, &token.SourceLink, &token.ContractAddress); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析代币列表失败")
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历代币列表失败")
	}
	return tokens, nil
}

// AddSniper 实现 directory.Store。重复登记时只更新金额。
func (s *SQLDirectoryStore) AddSniper(ctx context.Context, sniper directory.Sniper) error {
	if sniper.UserID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "狙击登记缺少用户标识")
	}
	const query = `INSERT INTO snipers (user_id, eth_amount, created_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE eth_amount = VALUES(eth_amount)`
	if _, err := s.db.ExecContext(ctx, query, sniper.UserID, sniper.EthAmount, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存狙击登记失败")
	}
	return nil
}

// DeleteSniper 实现 directory.Store。
func (s *SQLDirectoryStore) DeleteSniper(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snipers WHERE user_id = ?`, userID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除狙击登记失败")
	}
	return nil
}

// ListSnipers 实现 directory.Store。
func (s *SQLDirectoryStore) ListSnipers(ctx context.Context) ([]directory.Sniper, error) {
	const query = `SELECT user_id, eth_amount FROM snipers ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询狙击名单失败")
	}
	defer rows.Close()

	var snipers []directory.Sniper
	for rows.Next() {
		var sniper directory.Sniper
		if err := rows.Scan(&sniper.UserID, &sniper.EthAmount); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析狙击名单失败")
		}
		snipers = append(snipers, sniper)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历狙击名单失败")
	}
	return snipers, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *sqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}

var _ directory.Store = (*SQLDirectoryStore)(nil)
