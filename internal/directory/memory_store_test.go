package directory

import (
	"context"
	"testing"

	xerrors "pochipo/internal/errors"
)

func TestCreateUserRejectsDuplicateName(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "momo", "hash1")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.ID == "" {
		t.Fatal("缺少用户 ID")
	}

	if _, err := store.CreateUser(ctx, "momo", "hash2"); xerrors.CodeOf(err) != CodeUserExists {
		t.Fatalf("重复用户名应返回 USER_EXISTS，实际 %v", err)
	}
}

func TestWalletUniquePerUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.CreateWallet(ctx, Wallet{UserID: "u1", Address: "0xaa", PrivateKey: "k1"}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := store.CreateWallet(ctx, Wallet{UserID: "u1", Address: "0xbb", PrivateKey: "k2"}); xerrors.CodeOf(err) != CodeWalletExists {
		t.Fatalf("一人第二个钱包应返回 WALLET_EXISTS，实际 %v", err)
	}

	wallet, err := store.WalletByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("wallet by user: %v", err)
	}
	if wallet.Address != "0xaa" {
		t.Fatalf("应保留第一个钱包，实际 %s", wallet.Address)
	}

	if _, err := store.WalletByUserID(ctx, "nobody"); xerrors.CodeOf(err) != CodeWalletNotFound {
		t.Fatalf("未建钱包应返回 WALLET_NOT_FOUND，实际 %v", err)
	}
}

func TestSearchTokenFirstMatchWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateToken(ctx, Token{Name: "DogeBark", Symbol: "BARK", ContractAddress: "0xaaa"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := store.CreateToken(ctx, Token{Name: "BarkTwo", Symbol: "BARK", ContractAddress: "0xbbb"}); err != nil {
		t.Fatalf("create token: %v", err)
	}

	// 符号撞车时返回先创建的那条，歧义不是错误。
	token, err := store.SearchToken(ctx, "bark")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if token.ID != first.ID {
		t.Fatalf("应命中第一条，实际 %s", token.Name)
	}

	for _, term := range []string{"DOGEBARK", "0xAAA"} {
		if _, err := store.SearchToken(ctx, term); err != nil {
			t.Fatalf("大小写不敏感检索失败 %q: %v", term, err)
		}
	}

	if _, err := store.SearchToken(ctx, "missing"); xerrors.CodeOf(err) != CodeTokenNotFound {
		t.Fatalf("未命中应返回 TOKEN_NOT_FOUND，实际 %v", err)
	}
	if _, err := store.SearchToken(ctx, "  "); xerrors.CodeOf(err) != CodeTokenNotFound {
		t.Fatalf("空检索词应返回 TOKEN_NOT_FOUND，实际 %v", err)
	}
}

func TestSniperUpsertAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AddSniper(ctx, Sniper{UserID: "u1", EthAmount: "0.1"}); err != nil {
		t.Fatalf("add sniper: %v", err)
	}
	// 重复登记覆盖金额，不产生第二条。
	if err := store.AddSniper(ctx, Sniper{UserID: "u1", EthAmount: "0.5"}); err != nil {
		t.Fatalf("re-add sniper: %v", err)
	}

	snipers, err := store.ListSnipers(ctx)
	if err != nil {
		t.Fatalf("list snipers: %v", err)
	}
	if len(snipers) != 1 || snipers[0].EthAmount != "0.5" {
		t.Fatalf("登记应被覆盖: %+v", snipers)
	}

	if err := store.DeleteSniper(ctx, "u1"); err != nil {
		t.Fatalf("delete sniper: %v", err)
	}
	if err := store.DeleteSniper(ctx, "u1"); err != nil {
		t.Fatalf("重复撤销不应报错: %v", err)
	}
	snipers, _ = store.ListSnipers(ctx)
	if len(snipers) != 0 {
		t.Fatalf("名单应为空: %+v", snipers)
	}
}

func TestListTokensPreservesOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		if _, err := store.CreateToken(ctx, Token{Name: symbol, Symbol: symbol}); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}
	tokens, err := store.ListTokens(ctx)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("期望 3 条，实际 %d 条", len(tokens))
	}
	for i, symbol := range []string{"AAA", "BBB", "CCC"} {
		if tokens[i].Symbol != symbol {
			t.Fatalf("顺序不符: %+v", tokens)
		}
	}
}
