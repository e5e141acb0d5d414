package web3

import (
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.000000000000000001", "1"},
		{"0", "0"},
		{" 2.5 ", "2500000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseEther(tc.in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseEther(%q) = %s, 期望 %s", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		if _, err := ParseEther(bad); err == nil {
			t.Fatalf("ParseEther(%q) 应报错", bad)
		}
	}
}

func TestFormatEther(t *testing.T) {
	cases := []struct {
		in   *big.Int
		want string
	}{
		{big.NewInt(1_000_000_000_000_000_000), "1"},
		{big.NewInt(500_000_000_000_000_000), "0.5"},
		{big.NewInt(1), "0.000000000000000001"},
		{big.NewInt(0), "0"},
		{nil, "0"},
	}
	for _, tc := range cases {
		if got := FormatEther(tc.in); got != tc.want {
			t.Fatalf("FormatEther(%v) = %s, 期望 %s", tc.in, got, tc.want)
		}
	}
}

func TestKeypairRoundtrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	key, addr, err := ParsePrivateKey(keypair.PrivateKeyHex)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key == nil || addr != keypair.Address {
		t.Fatalf("地址不一致: %s != %s", addr, keypair.Address)
	}

	// 0x 前缀也应被接受。
	if _, addr2, err := ParsePrivateKey("0x" + keypair.PrivateKeyHex); err != nil || addr2 != addr {
		t.Fatalf("带前缀解析失败: %v", err)
	}

	if _, _, err := ParsePrivateKey("not-hex"); err == nil {
		t.Fatal("非法私钥应报错")
	}
}

func TestERC20ApproveCalldata(t *testing.T) {
	spender := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	data, err := ERC20ApproveCalldata(spender, big.NewInt(100))
	if err != nil {
		t.Fatalf("approve calldata: %v", err)
	}
	// 4 字节选择器 + 两个 32 字节参数。
	if len(data) != 4+32+32 {
		t.Fatalf("calldata 长度不符: %d", len(data))
	}
	if hex.EncodeToString(data[:4]) != "095ea7b3" {
		t.Fatalf("approve 选择器不符: %x", data[:4])
	}
}

func TestChainDefinitionsResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `chains:
  base-sepolia:
    chain_id: 84532
    rpc_url: https://sepolia.base.org
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写链配置失败: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	def, err := defs.Resolve("base-sepolia", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.ChainID != 84532 || def.RPCURL != "https://sepolia.base.org" {
		t.Fatalf("链定义不符: %+v", def)
	}

	// 显式 RPC 覆盖配置文件里的地址。
	def, err = defs.Resolve("base-sepolia", "http://127.0.0.1:8545")
	if err != nil {
		t.Fatalf("resolve override: %v", err)
	}
	if def.RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("覆盖未生效: %s", def.RPCURL)
	}

	// 未知网络配上显式 RPC 也能跑。
	def, err = defs.Resolve("some-devnet", "http://127.0.0.1:8545")
	if err != nil {
		t.Fatalf("resolve unknown with override: %v", err)
	}
	if def.ChainID != 0 {
		t.Fatalf("未知网络不应有链 ID: %+v", def)
	}

	if _, err := defs.Resolve("some-devnet", ""); err == nil {
		t.Fatal("未知网络且无 RPC 应报错")
	}

	// 空路径退化为空定义集。
	empty, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(empty.Chains) != 0 {
		t.Fatalf("空路径应是空集: %+v", empty.Chains)
	}
}
