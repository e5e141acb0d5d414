package web3

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keypair 承载一把托管私钥及其地址。私钥十六进制编码，不带 0x 前缀。
type Keypair struct {
	PrivateKeyHex string
	Address       common.Address
}

// GenerateKeypair 生成一把新的 secp256k1 私钥。
func GenerateKeypair() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("生成私钥失败: %w", err)
	}
	return Keypair{
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
		Address:       crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// ParsePrivateKey 解析十六进制私钥并返回对应地址。
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}
