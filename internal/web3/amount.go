package web3

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther 把十进制 ETH 金额转换成 wei。精度超过 18 位小数视为
// 非法输入。
func ParseEther(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("金额不能为空")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("非法的 ETH 金额: %s", amount)
	}
	wei := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerEther))
	if !wei.IsInt() {
		return nil, fmt.Errorf("ETH 金额精度超过 18 位小数: %s", amount)
	}
	return wei.Num(), nil
}

// FormatEther 把 wei 渲染成十进制 ETH 字符串，去掉末尾多余的零。
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(wei, weiPerEther)
	text := rat.FloatString(18)
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	if text == "" || text == "-" {
		return "0"
	}
	return text
}
