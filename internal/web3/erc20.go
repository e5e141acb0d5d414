package web3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON covers the subset of the ERC-20 interface the agent needs.
const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var (
	erc20Once sync.Once
	erc20ABI  abi.ABI
	erc20Err  error
)

func loadERC20ABI() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20ABI, erc20Err = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20Err
}

// ERC20BalanceOf reads the token balance of owner via eth_call.
func ERC20BalanceOf(ctx context.Context, client Client, token, owner common.Address) (*big.Int, error) {
	parsed, err := loadERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	input, err := parsed.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	output, err := client.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input})
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	results, err := parsed.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("解码 balanceOf 返回值失败: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf 返回值类型异常")
	}
	return balance, nil
}

// ERC20ApproveCalldata builds the calldata for approve(spender, amount).
func ERC20ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := loadERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	input, err := parsed.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 approve 调用失败: %w", err)
	}
	return input, nil
}
