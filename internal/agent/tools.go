package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pochipo/internal/directory"
	xerrors "pochipo/internal/errors"
	"pochipo/internal/moonshot"
	"pochipo/internal/sniper"
	"pochipo/internal/social"
	"pochipo/internal/tool"
	"pochipo/internal/web3"
	"pochipo/pkg/logger"
)

// 工具名称。评估和铸币两个名字被对话循环用于接力判定。
const (
	ToolTweetEvaluator = "tweet_evaluator"
	ToolCreateToken    = "create_moonshot_token"
)

// Toolbox 持有全部工具的依赖，并把它们登记到注册表。
type Toolbox struct {
	store  directory.Store
	chain  web3.Client
	trader *moonshot.Trader
	snipes *sniper.Service
	poster social.Poster
}

// NewToolbox 构造工具集。poster 为 nil 时不发社交帖。
func NewToolbox(store directory.Store, chain web3.Client, trader *moonshot.Trader, snipes *sniper.Service, poster social.Poster) (*Toolbox, error) {
	if store == nil || chain == nil || trader == nil || snipes == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "工具集缺少依赖")
	}
	if poster == nil {
		poster = social.NoopPoster{}
	}
	return &Toolbox{store: store, chain: chain, trader: trader, snipes: snipes, poster: poster}, nil
}

// Register 把全部工具登记到注册表。
func (tb *Toolbox) Register(registry *tool.Registry) error {
	declarations := []tool.Declaration{
		{
			Name: ToolTweetEvaluator,
			Description: "Build the instruction for evaluating whether a social media post is likely to become " +
				"a viral meme worth minting a token for. Pure, no side effects.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"tweet":    tool.String("the text of the post"),
				"retweets": tool.Number("retweet count"),
				"likes":    tool.Number("like count"),
				"link":     tool.String("link to the post"),
			}, "tweet", "retweets", "likes", "link"),
			Invoke: tb.tweetEvaluator,
		},
		{
			Name: ToolCreateToken,
			Description: "Mint a new meme token on Moonshot with the operator wallet, record it in the directory, " +
				"announce it and trigger sniper auto-buys.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"name":                  tool.String("token name"),
				"symbol":                tool.String("token symbol"),
				"description":           tool.String("token description"),
				"tweet":                 tool.String("the post the token is based on"),
				"retweets":              tool.Number("retweet count"),
				"likes":                 tool.Number("like count"),
				"link":                  tool.String("link to the post"),
				"likelyMeme":            tool.Boolean("whether the post was judged meme-worthy"),
				"likelyMemeExplanation": tool.String("why the post was judged that way"),
				"tokenPost":             tool.String("announcement text to publish"),
			}, "name", "symbol", "description"),
			Invoke: tb.createMoonshotToken,
		},
		{
			Name:        "create_user_wallet",
			Description: "Create a custodial wallet for a user. Fails softly when the user already has one.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId": tool.String("the acting user's id"),
			}, "userId"),
			Invoke: tb.createUserWallet,
		},
		{
			Name:        "get_balance",
			Description: "Get the ETH balance of a user's custodial wallet.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId": tool.String("the acting user's id"),
			}, "userId"),
			Invoke: tb.getBalance,
		},
		{
			Name:        "send_eth",
			Description: "Send ETH from a user's custodial wallet to any address.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId":    tool.String("the acting user's id"),
				"toAddress": tool.String("recipient address"),
				"amountEth": tool.String("amount of ETH to send, decimal string"),
			}, "userId", "toAddress", "amountEth"),
			Invoke: tb.sendETH,
		},
		{
			Name:        "buy_token",
			Description: "Buy a registered token with ETH from a user's custodial wallet.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId":    tool.String("the acting user's id"),
				"token":     tool.String("token name, symbol or contract address"),
				"amountEth": tool.String("amount of ETH to spend, decimal string"),
			}, "userId", "token", "amountEth"),
			Invoke: tb.buyToken,
		},
		{
			Name:        "sell_token",
			Description: "Sell the user's entire balance of a registered token.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId": tool.String("the acting user's id"),
				"token":  tool.String("token name, symbol or contract address"),
			}, "userId", "token"),
			Invoke: tb.sellToken,
		},
		{
			Name:        "search_token",
			Description: "Look up a token the agent has minted by name, symbol or contract address.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"term": tool.String("search term"),
			}, "term"),
			Invoke: tb.searchToken,
		},
		{
			Name:        "snipe_tokens",
			Description: "Register the user to automatically buy a fixed ETH amount of every token the agent mints.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId":    tool.String("the acting user's id"),
				"amountEth": tool.String("ETH amount per auto-buy, decimal string"),
			}, "userId", "amountEth"),
			Invoke: tb.snipeTokens,
		},
		{
			Name:        "stop_sniping",
			Description: "Remove the user from the sniper list.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId": tool.String("the acting user's id"),
			}, "userId"),
			Invoke: tb.stopSniping,
		},
		{
			Name:        "get_private_key",
			Description: "Reveal the private key of the user's own custodial wallet.",
			InputSchema: tool.ObjectSchema(map[string]tool.Property{
				"userId": tool.String("the acting user's id"),
			}, "userId"),
			Invoke: tb.getPrivateKey,
		},
	}
	for _, decl := range declarations {
		if err := registry.Register(decl); err != nil {
			return err
		}
	}
	return nil
}

// tweetEvaluator 只负责构造分类指令，真正的判断由推理能力完成。
func (tb *Toolbox) tweetEvaluator(_ context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Tweet    string `json:"tweet"`
		Retweets int    `json:"retweets"`
		Likes    int    `json:"likes"`
		Link     string `json:"link"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析评估参数失败: %w", err)
	}

	return fmt.Sprintf(`Evaluate whether the following post is likely to become a viral meme worth minting a token for.
Post: %s
Retweets: %d
Likes: %d
Link: %s

Answer with a single JSON object with exactly these fields:
{"tweet": string, "retweets": number, "likes": number, "link": string, "likelyMeme": boolean, "likelyMemeExplanation": string, "name": string, "symbol": string, "description": string, "tokenPost": string}
Copy tweet, retweets, likes and link from above.
If likelyMeme is false, set name, symbol, description and tokenPost to "NOTAPPLY".
If likelyMeme is true, propose a catchy token name, a short uppercase symbol, a one-sentence description and a playful announcement post for tokenPost.
Answer with the JSON object only, no other text.`,
		input.Tweet, input.Retweets, input.Likes, input.Link), nil
}

// createMoonshotToken 铸币、落库、发帖、触发跟买。任何失败都转成
// 描述性文本返回，绝不向对话循环抛错。
func (tb *Toolbox) createMoonshotToken(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Name                  string `json:"name"`
		Symbol                string `json:"symbol"`
		Description           string `json:"description"`
		Tweet                 string `json:"tweet"`
		Link                  string `json:"link"`
		LikelyMemeExplanation string `json:"likelyMemeExplanation"`
		TokenPost             string `json:"tokenPost"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析铸币参数失败: %w", err)
	}
	log := logger.Named("agent.tools")

	if input.Name == "" || input.Symbol == "" {
		return "Token creation failed: name and symbol are required.", nil
	}

	result, err := tb.trader.Mint(ctx, moonshot.MintRequest{
		Name:        input.Name,
		Symbol:      input.Symbol,
		Description: input.Description,
	})
	if err != nil {
		log.Error("铸币失败", "symbol", input.Symbol, "error", err)
		return fmt.Sprintf("Token creation failed: %v", err), nil
	}

	if result.TxHash != "" {
		receipt, err := tb.chain.WaitMined(ctx, common.HexToHash(result.TxHash))
		if err != nil {
			log.Error("等待铸币上链失败", "tx", result.TxHash, "error", err)
			return fmt.Sprintf("Token creation failed while waiting for confirmation: %v", err), nil
		}
		if receipt.Status != 1 {
			log.Error("铸币交易回滚", "tx", result.TxHash)
			return fmt.Sprintf("Token creation failed: transaction %s reverted on chain.", result.TxHash), nil
		}
	}

	// 落库失败只记录，不阻断后续动作。
	if _, err := tb.store.CreateToken(ctx, directory.Token{
		Name:            input.Name,
		Symbol:          input.Symbol,
		Description:     input.Description,
		Explanation:     input.LikelyMemeExplanation,
		SourceLink:      input.Link,
		ContractAddress: result.ContractAddress,
	}); err != nil {
		log.Error("记录新代币失败", "symbol", input.Symbol, "error", err)
	}

	if input.TokenPost != "" {
		if err := tb.poster.Post(ctx, input.TokenPost); err != nil {
			log.Warn("发布社交帖失败", "symbol", input.Symbol, "error", err)
		}
	}

	if err := tb.snipes.Dispatch(ctx, sniper.Order{
		ContractAddress: result.ContractAddress,
		Symbol:          input.Symbol,
	}); err != nil {
		log.Error("投递跟买指令失败", "symbol", input.Symbol, "error", err)
	}

	success, err := json.Marshal(map[string]string{
		"status":          "success",
		"name":            input.Name,
		"symbol":          input.Symbol,
		"contractAddress": result.ContractAddress,
		"txHash":          result.TxHash,
	})
	if err != nil {
		return fmt.Sprintf("Token %s (%s) created at %s.", input.Name, input.Symbol, result.ContractAddress), nil
	}
	return string(success), nil
}

func (tb *Toolbox) createUserWallet(ctx context.Context, args json.RawMessage) (string, error) {
	userID, err := decodeUserID(args)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "I need a userId to create a wallet.", nil
	}

	keypair, err := web3.GenerateKeypair()
	if err != nil {
		return "", err
	}
	wallet, err := tb.store.CreateWallet(ctx, directory.Wallet{
		UserID:     userID,
		Address:    keypair.Address.Hex(),
		PrivateKey: keypair.PrivateKeyHex,
	})
	if err != nil {
		if xerrors.CodeOf(err) == directory.CodeWalletExists {
			return "You already have a wallet. Each user can hold exactly one custodial wallet.", nil
		}
		return "", err
	}
	return fmt.Sprintf("Wallet created! Your address is %s. Fund it with test ETH to start trading.", wallet.Address), nil
}

func (tb *Toolbox) getBalance(ctx context.Context, args json.RawMessage) (string, error) {
	userID, err := decodeUserID(args)
	if err != nil {
		return "", err
	}
	wallet, msg, err := tb.lookupWallet(ctx, userID)
	if err != nil || msg != "" {
		return msg, err
	}

	balance, err := tb.chain.BalanceAt(ctx, common.HexToAddress(wallet.Address))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	return fmt.Sprintf("Your wallet %s holds %s ETH.", wallet.Address, web3.FormatEther(balance)), nil
}

func (tb *Toolbox) sendETH(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		UserID    string `json:"userId"`
		ToAddress string `json:"toAddress"`
		AmountEth string `json:"amountEth"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析转账参数失败: %w", err)
	}
	wallet, msg, err := tb.lookupWallet(ctx, input.UserID)
	if err != nil || msg != "" {
		return msg, err
	}
	if !common.IsHexAddress(input.ToAddress) {
		return fmt.Sprintf("%q does not look like a valid address.", input.ToAddress), nil
	}
	amount, err := web3.ParseEther(input.AmountEth)
	if err != nil {
		return fmt.Sprintf("%q is not a valid ETH amount.", input.AmountEth), nil
	}

	hash, err := tb.trader.SendETH(ctx, wallet.PrivateKey, input.ToAddress, amount)
	if err != nil {
		return fmt.Sprintf("Sending ETH failed: %v", err), nil
	}
	return fmt.Sprintf("Sent %s ETH to %s. Transaction: %s", input.AmountEth, input.ToAddress, hash.Hex()), nil
}

func (tb *Toolbox) buyToken(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		UserID    string `json:"userId"`
		Token     string `json:"token"`
		AmountEth string `json:"amountEth"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析买入参数失败: %w", err)
	}
	wallet, msg, err := tb.lookupWallet(ctx, input.UserID)
	if err != nil || msg != "" {
		return msg, err
	}
	token, msg, err := tb.lookupToken(ctx, input.Token)
	if err != nil || msg != "" {
		return msg, err
	}
	amount, err := web3.ParseEther(input.AmountEth)
	if err != nil {
		return fmt.Sprintf("%q is not a valid ETH amount.", input.AmountEth), nil
	}

	balance, err := tb.chain.BalanceAt(ctx, common.HexToAddress(wallet.Address))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Sprintf("Not enough ETH: you want to spend %s ETH but your wallet only holds %s ETH.",
			input.AmountEth, web3.FormatEther(balance)), nil
	}

	// 报价只用于话术，拿不到也不拦交易。
	expected, quoteErr := tb.trader.QuoteBuy(ctx, token.ContractAddress, amount)

	hash, err := tb.trader.Buy(ctx, wallet.PrivateKey, token.ContractAddress, amount)
	if err != nil {
		return fmt.Sprintf("Buying %s failed: %v", token.Symbol, err), nil
	}

	if _, err := tb.chain.WaitMined(ctx, hash); err != nil {
		return fmt.Sprintf("Bought %s for %s ETH, transaction %s is still waiting for confirmation.",
			token.Symbol, input.AmountEth, hash.Hex()), nil
	}
	holding, err := web3.ERC20BalanceOf(ctx, tb.chain,
		common.HexToAddress(token.ContractAddress), common.HexToAddress(wallet.Address))
	if err != nil {
		if quoteErr == nil {
			return fmt.Sprintf("Bought about %s %s (raw units) for %s ETH. Transaction: %s",
				expected.String(), token.Symbol, input.AmountEth, hash.Hex()), nil
		}
		return fmt.Sprintf("Bought %s for %s ETH. Transaction: %s", token.Symbol, input.AmountEth, hash.Hex()), nil
	}
	return fmt.Sprintf("Bought %s for %s ETH. You now hold %s %s (raw units). Transaction: %s",
		token.Symbol, input.AmountEth, holding.String(), token.Symbol, hash.Hex()), nil
}

func (tb *Toolbox) sellToken(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析卖出参数失败: %w", err)
	}
	wallet, msg, err := tb.lookupWallet(ctx, input.UserID)
	if err != nil || msg != "" {
		return msg, err
	}
	token, msg, err := tb.lookupToken(ctx, input.Token)
	if err != nil || msg != "" {
		return msg, err
	}

	hash, sold, err := tb.trader.Sell(ctx, wallet.PrivateKey, token.ContractAddress)
	if err != nil {
		if xerrors.CodeOf(err) == moonshot.CodeZeroTokenBalance {
			return fmt.Sprintf("You do not hold any %s, nothing to sell.", token.Symbol), nil
		}
		return fmt.Sprintf("Selling %s failed: %v", token.Symbol, err), nil
	}

	if proceeds, err := tb.trader.QuoteSell(ctx, token.ContractAddress, sold); err == nil {
		return fmt.Sprintf("Sold %s %s (raw units) for about %s ETH. Transaction: %s",
			sold.String(), token.Symbol, web3.FormatEther(proceeds), hash.Hex()), nil
	}
	return fmt.Sprintf("Sold %s %s (raw units). Transaction: %s", sold.String(), token.Symbol, hash.Hex()), nil
}

func (tb *Toolbox) searchToken(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		Term string `json:"term"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析查询参数失败: %w", err)
	}
	token, msg, err := tb.lookupToken(ctx, input.Term)
	if err != nil || msg != "" {
		return msg, err
	}
	return fmt.Sprintf("Found %s (%s) at %s. %s", token.Name, token.Symbol, token.ContractAddress, token.Description), nil
}

func (tb *Toolbox) snipeTokens(ctx context.Context, args json.RawMessage) (string, error) {
	var input struct {
		UserID    string `json:"userId"`
		AmountEth string `json:"amountEth"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析跟买参数失败: %w", err)
	}
	_, msg, err := tb.lookupWallet(ctx, input.UserID)
	if err != nil || msg != "" {
		return msg, err
	}
	if _, err := web3.ParseEther(input.AmountEth); err != nil {
		return fmt.Sprintf("%q is not a valid ETH amount.", input.AmountEth), nil
	}

	if err := tb.store.AddSniper(ctx, directory.Sniper{UserID: input.UserID, EthAmount: input.AmountEth}); err != nil {
		return "", err
	}
	return fmt.Sprintf("You are now sniping: every token I mint will be auto-bought with %s ETH.", input.AmountEth), nil
}

func (tb *Toolbox) stopSniping(ctx context.Context, args json.RawMessage) (string, error) {
	userID, err := decodeUserID(args)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "I need a userId to stop sniping.", nil
	}
	if err := tb.store.DeleteSniper(ctx, userID); err != nil {
		return "", err
	}
	return "Done, you are off the sniper list.", nil
}

func (tb *Toolbox) getPrivateKey(ctx context.Context, args json.RawMessage) (string, error) {
	userID, err := decodeUserID(args)
	if err != nil {
		return "", err
	}
	wallet, msg, err := tb.lookupWallet(ctx, userID)
	if err != nil || msg != "" {
		return msg, err
	}
	return fmt.Sprintf("Your private key is %s. Keep it secret, keep it safe.", wallet.PrivateKey), nil
}

// lookupWallet 解析用户钱包。缺钱包是可恢复状态，返回提示文本且
// 不发起任何链上调用。
func (tb *Toolbox) lookupWallet(ctx context.Context, userID string) (*directory.Wallet, string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, "I need a userId for that.", nil
	}
	wallet, err := tb.store.WalletByUserID(ctx, userID)
	if err != nil {
		if xerrors.CodeOf(err) == directory.CodeWalletNotFound {
			return nil, "You do not have a wallet yet. Ask me to create one first.", nil
		}
		return nil, "", err
	}
	return wallet, "", nil
}

// lookupToken 解析代币。命中多条时目录层返回第一条。
func (tb *Toolbox) lookupToken(ctx context.Context, term string) (*directory.Token, string, error) {
	token, err := tb.store.SearchToken(ctx, term)
	if err != nil {
		if xerrors.CodeOf(err) == directory.CodeTokenNotFound {
			return nil, fmt.Sprintf("I could not find any token matching %q.", term), nil
		}
		return nil, "", err
	}
	return token, "", nil
}

func decodeUserID(args json.RawMessage) (string, error) {
	var input struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return "", fmt.Errorf("解析参数失败: %w", err)
	}
	return strings.TrimSpace(input.UserID), nil
}
