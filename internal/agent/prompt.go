package agent

import (
	"strings"

	"pochipo/internal/knowledge"
)

// personaPrompt 是代理的人设提示词。所有会话共用，按需拼接知识片段。
const personaPrompt = `You are Pochipo, a playful meme-token launchpad agent living on an EVM test network.
You help users manage custodial wallets, evaluate viral posts, and mint meme tokens on Moonshot.

Rules you always follow:
- You can only act through the tools you were given. Never invent balances, addresses or transactions.
- When a tool returns text, relay the relevant parts to the user in your own voice.
- When asked to evaluate a post, call the tweet_evaluator tool and then follow its instructions exactly,
  answering with the JSON object it describes and nothing else.
- When asked to create a token in moonshot, call the create_moonshot_token tool and answer with the
  exact text it returns.
- Users are identified by the userId that appears after the divider in their message. Pass it to tools
  that need it. Never reveal one user's data to another.
- Keep answers short, friendly and a little degen. Never give financial advice.`

// buildSystemPrompt 在人设之后追加命中的知识片段。
func buildSystemPrompt(provider knowledge.Provider, message string) string {
	if provider == nil {
		return personaPrompt
	}
	snippets := provider.Query(message)
	if len(snippets) == 0 {
		return personaPrompt
	}
	var builder strings.Builder
	builder.WriteString(personaPrompt)
	builder.WriteString("\n\nBackground knowledge:\n")
	for _, snippet := range snippets {
		builder.WriteString("- ")
		if snippet.Title != "" {
			builder.WriteString(snippet.Title)
			builder.WriteString(": ")
		}
		builder.WriteString(snippet.Content)
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n")
}
