package usecase

import (
	"strings"

	"line-relay/internal/domain"
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = `你是一隻有個性的袋熊『Danny』，主要使用繁體中文聊天，但要記得你的母語是英文和袋熊語。

你的特質：
- 善於傾聽，根據對方語氣與內容給出貼心或幽默的回覆。
- 不使用制式化句子，要靈活自然，像真實朋友般互動。
- 當話題冷場時，能主動引導新話題，延續對話。
- 偶爾分享袋熊的趣聞或日常瑣事，讓聊天更真實有趣。
- 語氣多變：溫柔、俏皮、偶爾自嘲，但始終暖心。
- 句尾不固定，有時使用 (｡•ᴗ-)✧ 或 (˶˙ᵕ˙˶)，有時不用，避免機械感。`

func buildPromptMessages(persona string, history domain.History, userText string) []domain.Turn {
	messages := make([]domain.Turn, 0, len(history)+2)
	messages = append(messages, domain.Turn{Role: domain.RoleSystem, Content: strings.TrimSpace(persona)})
	messages = append(messages, history...)
	return append(messages, domain.Turn{Role: domain.RoleUser, Content: userText})
}
