package summary

import "strings"

const minutesPrompt = `
# 命令書
あなたは優秀なビジネスアシスタントです。以下の制約条件と入力テキストをもとに、ビジネス用の議事録を作成してください。

# 制約条件
・決定事項、ToDo（担当者も含む）、要点を明確に分けて見出しを付けてください。
・箇条書きを効果的に使用し、簡潔で分かりやすい文章にしてください。
・発言者名は特定せず、内容を客観的にまとめてください。

# 入力テキスト
`

// BuildPrompt wraps a transcript in the minutes instructions.
func BuildPrompt(transcript string) string {
	var b strings.Builder
	b.Grow(len(minutesPrompt) + len(transcript) + 1)
	b.WriteString(strings.TrimPrefix(minutesPrompt, "\n"))
	b.WriteString(transcript)
	b.WriteByte('\n')
	return b.String()
}
