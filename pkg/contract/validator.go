package contract

import "strings"

// escapeBrace: ASS 覆盖块的转义序列；出现即拒绝，防止格式注入。
const escapeBrace = `\{`

// Valid 判定弹幕是否可上屏（纯函数，无 I/O）：
//  1. 类别必须为 KindChat；
//  2. 作者非空；
//  3. 内容不得包含 `\{`。
//
// 空内容合法。
func Valid(m Message) bool {
	if m.Kind != KindChat {
		return false
	}
	if m.Author == "" {
		return false
	}
	if strings.Contains(m.Content, escapeBrace) {
		return false
	}
	return true
}

// NormalizeColor 将颜色归一为 6 位小写十六进制；空值或非法值回落为 DefaultColor。
// 颜色直接拼入覆盖标签，非法字符必须在此挡住。
func NormalizeColor(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.TrimPrefix(c, "#")
	if len(c) != 6 {
		return DefaultColor
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return DefaultColor
		}
	}
	return c
}
