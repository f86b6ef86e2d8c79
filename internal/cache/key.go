package cache

import "strings"

// DeriveKey 将任意标识（通常是图片 URL）转换为可直接作为文件名的缓存键：
// 先截掉第一个 `?` 与 `#` 之后的内容，再把每一段连续的非法字符替换为单个 `-`。
// 合法字符仅限 ASCII 字母、数字以及 `-`、`_`、`.`。
func DeriveKey(input string) string {
	if idx := strings.IndexByte(input, '?'); idx >= 0 {
		input = input[:idx]
	}
	if idx := strings.IndexByte(input, '#'); idx >= 0 {
		input = input[:idx]
	}
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	inRun := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if isKeyChar(ch) {
			b.WriteByte(ch)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('-')
			inRun = true
		}
	}
	return b.String()
}

// isKeyChar 按字节判断，多字节 UTF-8 字符的每个字节都会落入非法区间。
func isKeyChar(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	case ch == '-', ch == '_', ch == '.':
		return true
	}
	return false
}
