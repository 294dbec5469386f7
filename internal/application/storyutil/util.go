// Package storyutil 提供应用层内部共享的工具函数。
package storyutil

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExtractJSONObject 尝试从一段可能包含"前后缀噪音"的文本中提取顶层 JSON（对象或数组）。
// 约定：若无法确认 JSON 有效性，则回退为原始输入（trim 后）。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start := -1
	end := -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err == nil {
		if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
			return raw
		}
	}

	dec = json.NewDecoder(strings.NewReader(raw))
	for {
		_, e := dec.Token()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return strings.TrimSpace(s)
		}
	}
	return raw
}

// TruncateByRunes 按 rune 数量截断字符串。
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// ElideMiddle 超过 maxRunes 时保留首尾、省略中段（用于把长正文塞进审阅提示词）。
func ElideMiddle(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	half := maxRunes / 2
	return string(runes[:half]) + "\n\n[...中间省略...]\n\n" + string(runes[len(runes)-half:])
}

// CountWords 统计字数：CJK 字符逐字计数，拉丁字母按词计数。
func CountWords(s string) int {
	count := 0
	inLatinWord := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hangul, r) ||
			unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			count++
			inLatinWord = false
		case unicode.IsLetter(r):
			if !inLatinWord {
				count++
				inLatinWord = true
			}
		default:
			inLatinWord = false
		}
	}
	return count
}

// StripCodeFence 去掉包裹整段输出的 Markdown 代码围栏。
func StripCodeFence(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		return out
	}
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[1 : len(lines)-1]
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return out
}

// RemoveDuplicateLines 去掉连续重复的行（模型偶发的复读输出）。
// 相同内容连续出现两次以上时，只保留前两次。
func RemoveDuplicateLines(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prev := ""
	repeat := 0

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			cleaned = append(cleaned, line)
			prev = ""
			repeat = 0
			continue
		}
		if stripped == prev {
			repeat++
			if repeat >= 2 {
				continue
			}
		} else {
			repeat = 0
		}
		cleaned = append(cleaned, line)
		prev = stripped
	}
	return strings.Join(cleaned, "\n")
}

// CleanChapterOutput 章节正文的标准后处理：
// 去围栏、剥离误输出的 JSON 包装、去连续复读。
func CleanChapterOutput(s string) string {
	out := StripCodeFence(s)

	// 模型偶尔会把正文包进 {"content": "..."} 返回，尽量剥出来。
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		var wrapper struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(ExtractJSONObject(out)), &wrapper); err == nil && strings.TrimSpace(wrapper.Content) != "" {
			out = wrapper.Content
		}
	}

	return strings.TrimSpace(RemoveDuplicateLines(out))
}
