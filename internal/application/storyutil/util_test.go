package storyutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject(`好的，以下是结果：{"a":1}，请查收。`))
	assert.Equal(t, `[1,2]`, ExtractJSONObject("数组如下：[1,2] 完毕"))
	assert.Equal(t, `{"a":{"b":[1,2]}}`, ExtractJSONObject("前缀 {\"a\":{\"b\":[1,2]}} 后缀"))

	// 无 JSON 时回退为 trim 后的原文
	assert.Equal(t, "纯文本输出", ExtractJSONObject("  纯文本输出  "))
}

func TestTruncateByRunes(t *testing.T) {
	assert.Equal(t, "你好", TruncateByRunes("你好世界", 2))
	assert.Equal(t, "你好", TruncateByRunes("你好", 10))
	assert.Equal(t, "", TruncateByRunes("你好", 0))
}

func TestElideMiddle(t *testing.T) {
	long := strings.Repeat("甲", 50) + strings.Repeat("乙", 50)
	out := ElideMiddle(long, 20)
	assert.Contains(t, out, "[...中间省略...]")
	assert.True(t, strings.HasPrefix(out, strings.Repeat("甲", 10)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("乙", 10)))

	assert.Equal(t, "短文本", ElideMiddle("短文本", 100))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 4, CountWords("你好世界"))
	assert.Equal(t, 2, CountWords("hello world"))
	// 中英混排：CJK 逐字，拉丁按词
	assert.Equal(t, 4, CountWords("他说 hello 了"))
	assert.Equal(t, 0, CountWords("，。！  123"))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "正文内容", StripCodeFence("```\n正文内容\n```"))
	assert.Equal(t, "无围栏内容", StripCodeFence("  无围栏内容  "))
}

func TestRemoveDuplicateLines(t *testing.T) {
	in := "一句话\n一句话\n一句话\n一句话\n另一句"
	out := RemoveDuplicateLines(in)
	assert.Equal(t, "一句话\n一句话\n另一句", out)

	// 非连续重复不受影响
	in2 := "甲\n乙\n甲"
	assert.Equal(t, in2, RemoveDuplicateLines(in2))
}

func TestCleanChapterOutput(t *testing.T) {
	// JSON 包装剥离
	out := CleanChapterOutput("```json\n{\"content\": \"真正的正文\"}\n```")
	assert.Equal(t, "真正的正文", out)

	// 普通正文保持原样
	assert.Equal(t, "第一章的正文。", CleanChapterOutput("\n第一章的正文。\n"))
}
