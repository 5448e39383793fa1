package gpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_TypographicReplacements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"弯引号与省略号", "He said “hi”… see you→there", `He said "hi"... see you->there`},
		{"长横线", "a—b–c−d", "a-b-c-d"},
		{"单引号", "it’s ‘quoted’", "it's 'quoted'"},
		{"箭头", "a→b ⇒c ←d", "a->b =>c <-d"},
		{"品牌符号删除", "Acme© Corp® X™", "Acme Corp X"},
		{"分数线", "1⁄2", "1/2"},
		{"普通文本不变", "hello world", "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_Whitespace(t *testing.T) {
	// 特殊空格统一为普通空格后折叠，覆盖 U+2000-U+200D 整段
	assert.Equal(t, "a b", Normalize("a\u00A0\u2002b"))
	assert.Equal(t, "a b", Normalize("a\u2000b"))
	assert.Equal(t, "a b", Normalize("a\u2007\u2009\u200Ab"))
	// 零宽字符与 BOM 同样替换后折叠
	assert.Equal(t, "a b", Normalize("a\u200B \uFEFFb"))
	assert.Equal(t, "a b", Normalize("a\u200C\u200D\u2060 b"))
	// \r 和 \t 变空格
	assert.Equal(t, "a b c", Normalize("a\rb\tc"))
	// 换行保留
	assert.Equal(t, "a\nb", Normalize("a\nb"))
	// 控制字符删除
	assert.Equal(t, "ab", Normalize("a\x00\x01b"))
	// 多空格折叠为一个
	assert.Equal(t, "a b", Normalize("a     b"))
}

func TestNormalize_DotRuns(t *testing.T) {
	// 恰好三个点保留（省略号），其它长度折叠为一个
	assert.Equal(t, "wait...", Normalize("wait..."))
	assert.Equal(t, "wait.", Normalize("wait.."))
	assert.Equal(t, "wait.", Normalize("wait...."))
	assert.Equal(t, "wait.", Normalize("wait........"))
	assert.Equal(t, "end.", Normalize("end."))
	// 单字符省略号先展开成三个点，再按恰好三个保留
	assert.Equal(t, "wait...", Normalize("wait…"))
}

func TestNormalize_BlackishColors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"十六进制近黑删除", `<span style="color: #1a1a1a">x</span>`, `<span >x</span>`},
		{"三位十六进制展开", `<span style="color: #000">x</span>`, `<span >x</span>`},
		{"rgb近黑删除", `<span style="color: rgb(10, 20, 30)">x</span>`, `<span >x</span>`},
		{"black关键字删除", `<span style="color: black">x</span>`, `<span >x</span>`},
		{"亮色保留", `<span style="color: #ff0000">x</span>`, `<span style="color: #ff0000">x</span>`},
		{"命名亮色保留", `<span style="color: white">x</span>`, `<span style="color: white">x</span>`},
		{"其它声明保留", `<i style="color:#000; font-weight:bold">x</i>`, `<i style="font-weight:bold">x</i>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"He said “hi”… see you→there",
		"wait.... done..",
		`<span style="color:#111">dark</span> text`,
		"a\r\tb    c\x01",
		"平凡的中文文本，不应被改动",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize 应当幂等: %q", in)
	}
}
