package expect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferPrompt(t *testing.T) {
	cases := []struct {
		name       string
		line       string
		terminator string
		prompt     string
		term       string
	}{
		{"default terminator", "router#", "#", "router", "#"},
		{"trailing space", "router# ", "#", "router", "#"},
		{"fallback to last char", "router>", "#", "router", ">"},
		{"huawei brackets", "<HUAWEI>", "#", "<HUAWEI", ">"},
		{"linux shell", "user@host:~$", "#", "user@host:~", "$"},
		{"repeated terminator", "router##", "#", "router", "#"},
		{"terminator set", "router>", "#>", "router", "#>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prompt, term, err := InferPrompt(tc.line, tc.terminator)
			require.NoError(t, err)
			assert.Equal(t, tc.prompt, prompt)
			assert.Equal(t, tc.term, term)
		})
	}
}

func TestInferPromptFallbackScenario(t *testing.T) {
	prompt, term, err := InferPrompt("router>", "#")
	require.NoError(t, err)
	assert.Equal(t, "router", prompt)
	assert.Equal(t, ">", term)
}

func TestInferPromptIdempotent(t *testing.T) {
	for _, line := range []string{"router#", "router>", "[~HUAWEI]", "sw1(config)#"} {
		p1, t1, err1 := InferPrompt(line, "#")
		p2, t2, err2 := InferPrompt(line, "#")
		assert.Equal(t, p1, p2)
		assert.Equal(t, t1, t2)
		assert.Equal(t, err1, err2)
	}
}

// 结束符出现在中间而非末尾时不会触发回退：只比较剥离前后是否相同
func TestInferPromptTerminatorMidString(t *testing.T) {
	prompt, term, err := InferPrompt("sw#1>", "#")
	require.NoError(t, err)
	assert.Equal(t, "sw#1", prompt)
	assert.Equal(t, ">", term)

	// 剥离后仅剩空白差异同样视为“无变化”
	prompt, term, err = InferPrompt("  edge#  ", "#")
	require.NoError(t, err)
	assert.Equal(t, "edge", prompt)
	assert.Equal(t, "#", term)
}

func TestInferPromptErrors(t *testing.T) {
	_, _, err := InferPrompt("   ", "#")
	assert.ErrorIs(t, err, ErrPromptNotFound)

	_, _, err = InferPrompt("#", "#")
	assert.ErrorIs(t, err, ErrPromptNotFound)

	_, _, err = InferPrompt(">>", "#")
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "router#", LastLine("\r\nWelcome\r\n\r\nrouter#\r\n"))
	assert.Equal(t, "router#", LastLine("Welcome\nrouter#"))
	assert.Equal(t, "", LastLine(""))
}

func TestPromptPattern(t *testing.T) {
	re := PromptPattern("router", "#")
	assert.True(t, re.MatchString("show clock\r\nrouter#"))
	assert.True(t, re.MatchString("router(config)#"))
	assert.False(t, re.MatchString("show clock\r\nrouter"))

	// 提示符按字面量匹配
	re = PromptPattern("sw1(config)", "#")
	assert.True(t, re.MatchString("sw1(config)#"))
	assert.False(t, re.MatchString("sw1config#"))

	// 最短跨度：只覆盖第一个提示符
	loc := PromptPattern("router", "#").FindStringIndex("router# one\r\nrouter# two")
	require.NotNil(t, loc)
	assert.Equal(t, []int{0, 7}, loc)
}

func TestSplitOutput(t *testing.T) {
	// 不超过两行时原样返回
	assert.Equal(t, []string{"router#"}, SplitOutput("router#"))
	assert.Equal(t, []string{"show clock", "router#"}, SplitOutput("show clock\r\nrouter#\r\n"))
	assert.Equal(t, []string{""}, SplitOutput(""))

	// 去掉首尾帧行
	assert.Equal(t, []string{"Cisco IOS..."}, SplitOutput("show version\r\nCisco IOS...\r\nrouter#"))

	// 新末行为空白时一并去掉，且只去一次
	assert.Equal(t, []string{"a", " "}, SplitOutput("cmd\r\na\r\n \r\n  \r\nrouter#"))
	assert.Equal(t, []string{"a"}, SplitOutput("cmd\r\na\r\n\t\r\nrouter#"))

	// 三行且中间为空：结果为空切片
	assert.Empty(t, SplitOutput("cmd\r\n \r\nrouter#"))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, 0, ParseStatus("echo $?\r\n0\r\nrouter#"))
	assert.Equal(t, 127, ParseStatus("echo $?\n127\n"))
	assert.Equal(t, StatusUnknown, ParseStatus("echo $?\r\n% Invalid input\r\n"))
	assert.Equal(t, StatusUnknown, ParseStatus("0"))
	assert.Equal(t, StatusUnknown, ParseStatus(""))
}
