package expect

import (
	"regexp"
	"strconv"
	"strings"
)

// LineSeparator 传输层的行分隔符
const LineSeparator = "\r\n"

// InferPrompt 从首屏输出的最后一行推断提示符与结束符
//
// 去掉行尾所有结束符字符与空白得到候选提示符；若与原行相同（结束符未出现），
// 改用候选的最后一个字符作为结束符并再次剥离。例如 "router>" 在默认结束符
// "#" 下得到提示符 "router"、结束符 ">"。
//
// 结束符按字符集合剥离（"#>" 会剥离任意个 '#' 与 '>'）。
func InferPrompt(lastLine, terminator string) (string, string, error) {
	raw := strings.TrimSpace(lastLine)
	if raw == "" {
		return "", terminator, ErrPromptNotFound
	}
	prompt := strings.TrimSpace(strings.TrimRight(lastLine, terminator))
	if raw == prompt {
		terminator = lastChar(prompt)
		prompt = strings.TrimRight(prompt, terminator)
	}
	if prompt == "" {
		// 整行只由结束符组成，例如单独的 "#" 或 ">"
		return "", terminator, ErrPromptNotFound
	}
	return prompt, terminator, nil
}

func lastChar(s string) string {
	r := []rune(s)
	return string(r[len(r)-1])
}

// LastLine 返回原始输出的最后一个非空行
func LastLine(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	return strings.TrimRight(lines[len(lines)-1], "\r")
}

// PromptPattern 构建完成模式：提示符后（最短跨度）跟随结束符
// 提示符按字面量匹配，"router(config)" 之类含正则元字符的提示符不会被误解析
func PromptPattern(prompt, terminator string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prompt) + ".*?" + regexp.QuoteMeta(terminator))
}

// SplitOutput 将原始输出拆分为语义行
// 不超过两行时原样返回；否则去掉首行（命令回显）与末行（新提示符），
// 若新的末行为空白行一并去掉
func SplitOutput(raw string) []string {
	lines := strings.Split(strings.TrimSpace(raw), LineSeparator)
	if len(lines) <= 2 {
		return lines
	}
	lines = lines[1 : len(lines)-1]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		return lines[:len(lines)-1]
	}
	return lines
}

// ParseStatus 解析 "echo $?" 的回显：第二行为退出码，失败返回 StatusUnknown
func ParseStatus(text string) int {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return StatusUnknown
	}
	status, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return StatusUnknown
	}
	return status
}
