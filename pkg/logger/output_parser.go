package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 命令输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
}

// ParseOutputLines 提取头部与尾部各至多 maxLines 行
func ParseOutputLines(lines []string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}
	total := len(lines)
	if total == 0 {
		return OutputLines{}
	}

	headCount := maxLines
	if headCount > total {
		headCount = total
	}
	head := make([]string, headCount)
	copy(head, lines[:headCount])

	// 行数不超过 maxLines 时头尾相同
	if total <= maxLines {
		tail := make([]string, headCount)
		copy(tail, head)
		return OutputLines{HeadLines: head, TailLines: tail}
	}
	tail := make([]string, maxLines)
	copy(tail, lines[total-maxLines:])
	return OutputLines{HeadLines: head, TailLines: tail}
}

// FormatOutputLines 格式化为单行字符串，用于日志记录
func FormatOutputLines(lines OutputLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 && !equalLines(lines.HeadLines, lines.TailLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DebugCommandOutput 在 debug 级别记录命令响应的 head/tail 行
func DebugCommandOutput(command string, lines []string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}
	parsed := ParseOutputLines(lines, maxLines)
	if len(parsed.HeadLines) == 0 {
		return
	}
	Debugf("Command echo [%s] (%d lines): %s", command, len(lines), FormatOutputLines(parsed))
}
