package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// 自动探测时依次尝试的编码：国产设备常见 GB18030/GBK，其次繁体与西欧编码
var autoEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
	charmap.Windows1252,
}

var namedEncodings = map[string]encoding.Encoding{
	"gb18030": simplifiedchinese.GB18030,
	"gbk":     simplifiedchinese.GBK,
	"gb2312":  simplifiedchinese.HZGB2312,
	"big5":    traditionalchinese.Big5,
	"latin1":  charmap.ISO8859_1,
	"cp1252":  charmap.Windows1252,
}

// Decoder 将设备输出字节转换为 UTF-8 字符串
type Decoder func([]byte) string

// NewDecoder 按名称返回解码器；"", "auto" 为自动探测，"utf-8"/"utf8" 原样返回
func NewDecoder(name string) Decoder {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "auto":
		return EnsureUTF8Bytes
	case "utf-8", "utf8":
		return func(b []byte) string { return string(b) }
	}
	enc, ok := namedEncodings[n]
	if !ok {
		return EnsureUTF8Bytes
	}
	return func(b []byte) string {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
		return string(b)
	}
}

// EnsureUTF8Bytes 已是合法 UTF-8 则原样返回，否则依次尝试常见旧编码，
// 全部失败时直接按字节转换
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range autoEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
