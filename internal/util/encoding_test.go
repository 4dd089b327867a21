package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestEnsureUTF8BytesPassThrough(t *testing.T) {
	assert.Equal(t, "", EnsureUTF8Bytes(nil))
	assert.Equal(t, "<HUAWEI>", EnsureUTF8Bytes([]byte("<HUAWEI>")))
}

func TestEnsureUTF8BytesGBK(t *testing.T) {
	raw, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("设备版本信息"))
	require.NoError(t, err)
	assert.Equal(t, "设备版本信息", EnsureUTF8Bytes(raw))
}

func TestNewDecoder(t *testing.T) {
	raw, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("接口"))
	require.NoError(t, err)

	assert.Equal(t, "接口", NewDecoder("gb18030")(raw))
	assert.Equal(t, "接口", NewDecoder("auto")(raw))
	assert.Equal(t, string(raw), NewDecoder("utf-8")(raw))
	// 未知名称回退为自动探测
	assert.Equal(t, "接口", NewDecoder("ebcdic")(raw))
}
