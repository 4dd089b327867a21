package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevelAndFormat(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "json", Output: "console"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	// 非法级别回退为 info
	l, err = New(Config{Level: "loud"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.Level)
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func TestNewFileOutputCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "expect.log")
	l, err := New(Config{Level: "info", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	l.Info("hello")
	assert.DirExists(t, filepath.Dir(path))
	assert.FileExists(t, path)
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info"}))
	SetLevel("warn")
	assert.Equal(t, logrus.WarnLevel, GetLogger().Level)
	SetLevel("nonsense")
	assert.Equal(t, logrus.WarnLevel, GetLogger().Level)
}

func TestParseOutputLines(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e", "f", "g"}
	got := ParseOutputLines(lines, 3)
	assert.Equal(t, []string{"a", "b", "c"}, got.HeadLines)
	assert.Equal(t, []string{"e", "f", "g"}, got.TailLines)

	short := ParseOutputLines([]string{"x"}, 3)
	assert.Equal(t, short.HeadLines, short.TailLines)
	assert.Equal(t, "head-lines: [x]", FormatOutputLines(short))

	assert.Empty(t, ParseOutputLines(nil, 3).HeadLines)
}

func TestDebugCommandOutput(t *testing.T) {
	var buf bytes.Buffer
	l := GetLogger()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	DebugCommandOutput("show version", []string{"Cisco IOS"}, 5)
	assert.Contains(t, buf.String(), "show version")
	assert.Contains(t, buf.String(), "Cisco IOS")

	buf.Reset()
	l.SetLevel(logrus.InfoLevel)
	DebugCommandOutput("show version", []string{"Cisco IOS"}, 5)
	assert.Empty(t, buf.String())
}
