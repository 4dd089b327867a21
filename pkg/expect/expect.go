// Package expect 在交互式远程 Shell 上执行命令：发送命令后轮询通道输出，
// 直到提示符（或调用方给定的模式）再次出现，返回其间的输出。
//
// 提示符无法预先配置（随设备、系统而异），Session.Connect 会读取登录后的
// 首屏输出并从最后一行推断提示符与结束符。
package expect

import (
	"context"
	"errors"
	"time"

	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

const (
	// DefaultTerminator 提示符默认结束符
	DefaultTerminator = "#"
	// DefaultWaitTimeout Connect 重试间隔
	DefaultWaitTimeout = 10 * time.Second
	// DefaultConnectTimeout Connect 重试总时长
	DefaultConnectTimeout = 180 * time.Second
	// DefaultCommandTimeout 单条命令超时
	DefaultCommandTimeout = 60 * time.Second
	// DefaultSettleWait 无模式发送时的静置等待
	DefaultSettleWait = 2 * time.Second
	// DefaultPTYHeight 连接后调整的终端高度，避免长输出分页
	DefaultPTYHeight = 500
	// DefaultPollInterval 轮询粒度
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultChunkSize 单次读取上限
	DefaultChunkSize = 1024
	// StatusUnknown 退出码无法解析
	StatusUnknown = -1
)

var (
	// ErrConnectionLost 通道已断开且重连失败
	ErrConnectionLost = errors.New("connection has been lost")
	// ErrPromptNotFound 首屏输出中无法推断提示符
	ErrPromptNotFound = errors.New("prompt not found")
)

// Channel 交互式字节通道
type Channel interface {
	IsAlive() bool
	Resize(height int) error
	Send(p []byte) error
	// DataReady 非阻塞
	DataReady() bool
	// Read 非阻塞，仅在 DataReady 为 true 时调用
	Read(max int) []byte
}

// Conn 已认证的传输连接
type Conn interface {
	OpenChannel() (Channel, error)
	IsActive() bool
	Close() error
}

// Dialer 建立传输连接
type Dialer interface {
	Dial(ctx context.Context, info *sshc.ConnectionInfo) (Conn, error)
}

// DialerFunc 函数形式的 Dialer
type DialerFunc func(ctx context.Context, info *sshc.ConnectionInfo) (Conn, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, info *sshc.ConnectionInfo) (Conn, error) {
	return f(ctx, info)
}

// sleepCtx 等待 d，ctx 取消时提前返回错误
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
