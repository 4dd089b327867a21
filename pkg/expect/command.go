package expect

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sshcollectorpro/sshexpect/internal/util"
)

// Command 一次命令调用
type Command struct {
	Text string
	// Pattern 完成模式；nil 表示排空当前可读数据后即返回
	Pattern *regexp.Regexp
	// Wait 发送后、首次读取前的静置等待
	Wait time.Duration
	// Timeout 等待首批数据与等待模式匹配各自的上限，<=0 使用 DefaultCommandTimeout
	Timeout time.Duration
	// ReturnStatus 追加 "echo $?" 探测退出码
	ReturnStatus bool
}

// Result 命令结果
type Result struct {
	Output string
	Status int
}

// RecoverFunc 通道断开时的恢复回调，返回可用的新通道
type RecoverFunc func(ctx context.Context) (Channel, error)

// Synchronizer 发送命令并轮询通道直到完成条件满足或超时
type Synchronizer struct {
	PollInterval time.Duration
	ChunkSize    int
	Decode       util.Decoder
}

// NewSynchronizer 使用默认轮询参数
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		PollInterval: DefaultPollInterval,
		ChunkSize:    DefaultChunkSize,
		Decode:       util.EnsureUTF8Bytes,
	}
}

func (s *Synchronizer) interval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}

func (s *Synchronizer) chunk() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

func (s *Synchronizer) decode(b []byte) string {
	if s.Decode == nil {
		return util.EnsureUTF8Bytes(b)
	}
	return s.Decode(b)
}

// Execute 在 ch 上执行 cmd
//
// 通道不可用时调用一次 recoverFn（nil 则直接失败），仍不可用返回 ErrConnectionLost，
// 且不会发送任何数据。超时不视为错误：返回已捕获的部分输出。
func (s *Synchronizer) Execute(ctx context.Context, ch Channel, cmd Command, recoverFn RecoverFunc) (Result, error) {
	result := Result{}

	if ch == nil || !ch.IsAlive() {
		if recoverFn == nil {
			return result, ErrConnectionLost
		}
		next, err := recoverFn(ctx)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if next == nil || !next.IsAlive() {
			return result, ErrConnectionLost
		}
		ch = next
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	if err := ch.Send([]byte(cmd.Text + "\r")); err != nil {
		return result, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if cmd.Wait > 0 {
		if err := sleepCtx(ctx, cmd.Wait); err != nil {
			return result, err
		}
	}

	ready, err := s.waitReady(ctx, ch, timeout)
	if err != nil || !ready {
		return result, err
	}

	var buf []byte
	if cmd.Pattern != nil {
		start := time.Now()
		matched := cmd.Pattern.MatchString(s.decode(buf))
		for !matched && time.Since(start) < timeout {
			if err := sleepCtx(ctx, s.interval()); err != nil {
				result.Output = s.decode(buf)
				return result, err
			}
			if ch.DataReady() {
				buf = append(buf, ch.Read(s.chunk())...)
			}
			matched = cmd.Pattern.MatchString(s.decode(buf))
		}
	} else {
		var err error
		if buf, err = s.drain(ctx, ch, buf); err != nil {
			result.Output = s.decode(buf)
			return result, err
		}
	}
	result.Output = s.decode(buf)

	if cmd.ReturnStatus {
		status, err := s.probeStatus(ctx, ch, timeout)
		if err != nil {
			return result, err
		}
		result.Status = status
	}
	return result, nil
}

// waitReady 轮询直到通道有数据；超时返回 false
func (s *Synchronizer) waitReady(ctx context.Context, ch Channel, timeout time.Duration) (bool, error) {
	start := time.Now()
	for !ch.DataReady() {
		if err := sleepCtx(ctx, s.interval()); err != nil {
			return false, err
		}
		if time.Since(start) > timeout {
			return false, nil
		}
	}
	return true, nil
}

// drain 读取当前所有可读数据，每次读取前等待一个轮询间隔
func (s *Synchronizer) drain(ctx context.Context, ch Channel, buf []byte) ([]byte, error) {
	for ch.DataReady() {
		if err := sleepCtx(ctx, s.interval()); err != nil {
			return buf, err
		}
		buf = append(buf, ch.Read(s.chunk())...)
	}
	return buf, nil
}

// probeStatus 发送 "echo $?" 并解析第二行作为退出码
func (s *Synchronizer) probeStatus(ctx context.Context, ch Channel, timeout time.Duration) (int, error) {
	if err := ch.Send([]byte("echo $?\r")); err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	ready, err := s.waitReady(ctx, ch, timeout)
	if err != nil {
		return StatusUnknown, err
	}
	if !ready {
		return StatusUnknown, nil
	}
	out, err := s.drain(ctx, ch, nil)
	if err != nil {
		return StatusUnknown, err
	}
	return ParseStatus(s.decode(out)), nil
}
