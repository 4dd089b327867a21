package expect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/sshexpect/internal/util"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// Options 会话参数，零值字段使用默认值
type Options struct {
	Terminator string
	// WaitTimeout/ConnectTimeout 为 Reconnect 使用的重试间隔与总时长
	WaitTimeout    time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	SettleWait     time.Duration
	PTYHeight      int
	PollInterval   time.Duration
	// Encoding 设备输出编码，见 util.NewDecoder
	Encoding string
	// Dialer 为 nil 时使用 SSHDialer
	Dialer Dialer
	SSH    *sshc.Config
}

// Session 一条到远程交互式 Shell 的逻辑连接
//
// Session 不支持并发调用：Connect/Send/Disconnect 都会修改通道与提示符状态。
type Session struct {
	info   *sshc.ConnectionInfo
	opts   Options
	dialer Dialer
	sync   *Synchronizer

	terminator string
	prompt     string
	conn       Conn
	channel    Channel
	connected  bool
}

// NewSession 创建会话，不建立连接
func NewSession(info *sshc.ConnectionInfo, opts Options) *Session {
	if opts.Terminator == "" {
		opts.Terminator = DefaultTerminator
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.SettleWait <= 0 {
		opts.SettleWait = DefaultSettleWait
	}
	if opts.PTYHeight <= 0 {
		opts.PTYHeight = DefaultPTYHeight
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = SSHDialer{Config: opts.SSH}
	}
	return &Session{
		info:   info,
		opts:   opts,
		dialer: dialer,
		sync: &Synchronizer{
			PollInterval: opts.PollInterval,
			ChunkSize:    DefaultChunkSize,
			Decode:       util.NewDecoder(opts.Encoding),
		},
		terminator: opts.Terminator,
	}
}

// Prompt 已发现的提示符
func (s *Session) Prompt() string { return s.prompt }

// Terminator 当前结束符
func (s *Session) Terminator() string { return s.terminator }

// Info 连接参数
func (s *Session) Info() *sshc.ConnectionInfo { return s.info }

func (s *Session) log() *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"host": s.info.Host,
		"port": s.info.Port,
		"user": s.info.Username,
	})
}

// Connect 建立连接并发现提示符
//
// 打开传输或通道失败直接返回 false。读取首屏或推断提示符失败时，
// 若自本次尝试开始未超过 connectTimeout，则等待 waitTimeout 后重新打开连接再试。
func (s *Session) Connect(ctx context.Context, waitTimeout, connectTimeout time.Duration) bool {
	start := time.Now()
	for {
		if err := s.open(ctx); err != nil {
			s.log().Errorf("Unable to connect to %s with user %s: %v", s.info.Address(), s.info.Username, err)
			return false
		}

		output, err := s.discoverPrompt(ctx)
		if err == nil {
			s.connected = true
			s.log().WithFields(logrus.Fields{
				"prompt":     s.prompt,
				"terminator": s.terminator,
			}).Info("Session connected")
			return true
		}

		s.log().Warnf("Error while connecting %q: %v", output, err)
		s.Disconnect()
		if time.Since(start) > connectTimeout {
			return false
		}
		if err := sleepCtx(ctx, waitTimeout); err != nil {
			return false
		}
	}
}

// open 打开传输与交互通道，替换旧的连接
func (s *Session) open(ctx context.Context) error {
	s.Disconnect()
	conn, err := s.dialer.Dial(ctx, s.info)
	if err != nil {
		return err
	}
	ch, err := conn.OpenChannel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	s.conn = conn
	s.channel = ch
	return nil
}

// discoverPrompt 读取通道打开后的首屏输出并推断提示符
func (s *Session) discoverPrompt(ctx context.Context) (string, error) {
	res, err := s.sync.Execute(ctx, s.channel, Command{
		Wait:    s.opts.SettleWait,
		Timeout: s.opts.CommandTimeout,
	}, nil)
	if err != nil {
		return res.Output, err
	}

	if err := s.channel.Resize(s.opts.PTYHeight); err != nil {
		s.log().Warnf("Resize pty failed: %v", err)
	}

	if strings.TrimSpace(res.Output) == "" {
		return res.Output, fmt.Errorf("%w: empty output", ErrPromptNotFound)
	}
	prompt, terminator, err := InferPrompt(LastLine(res.Output), s.opts.Terminator)
	if err != nil {
		return res.Output, err
	}
	s.prompt = prompt
	s.terminator = terminator
	return res.Output, nil
}

// Disconnect 关闭连接，可重复调用
func (s *Session) Disconnect() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log().Debugf("Close connection: %v", err)
		}
		s.conn = nil
	}
	s.channel = nil
	s.connected = false
}

// Alive 传输连接存在且处于活动状态，不产生副作用
func (s *Session) Alive() bool {
	return s.conn != nil && s.conn.IsActive()
}

// Reconnect 按会话配置的超时重新连接
func (s *Session) Reconnect(ctx context.Context) bool {
	return s.Connect(ctx, s.opts.WaitTimeout, s.opts.ConnectTimeout)
}

// IsConnected 检查连接；reconnect 为 true 且连接不可用时重新连接，
// 可能替换提示符与通道
func (s *Session) IsConnected(ctx context.Context, reconnect bool) bool {
	s.connected = s.Alive()
	if !s.connected && reconnect {
		s.Reconnect(ctx)
	}
	return s.connected
}

type sendOptions struct {
	wait          time.Duration
	waitForPrompt bool
	prompt        string
	timeout       time.Duration
}

// SendOption Send 的可选参数
type SendOption func(*sendOptions)

// WithWait 无提示符等待时的静置时间
func WithWait(d time.Duration) SendOption {
	return func(o *sendOptions) { o.wait = d }
}

// WithoutPrompt 不等待提示符，静置后排空输出
func WithoutPrompt() SendOption {
	return func(o *sendOptions) { o.waitForPrompt = false }
}

// WithPrompt 覆盖本次调用使用的提示符
func WithPrompt(prompt string) SendOption {
	return func(o *sendOptions) { o.prompt = prompt }
}

// WithTimeout 覆盖本次调用的命令超时
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// Send 发送命令并返回去掉回显与提示符后的输出行
func (s *Session) Send(ctx context.Context, cmd string, opts ...SendOption) ([]string, error) {
	lines, _, err := s.send(ctx, cmd, false, opts)
	return lines, err
}

// SendStatus 同 Send，并通过 "echo $?" 探测退出码，无法解析时为 StatusUnknown
func (s *Session) SendStatus(ctx context.Context, cmd string, opts ...SendOption) ([]string, int, error) {
	return s.send(ctx, cmd, true, opts)
}

func (s *Session) send(ctx context.Context, cmd string, status bool, opts []SendOption) ([]string, int, error) {
	o := sendOptions{wait: s.opts.SettleWait, waitForPrompt: true, prompt: s.prompt, timeout: s.opts.CommandTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c := Command{Text: strings.TrimSpace(cmd), Timeout: o.timeout, ReturnStatus: status}
	if o.waitForPrompt {
		c.Pattern = PromptPattern(o.prompt, s.terminator)
	} else {
		c.Wait = o.wait
	}

	res, err := s.ExecuteCommand(ctx, c)
	if err != nil {
		return nil, StatusUnknown, err
	}
	lines := SplitOutput(res.Output)
	logger.DebugCommandOutput(c.Text, lines, 5)
	return lines, res.Status, nil
}

// ExecuteCommand 在会话自身通道上执行，通道断开时尝试重连一次
func (s *Session) ExecuteCommand(ctx context.Context, cmd Command) (Result, error) {
	return s.ExecuteOn(ctx, nil, cmd)
}

// ExecuteOn 在指定通道上执行；ch 为 nil 时使用会话通道。
// 仅会话自身的通道会尝试重连，外部通道断开直接返回 ErrConnectionLost
func (s *Session) ExecuteOn(ctx context.Context, ch Channel, cmd Command) (Result, error) {
	var recoverFn RecoverFunc
	if ch == nil || ch == s.channel {
		ch = s.channel
		recoverFn = s.recover
	}
	res, err := s.sync.Execute(ctx, ch, cmd, recoverFn)
	if err != nil {
		s.log().WithField("command", cmd.Text).Errorf("Execute command failed: %v", err)
	}
	return res, err
}

func (s *Session) recover(ctx context.Context) (Channel, error) {
	if !s.Reconnect(ctx) {
		return nil, fmt.Errorf("reconnect to %s failed", s.info.Address())
	}
	return s.channel, nil
}
