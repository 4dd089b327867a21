package ssh

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config SSH配置
type Config struct {
	Timeout   time.Duration `yaml:"timeout"`
	KeepAlive time.Duration `yaml:"keep_alive"`
	// TermWidth 交互通道初始宽度，默认 80
	TermWidth int `yaml:"term_width"`
	// TermHeight 交互通道初始高度，默认 24
	TermHeight int `yaml:"term_height"`
}

// Client SSH客户端
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.RWMutex
	// 保存最近一次成功连接的参数，用于在会话创建失败（如 EOF）时自动重连
	info *ConnectionInfo
	// 取消保活协程
	stopKeepAlive context.CancelFunc
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Address 返回 host:port
func (i *ConnectionInfo) Address() string {
	port := i.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(i.Host, fmt.Sprintf("%d", port))
}

// Key 连接唯一键，用于连接池
func (i *ConnectionInfo) Key() string {
	return fmt.Sprintf("%s@%s", i.Username, i.Address())
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	return &Client{config: config}
}

// Dial 创建客户端并完成连接
func Dial(ctx context.Context, config *Config, info *ConnectionInfo) (*Client, error) {
	c := NewClient(config)
	if err := c.Connect(ctx, info); err != nil {
		return nil, err
	}
	return c, nil
}

// clientConfig 构建SSH配置，兼容旧设备的算法集合
func (c *Client) clientConfig(info *ConnectionInfo) *ssh.ClientConfig {
	sshConfig := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"chacha20-poly1305@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
	}

	// 同时尝试 password 与 keyboard-interactive，提高与网络设备的兼容性
	if info.Password != "" {
		sshConfig.Auth = []ssh.AuthMethod{
			ssh.Password(info.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = info.Password
				}
				return answers, nil
			}),
		}
	}
	return sshConfig
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.info = info
	address := info.Address()

	dialer := &net.Dialer{Timeout: c.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	// 握手阶段同样受 ctx 截止时间约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, c.clientConfig(info))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.connection = ssh.NewClient(sshConn, chans, reqs)

	kaCtx, cancel := context.WithCancel(context.Background())
	c.stopKeepAlive = cancel
	go c.keepAlive(kaCtx)

	return nil
}

// newSessionWithRetry 创建会话（带重试）
// 部分网络设备首次或快速连续打开会话通道可能返回
// "ssh: rejected: administratively prohibited (open failed)"，短延迟重试即可
func (c *Client) newSessionWithRetry() (*ssh.Session, error) {
	backoffs := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}
	var lastErr error
	for _, d := range backoffs {
		if d > 0 {
			time.Sleep(d)
		}
		c.mutex.RLock()
		conn := c.connection
		c.mutex.RUnlock()
		if conn == nil {
			return nil, fmt.Errorf("SSH connection not established")
		}
		sess, err := conn.NewSession()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		// 登录后短时间内打开会话返回 EOF：按保存的参数重建一次连接
		if strings.Contains(strings.ToLower(err.Error()), "eof") && c.info != nil {
			_ = c.Close()
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			_ = c.Connect(ctx, c.info)
			cancel()
			time.Sleep(200 * time.Millisecond)
		}
	}
	return nil, lastErr
}

// OpenShell 打开交互式 PTY Shell 通道
func (c *Client) OpenShell() (*Shell, error) {
	session, err := c.newSessionWithRetry()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	width, height := c.config.TermWidth, c.config.TermHeight
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}

	// 启用回显，兼容网络设备CLI；终端类型按 vt100 → xterm → ansi → dumb 回退
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, height, width, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	sh := &Shell{client: c, session: session, width: width}
	// stdout 与 stderr 合并写入同一缓冲区
	session.Stdout = sh
	session.Stderr = sh

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	sh.stdin = stdin

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	go func() {
		_ = session.Wait()
		sh.mu.Lock()
		sh.exited = true
		sh.mu.Unlock()
	}()

	return sh, nil
}

// Close 关闭SSH连接（可重复调用）
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopKeepAlive != nil {
		c.stopKeepAlive()
		c.stopKeepAlive = nil
	}
	if c.connection != nil {
		err := c.connection.Close()
		c.connection = nil
		return err
	}
	return nil
}

// IsActive 检查底层连接是否存活
func (c *Client) IsActive() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// 轻量级健康检查：发送 keepalive 请求而不创建会话，避免触发设备的会话数量限制
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃
func (c *Client) keepAlive(ctx context.Context) {
	if c.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsActive() {
				// 连接已断开，主动关闭并置空
				c.mutex.Lock()
				if c.connection != nil {
					_ = c.connection.Close()
					c.connection = nil
				}
				c.mutex.Unlock()
				return
			}
		}
	}
}
