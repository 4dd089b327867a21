// Package simulate 提供一个进程内的网络设备 SSH 模拟器
//
// 用户名作为设备名称，按 device_name → device_type 解析提示符后缀、
// enable 模式与预置命令输出。用于联调与端到端测试。
package simulate

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/sshexpect/pkg/logger"
)

// Config 模拟器配置
type Config struct {
	Listen         string                      `mapstructure:"listen"`
	Password       string                      `mapstructure:"password"`
	EnablePassword string                      `mapstructure:"enable_password"`
	IdleSeconds    int                         `mapstructure:"idle_seconds"`
	MaxConn        int                         `mapstructure:"max_conn"`
	HostKeyFile    string                      `mapstructure:"host_key_file"`
	OutputDir      string                      `mapstructure:"output_dir"`
	DeviceType     map[string]DeviceTypeConfig `mapstructure:"device_type"`
	DeviceName     map[string]DeviceNameConfig `mapstructure:"device_name"`
}

// DeviceTypeConfig 设备类型
type DeviceTypeConfig struct {
	PromptSuffix       string            `mapstructure:"prompt_suffix"`
	EnableModeRequired bool              `mapstructure:"enable_mode_required"`
	EnableModeSuffix   string            `mapstructure:"enable_mode_suffix"`
	Banner             string            `mapstructure:"banner"`
	Commands           map[string]string `mapstructure:"commands"`
}

// DeviceNameConfig 设备名称到类型的映射
type DeviceNameConfig struct {
	DeviceType string `mapstructure:"device_type"`
	Hostname   string `mapstructure:"hostname"`
}

// LoadConfig 读取模拟器 YAML 配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("listen", "127.0.0.1:2222")
	v.SetDefault("password", "nova")
	v.SetDefault("enable_password", "nova")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Server 模拟器 SSH 服务
type Server struct {
	cfg      *Config
	listener net.Listener
	hostKey  ssh.Signer

	mu     sync.Mutex
	active int
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer 创建模拟器，未配置 host_key_file 时使用内存中生成的 ed25519 密钥
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.Password == "" {
		cfg.Password = "nova"
	}
	if cfg.EnablePassword == "" {
		cfg.EnablePassword = cfg.Password
	}

	var (
		signer ssh.Signer
		err    error
	)
	if cfg.HostKeyFile != "" {
		signer, err = loadOrCreateHostKey(cfg.HostKeyFile)
	} else {
		signer, err = ephemeralHostKey()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	return &Server{cfg: cfg, hostKey: signer, conns: make(map[net.Conn]struct{})}, nil
}

func ephemeralHostKey() (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// loadOrCreateHostKey 加载持久化的 RSA host key，不存在则生成，避免客户端指纹变化
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if bs, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(bs)
		if err == nil {
			logger.Debugf("Simulate: host key loaded from %s", path)
			return signer, nil
		}
		logger.Warnf("Simulate: host key parse failed, regenerating: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	logger.Infof("Simulate: host key generated at %s", path)
	return ssh.ParsePrivateKey(pemBytes)
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Infof("Simulate: listening on %s", ln.Addr())

	go s.acceptLoop()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port 实际监听端口
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop 关闭监听与所有连接
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Active 当前连接数
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnf("Simulate: accept error: %v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
			s.mu.Unlock()
			_ = conn.Close()
			logger.Warnf("Simulate: reject %s, max_conn %d exceeded", conn.RemoteAddr(), s.cfg.MaxConn)
			continue
		}
		s.active++
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			s.active--
			delete(s.conns, c)
			s.mu.Unlock()
		}(conn)
	}
}

func (s *Server) serverConfig() *ssh.ServerConfig {
	check := func(user, password string) (*ssh.Permissions, error) {
		if strings.TrimSpace(password) == s.cfg.Password {
			return nil, nil
		}
		logger.Debugf("Simulate: auth failed for %s", user)
		return nil, fmt.Errorf("access denied")
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return check(meta.User(), string(password))
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 0 {
				return nil, fmt.Errorf("access denied")
			}
			return check(meta.User(), answers[0])
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

func (s *Server) handleConn(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.serverConfig())
	if err != nil {
		logger.Debugf("Simulate: handshake with %s failed: %v", nc.RemoteAddr(), err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	dev := s.resolveDevice(conn.User())
	logger.Debugf("Simulate: %s logged in as device %s", nc.RemoteAddr(), dev.hostname)

	var wg sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newCh.Accept()
		if err != nil {
			logger.Warnf("Simulate: channel accept failed: %v", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleSession(channel, requests, dev)
		}()
	}
	wg.Wait()
}

// device 解析后的设备
type device struct {
	name     string
	hostname string
	kind     DeviceTypeConfig
}

func (s *Server) resolveDevice(user string) device {
	dev := device{
		name:     user,
		hostname: user,
		kind:     DeviceTypeConfig{PromptSuffix: ">", EnableModeSuffix: "#"},
	}
	if dn, ok := s.cfg.DeviceName[strings.ToLower(user)]; ok {
		if dn.Hostname != "" {
			dev.hostname = dn.Hostname
		}
		if dt, ok := s.cfg.DeviceType[strings.ToLower(dn.DeviceType)]; ok {
			dev.kind = dt
		}
	}
	if dev.kind.PromptSuffix == "" {
		dev.kind.PromptSuffix = ">"
	}
	return dev
}

type execPayload struct {
	Command string
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, dev device) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			sh := newShell(s.cfg, channel, dev)
			status := sh.run()
			sendExitStatus(channel, status)
			return
		case "exec":
			var payload execPayload
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			sh := newShell(s.cfg, channel, dev)
			out, status := sh.output(strings.TrimSpace(payload.Command))
			_, _ = channel.Write([]byte(out))
			sendExitStatus(channel, status)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func sendExitStatus(channel ssh.Channel, status int) {
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}
