package ssh

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Shell 交互式 PTY 通道
// 远端输出由 x/crypto/ssh 的拷贝协程写入内部缓冲区，
// DataReady/Read 均为非阻塞调用
type Shell struct {
	client  *Client
	session *ssh.Session
	stdin   io.WriteCloser
	width   int

	mu     sync.Mutex
	buf    bytes.Buffer
	exited bool
}

// Write 实现 io.Writer，接收远端输出
func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// IsAlive 通道与底层连接均存活
func (s *Shell) IsAlive() bool {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited {
		return false
	}
	return s.client.IsActive()
}

// Resize 调整终端高度
func (s *Shell) Resize(height int) error {
	if err := s.session.WindowChange(height, s.width); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// Send 发送原始字节
func (s *Shell) Send(p []byte) error {
	if _, err := s.stdin.Write(p); err != nil {
		return fmt.Errorf("failed to write stdin: %w", err)
	}
	return nil
}

// DataReady 是否有未读数据
func (s *Shell) DataReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len() > 0
}

// Read 读取至多 max 字节，无数据时返回 nil
func (s *Shell) Read(max int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	chunk := s.buf.Next(max)
	out := make([]byte, len(chunk))
	copy(out, chunk)
	return out
}

// Close 关闭通道，不影响底层连接
func (s *Shell) Close() error {
	_ = s.stdin.Close()
	return s.session.Close()
}
