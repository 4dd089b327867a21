package expect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// PoolConfig 会话池配置
type PoolConfig struct {
	MaxIdle         int           `yaml:"max_idle"`
	MaxActive       int           `yaml:"max_active"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Session         Options       `yaml:"-"`
}

// Pool 按 user@host:port 与凭据摘要复用已发现提示符的会话
type Pool struct {
	config   PoolConfig
	sessions map[string][]*pooledSession
	pending  int
	mutex    sync.Mutex
	stop     chan struct{}
	once     sync.Once
}

// pooledSession 池化的会话
type pooledSession struct {
	session  *Session
	lastUsed time.Time
	inUse    bool
	created  time.Time
}

// PoolStats 会话池统计
type PoolStats struct {
	Total     int `json:"total_sessions"`
	Active    int `json:"active_sessions"`
	Idle      int `json:"idle_sessions"`
	MaxIdle   int `json:"max_idle"`
	MaxActive int `json:"max_active"`
}

// NewPool 创建会话池并启动清理协程
func NewPool(config PoolConfig) *Pool {
	if config.MaxActive <= 0 {
		config.MaxActive = 64
	}
	if config.MaxIdle <= 0 {
		config.MaxIdle = config.MaxActive
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	p := &Pool{
		config:   config,
		sessions: make(map[string][]*pooledSession),
		stop:     make(chan struct{}),
	}
	go p.cleanup()
	return p
}

// poolKey 会话键，包含密码摘要：凭据不同的调用方不能复用彼此已认证的会话
func poolKey(info *sshc.ConnectionInfo) string {
	sum := sha256.Sum256([]byte(info.Password))
	return info.Key() + "#" + hex.EncodeToString(sum[:8])
}

// Get 获取一个空闲且存活的会话，没有则新建并连接
func (p *Pool) Get(ctx context.Context, info *sshc.ConnectionInfo) (*Session, error) {
	key := poolKey(info)

	p.mutex.Lock()
	for _, ps := range p.sessions[key] {
		if !ps.inUse && ps.session.Alive() {
			ps.inUse = true
			ps.lastUsed = time.Now()
			p.mutex.Unlock()
			return ps.session, nil
		}
	}
	active := p.activeCount() + p.pending
	if active >= p.config.MaxActive {
		p.mutex.Unlock()
		return nil, fmt.Errorf("session pool is full, active sessions: %d", active)
	}
	p.pending++
	p.mutex.Unlock()

	// 连接过程包含静置等待与提示符发现，不持锁
	s := NewSession(info, p.config.Session)
	ok := s.Connect(ctx, p.config.Session.WaitTimeout, p.config.Session.ConnectTimeout)

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pending--
	if !ok {
		return nil, fmt.Errorf("failed to connect %s", info.Key())
	}
	now := time.Now()
	p.sessions[key] = append(p.sessions[key], &pooledSession{
		session:  s,
		lastUsed: now,
		inUse:    true,
		created:  now,
	})
	return s, nil
}

// Release 归还会话
func (p *Pool) Release(s *Session) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if ps := p.find(s); ps != nil {
		ps.inUse = false
		ps.lastUsed = time.Now()
	}
}

// Discard 关闭并移出会话（例如命令返回 ErrConnectionLost 后）
func (p *Pool) Discard(s *Session) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.remove(s)
	s.Disconnect()
}

// Close 关闭会话池
func (p *Pool) Close() {
	p.once.Do(func() { close(p.stop) })

	p.mutex.Lock()
	defer p.mutex.Unlock()
	for key, list := range p.sessions {
		for _, ps := range list {
			ps.session.Disconnect()
		}
		delete(p.sessions, key)
	}
}

// Stats 获取会话池统计信息
func (p *Pool) Stats() PoolStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	total := 0
	for _, list := range p.sessions {
		total += len(list)
	}
	active := p.activeCount()
	return PoolStats{
		Total:     total,
		Active:    active,
		Idle:      total - active,
		MaxIdle:   p.config.MaxIdle,
		MaxActive: p.config.MaxActive,
	}
}

func (p *Pool) find(s *Session) *pooledSession {
	for _, ps := range p.sessions[poolKey(s.Info())] {
		if ps.session == s {
			return ps
		}
	}
	return nil
}

func (p *Pool) remove(s *Session) {
	key := poolKey(s.Info())
	list := p.sessions[key]
	for i, ps := range list {
		if ps.session == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.sessions, key)
		return
	}
	p.sessions[key] = list
}

// activeCount 获取使用中的会话数
func (p *Pool) activeCount() int {
	count := 0
	for _, list := range p.sessions {
		for _, ps := range list {
			if ps.inUse {
				count++
			}
		}
	}
	return count
}

// cleanup 定期清理过期会话
func (p *Pool) cleanup() {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.cleanupExpired()
		}
	}
}

// cleanupExpired 关闭超时空闲、已断开以及超出 MaxIdle 的空闲会话
func (p *Pool) cleanupExpired() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	var expired []*Session
	idle := 0
	for _, list := range p.sessions {
		for _, ps := range list {
			if ps.inUse {
				continue
			}
			if now.Sub(ps.lastUsed) > p.config.IdleTimeout || !ps.session.Alive() || idle >= p.config.MaxIdle {
				expired = append(expired, ps.session)
				continue
			}
			idle++
		}
	}

	for _, s := range expired {
		p.remove(s)
		s.Disconnect()
	}
	if len(expired) > 0 {
		logger.Debugf("Session pool cleaned %d sessions", len(expired))
	}
}
