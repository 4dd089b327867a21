package expect

import (
	"context"
	"errors"
	"strings"
	"sync"

	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// fakeChannel 按命令回放脚本化输出；每次 Read 至多返回一个排队分片
type fakeChannel struct {
	mu        sync.Mutex
	alive     bool
	replies   map[string][]string
	pending   []string
	sent      []string
	heights   []int
	reads     int
	sendError error
}

func newFakeChannel(replies map[string][]string) *fakeChannel {
	return &fakeChannel{alive: true, replies: replies}
}

func (c *fakeChannel) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeChannel) Resize(height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heights = append(c.heights, height)
	return nil
}

func (c *fakeChannel) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendError != nil {
		return c.sendError
	}
	cmd := string(p)
	c.sent = append(c.sent, cmd)
	c.pending = append(c.pending, c.replies[strings.TrimSuffix(cmd, "\r")]...)
	return nil
}

func (c *fakeChannel) DataReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

func (c *fakeChannel) Read(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	c.reads++
	head := c.pending[0]
	if len(head) > max {
		c.pending[0] = head[max:]
		return []byte(head[:max])
	}
	c.pending = c.pending[1:]
	return []byte(head)
}

func (c *fakeChannel) push(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, chunks...)
}

func (c *fakeChannel) sentCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeConn struct {
	ch     *fakeChannel
	active bool
	closed int
}

func (c *fakeConn) OpenChannel() (Channel, error) { return c.ch, nil }

func (c *fakeConn) IsActive() bool { return c.active }

func (c *fakeConn) Close() error {
	c.closed++
	c.active = false
	return nil
}

// fakeDialer 依次返回预设连接，用尽后返回错误
type fakeDialer struct {
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, info *sshc.ConnectionInfo) (Conn, error) {
	if d.dials >= len(d.conns) {
		d.dials++
		return nil, errors.New("dial tcp: connection refused")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

// deviceReplies 一台 Cisco 风格设备的脚本
func deviceReplies(prompt string) map[string][]string {
	return map[string][]string{
		"":             {"\r\nWelcome to the lab\r\n\r\n" + prompt},
		"show version": {"show version\r\nCisco IOS Software\r\n" + prompt},
		"show clock":   {"show clock\r\n*10:00:00 UTC\r\n\r\n" + prompt},
		"echo $?":      {"echo $?\r\n0\r\n" + prompt},
	}
}

func testInfo() *sshc.ConnectionInfo {
	return &sshc.ConnectionInfo{Host: "192.0.2.1", Port: 22, Username: "admin", Password: "secret"}
}
