package expect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(d *fakeDialer, maxActive int) *Pool {
	return NewPool(PoolConfig{
		MaxActive:       maxActive,
		IdleTimeout:     time.Hour,
		CleanupInterval: time.Hour,
		Session:         fastOptions(d),
	})
}

func TestPoolReusesReleasedSession(t *testing.T) {
	conn := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	d := &fakeDialer{conns: []*fakeConn{conn}}
	p := newTestPool(d, 2)
	defer p.Close()

	s1, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	assert.Equal(t, "router", s1.Prompt())
	p.Release(s1)

	s2, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, d.dials)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
}

func TestPoolSeparatesCredentials(t *testing.T) {
	first := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	second := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	d := &fakeDialer{conns: []*fakeConn{first, second}}
	p := newTestPool(d, 4)
	defer p.Close()

	s1, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	p.Release(s1)

	// 同一用户、不同密码必须重新认证
	other := testInfo()
	other.Password = "guess"
	s2, err := p.Get(context.Background(), other)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, d.dials)

	p.Release(s2)
	s3, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	assert.Same(t, s1, s3)
	assert.Equal(t, 2, d.dials)
	assert.Equal(t, 2, p.Stats().Total)
}

func TestPoolFull(t *testing.T) {
	conn := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	p := newTestPool(&fakeDialer{conns: []*fakeConn{conn}}, 1)
	defer p.Close()

	_, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	_, err = p.Get(context.Background(), testInfo())
	assert.ErrorContains(t, err, "session pool is full")
}

func TestPoolConnectFailure(t *testing.T) {
	p := newTestPool(&fakeDialer{}, 1)
	defer p.Close()

	_, err := p.Get(context.Background(), testInfo())
	assert.ErrorContains(t, err, "failed to connect")
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPoolDiscardAndCleanup(t *testing.T) {
	first := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	second := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	p := newTestPool(&fakeDialer{conns: []*fakeConn{first, second}}, 4)
	defer p.Close()

	s, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	p.Discard(s)
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 0, p.Stats().Total)

	s, err = p.Get(context.Background(), testInfo())
	require.NoError(t, err)
	p.Release(s)
	// 断开的空闲会话被清理
	second.active = false
	p.cleanupExpired()
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPoolClose(t *testing.T) {
	conn := &fakeConn{ch: newFakeChannel(deviceReplies("router#")), active: true}
	p := newTestPool(&fakeDialer{conns: []*fakeConn{conn}}, 1)
	_, err := p.Get(context.Background(), testInfo())
	require.NoError(t, err)

	p.Close()
	p.Close()
	assert.Equal(t, 1, conn.closed)
	assert.Equal(t, 0, p.Stats().Total)
}
