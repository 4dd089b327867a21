package ssh

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/sshexpect/simulate"
)

func TestConnectionInfo(t *testing.T) {
	info := &ConnectionInfo{Host: "10.0.0.1", Username: "admin"}
	assert.Equal(t, "10.0.0.1:22", info.Address())
	assert.Equal(t, "admin@10.0.0.1:22", info.Key())

	info = &ConnectionInfo{Host: "fe80::1", Port: 2222, Username: "ops"}
	assert.Equal(t, "[fe80::1]:2222", info.Address())
}

func startSimulator(t *testing.T) *simulate.Server {
	t.Helper()
	srv, err := simulate.NewServer(&simulate.Config{
		Listen:   "127.0.0.1:0",
		Password: "nova",
		DeviceType: map[string]simulate.DeviceTypeConfig{
			"linux": {PromptSuffix: "$", Commands: map[string]string{"uname": "Linux"}},
		},
		DeviceName: map[string]simulate.DeviceNameConfig{
			"host1": {DeviceType: "linux"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

// readUntil 轮询 Shell 直到输出包含 want
func readUntil(t *testing.T, sh *Shell, want string) string {
	t.Helper()
	var out strings.Builder
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sh.DataReady() {
			out.Write(sh.Read(1024))
			if strings.Contains(out.String(), want) {
				return out.String()
			}
			continue
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got %q", want, out.String())
	return ""
}

func TestShellRoundTrip(t *testing.T) {
	srv := startSimulator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, &Config{Timeout: 2 * time.Second}, &ConnectionInfo{
		Host: "127.0.0.1", Port: srv.Port(), Username: "host1", Password: "nova",
	})
	require.NoError(t, err)
	assert.True(t, c.IsActive())

	sh, err := c.OpenShell()
	require.NoError(t, err)
	assert.True(t, sh.IsAlive())

	readUntil(t, sh, "host1$")
	require.NoError(t, sh.Resize(500))
	require.NoError(t, sh.Send([]byte("uname\r")))
	out := readUntil(t, sh, "Linux")
	assert.Contains(t, out, "uname")

	_ = sh.Close()
	_ = c.Close()
	assert.NoError(t, c.Close())
	assert.False(t, c.IsActive())
	assert.False(t, sh.IsAlive())
}

func TestDialRejectsBadPassword(t *testing.T) {
	srv := startSimulator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, &Config{Timeout: 2 * time.Second}, &ConnectionInfo{
		Host: "127.0.0.1", Port: srv.Port(), Username: "host1", Password: "wrong",
	})
	assert.ErrorContains(t, err, "failed to create SSH connection")
}
