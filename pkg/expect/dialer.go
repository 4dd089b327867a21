package expect

import (
	"context"

	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// SSHDialer 基于 pkg/ssh 的默认传输实现
type SSHDialer struct {
	Config *sshc.Config
}

// Dial 实现 Dialer
func (d SSHDialer) Dial(ctx context.Context, info *sshc.ConnectionInfo) (Conn, error) {
	client, err := sshc.Dial(ctx, d.Config, info)
	if err != nil {
		return nil, err
	}
	return sshConn{client: client}, nil
}

type sshConn struct {
	client *sshc.Client
}

func (c sshConn) OpenChannel() (Channel, error) {
	shell, err := c.client.OpenShell()
	if err != nil {
		return nil, err
	}
	return shell, nil
}

func (c sshConn) IsActive() bool { return c.client.IsActive() }

func (c sshConn) Close() error { return c.client.Close() }
