package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/sshcollectorpro/sshexpect/addone/interact/platforms/cisco_ios"
	"github.com/sshcollectorpro/sshexpect/addone/interact"
	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/internal/database"
	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
	"github.com/sshcollectorpro/sshexpect/simulate"
)

func startSimulator(t *testing.T) *simulate.Server {
	t.Helper()
	srv, err := simulate.NewServer(&simulate.Config{
		Password: "nova",
		DeviceType: map[string]simulate.DeviceTypeConfig{
			"cisco_ios": {
				PromptSuffix: "#",
				Commands: map[string]string{
					"show version": "Cisco IOS Software, Version 15.2",
					"show clock":   "*10:00:00.000 UTC",
				},
			},
		},
		DeviceName: map[string]simulate.DeviceNameConfig{
			"r1": {DeviceType: "cisco_ios"},
			"r2": {DeviceType: "cisco_ios"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func testRunnerConfig(dir string) *config.Config {
	return &config.Config{
		Expect: config.ExpectConfig{
			WaitTimeout:    50 * time.Millisecond,
			ConnectTimeout: 2 * time.Second,
			CommandTimeout: 3 * time.Second,
			SettleWait:     100 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
		},
		SSH:    config.SSHConfig{DialTimeout: 2 * time.Second, AuthTimeout: 2 * time.Second},
		Pool:   config.PoolConfig{MaxActive: 4},
		Runner: config.RunnerConfig{Concurrent: 2},
		Storage: config.StorageConfig{
			Backend: "local",
			Local:   config.LocalConfig{BaseDir: dir, MkdirIfMissing: true},
		},
	}
}

func TestRunnerRunsTargetsConcurrently(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulator test in short mode")
	}
	srv := startSimulator(t)
	dir := t.TempDir()
	cfg := testRunnerConfig(dir)

	require.NoError(t, database.InitSQLite(config.SQLiteConfig{Path: filepath.Join(dir, "runner.db")}))
	defer database.Close()

	pool := expect.NewPool(cfg.SessionPoolConfig())
	defer pool.Close()
	runner := NewRunner(cfg, pool, NewStorageWriter(cfg))

	status := true
	resp, err := runner.Run(context.Background(), RunRequest{
		Targets: []Target{
			{Name: "r1", Host: "127.0.0.1", Port: srv.Port(), Username: "r1", Password: "nova"},
			{Name: "r2", Host: "127.0.0.1", Port: srv.Port(), Username: "r2", Password: "nova",
				Commands: []string{"show clock", "reload"}},
			{Name: "bad", Host: "127.0.0.1", Port: srv.Port(), Username: "r3", Password: "wrong"},
		},
		Commands:       []string{"show version"},
		ReturnStatus:   &status,
		SaveTranscript: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Status)
	require.Len(t, resp.Results, 3)

	r1 := resp.Results[0]
	assert.True(t, r1.Success)
	assert.Equal(t, "r1", r1.Prompt)
	require.Len(t, r1.Commands, 1)
	assert.Equal(t, []string{"Cisco IOS Software, Version 15.2"}, r1.Commands[0].Lines)
	assert.Equal(t, 0, r1.Commands[0].Status)

	r2 := resp.Results[1]
	require.Len(t, r2.Commands, 2)
	assert.Equal(t, 127, r2.Commands[1].Status)
	require.True(t, strings.HasPrefix(r2.Transcript, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(r2.Transcript, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "r2# show clock\n*10:00:00.000 UTC\n")

	assert.False(t, resp.Results[2].Success)
	assert.Contains(t, resp.Results[2].Error, "failed to connect")

	records, err := database.ListRecords(database.RecordQuery{RunID: resp.RunID})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	run, err := database.GetRun(resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 1, run.Failed)

	// 会话归还池中后可复用
	assert.Equal(t, 2, pool.Stats().Idle)
}

func TestRunnerPlatformSetup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulator test in short mode")
	}
	srv := startSimulator(t)
	cfg := testRunnerConfig(t.TempDir())
	pool := expect.NewPool(cfg.SessionPoolConfig())
	defer pool.Close()

	resp, err := NewRunner(cfg, pool, nil).Run(context.Background(), RunRequest{
		Targets: []Target{{Host: "127.0.0.1", Port: srv.Port(), Username: "r1", Password: "nova",
			Platform: "cisco_ios", Commands: []string{"show clock"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	// 关闭分页的准备命令不计入结果
	require.Len(t, resp.Results[0].Commands, 1)
	assert.Equal(t, "show clock", resp.Results[0].Commands[0].Command)
	assert.Equal(t, []string{"*10:00:00.000 UTC"}, resp.Results[0].Commands[0].Lines)
	assert.Empty(t, resp.Results[0].Transcript)
}

func TestRunnerValidation(t *testing.T) {
	runner := NewRunner(testRunnerConfig(t.TempDir()), nil, nil)
	_, err := runner.Run(context.Background(), RunRequest{})
	assert.ErrorContains(t, err, "no targets")

	_, err = runner.Run(context.Background(), RunRequest{Targets: []Target{{Host: "10.0.0.1"}}})
	assert.ErrorContains(t, err, "no commands")

	_, err = runner.Run(context.Background(), RunRequest{Targets: []Target{{Commands: []string{"x"}}}})
	assert.ErrorContains(t, err, "host is required")
}

type lostSource struct {
	discarded int
	released  int
}

func (l *lostSource) Get(ctx context.Context, info *sshc.ConnectionInfo) (*expect.Session, error) {
	// 未连接的会话：发送时通道不存在且重连失败
	return expect.NewSession(info, expect.Options{
		Dialer: expect.DialerFunc(func(ctx context.Context, info *sshc.ConnectionInfo) (expect.Conn, error) {
			return nil, assert.AnError
		}),
		WaitTimeout:    time.Millisecond,
		ConnectTimeout: time.Millisecond,
	}), nil
}

func (l *lostSource) Release(*expect.Session) { l.released++ }
func (l *lostSource) Discard(*expect.Session) { l.discarded++ }

func TestRunnerDiscardsLostSessions(t *testing.T) {
	src := &lostSource{}
	runner := NewRunner(testRunnerConfig(t.TempDir()), src, nil)
	resp, err := runner.Run(context.Background(), RunRequest{
		Targets:  []Target{{Host: "10.0.0.1", Username: "admin"}},
		Commands: []string{"show version", "show clock"},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.Status)
	require.Len(t, resp.Results[0].Commands, 1)
	assert.Contains(t, resp.Results[0].Commands[0].Error, expect.ErrConnectionLost.Error())
	assert.Equal(t, 1, src.discarded)
	assert.Equal(t, 0, src.released)
}

func TestRunnerUpdateConfigConcurrently(t *testing.T) {
	cfg := testRunnerConfig(t.TempDir())
	runner := NewRunner(cfg, &lostSource{}, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			next := testRunnerConfig("")
			next.Runner.Concurrent = i%4 + 1
			next.Runner.ReturnStatus = i%2 == 0
			runner.UpdateConfig(next)
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := runner.Run(context.Background(), RunRequest{
			Targets:  []Target{{Host: "10.0.0.1", Username: "admin"}},
			Commands: []string{"show clock"},
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	// 调用方修改原配置不影响已生效的执行参数
	cfg.Runner.Concurrent = 99
	runner.UpdateConfig(testRunnerConfig(""))
	assert.Equal(t, 2, runner.settings.Load().Concurrent)
}

type recordingPlugin struct {
	interact.DefaultPlugin
	got map[string]interface{}
}

func (p *recordingPlugin) TransformCommands(in interact.CommandTransformInput) interact.CommandTransformOutput {
	p.got = in.Metadata
	return interact.WithPaging(in, "terminal length 0")
}

func TestRunnerPassesTargetMetadata(t *testing.T) {
	plugin := &recordingPlugin{}
	interact.Register("recording_test", plugin)

	src := &lostSource{}
	resp, err := NewRunner(testRunnerConfig(""), src, nil).Run(context.Background(), RunRequest{
		Targets: []Target{{Host: "10.0.0.1", Username: "admin", Platform: "recording_test",
			Metadata: map[string]interface{}{"paging": true}}},
		Commands: []string{"show run"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"paging": true}, plugin.got)
	// 保留分页时不发送准备命令，首条即用户命令
	require.Len(t, resp.Results[0].Commands, 1)
	assert.Equal(t, "show run", resp.Results[0].Commands[0].Command)
	assert.Equal(t, 1, src.discarded)
}
